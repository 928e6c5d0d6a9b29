package gemini

import (
	"os"
	"time"
)

// ProviderName identifies the primary provider in logs, metrics and errors.
const ProviderName = "gemini"

// Config for the Gemini adapter.
type Config struct {
	APIKey            string        // if empty, falls back to env GEMINI_API_KEY
	Endpoint          string        // optional API endpoint override (proxies, tests)
	Variants          []string      // rotation order; default fast then thorough
	Temperature       float32       // kept low for reproducible extraction
	Timeout           time.Duration // per-call default when the caller passes none
	RequestsPerSecond float64       // client-side ceiling; 0 disables
}

func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if len(c.Variants) == 0 {
		c.Variants = []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	return c
}
