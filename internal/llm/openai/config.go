package openai

import (
	"net/http"
	"os"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProviderName identifies the secondary provider in logs, metrics and errors.
const ProviderName = "openai"

// Config for the OpenAI adapter.
type Config struct {
	APIKey            string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL           string        // default https://api.openai.com/v1
	Variants          []string      // e.g., "gpt-4o-mini"
	Temperature       float32       // 0..2
	Timeout           time.Duration // http client timeout
	RequestsPerSecond float64       // client-side ceiling; 0 disables
}

// Adapter implements llm.Adapter against chat/completions, using the Files API
// for documents that cannot be sent inline.
type Adapter struct {
	cfg     Config
	http    *http.Client
	files   *goopenai.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewAdapter(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = []string{"gpt-4o-mini"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = httpClient

	a := &Adapter{
		cfg:   cfg,
		http:  httpClient,
		files: goopenai.NewClientWithConfig(oc),
		log:   logger.With(zap.String("component", "llm.openai")),
	}
	if cfg.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return a
}
