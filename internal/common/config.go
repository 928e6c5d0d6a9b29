package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Gemini GeminiConfig `yaml:"gemini"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Retry  RetryConfig  `yaml:"retry"`
	Ingest IngestConfig `yaml:"ingest"`
	Server ServerConfig `yaml:"server"`
	Batch  BatchConfig  `yaml:"batch"`
	Minio  MinioConfig  `yaml:"minio"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GeminiConfig holds primary provider configuration
type GeminiConfig struct {
	APIKey            string        `yaml:"apiKey"`
	Endpoint          string        `yaml:"endpoint"`
	Models            []string      `yaml:"models"` // rotation order, first is the default variant
	Temperature       float32       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"` // 0 disables client-side limiting
}

// OpenAIConfig holds secondary provider configuration
type OpenAIConfig struct {
	APIKey            string        `yaml:"apiKey"`
	BaseURL           string        `yaml:"baseURL"`
	Models            []string      `yaml:"models"`
	Temperature       float32       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// RetryBudget is the attempt budget of one provider.
type RetryBudget struct {
	MaxAttempts int `yaml:"maxAttempts"`
	// StopOnFatal ends the cycle at the first malformed/permanent failure
	// instead of rotating and retrying.
	StopOnFatal bool `yaml:"stopOnFatal"`
}

// RetryConfig holds retry/backoff configuration
type RetryConfig struct {
	BaseDelay time.Duration `yaml:"baseDelay"`
	Primary   RetryBudget   `yaml:"primary"`
	Secondary RetryBudget   `yaml:"secondary"`
}

// IngestConfig holds document ingest configuration
type IngestConfig struct {
	MaxDocumentBytes int64 `yaml:"maxDocumentBytes"`
	Concurrency      int   `yaml:"concurrency"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	CORSOrigins    []string      `yaml:"corsOrigins"`
	GRPCHealthAddr string        `yaml:"grpcHealthAddr"` // empty disables the gRPC health endpoint
}

// BatchConfig holds job queue configuration for batch and watch runs
type BatchConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queueSize"`
	JobTimeout time.Duration `yaml:"jobTimeout"`
}

// MinioConfig holds object storage configuration for stored documents
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucketName"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// StoreConfig selects the analysis run history backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres", "sqlite" or empty (disabled)
	DSN    string `yaml:"dsn"`    // postgres URL or sqlite path
}

// TelemetryConfig holds OpenTelemetry tracing configuration
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"` // host:port of an OTLP gRPC collector; empty exports to stderr
	ServiceName  string  `yaml:"serviceName"`
	SampleRate   float64 `yaml:"sampleRate"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Models:      []string{"gemini-2.5-flash", "gemini-2.5-pro"},
			Temperature: 0.1,
			Timeout:     90 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Models:      []string{"gpt-4o-mini"},
			Temperature: 0,
			Timeout:     90 * time.Second,
		},
		Retry: RetryConfig{
			BaseDelay: time.Second,
			Primary:   RetryBudget{MaxAttempts: 7},
			Secondary: RetryBudget{MaxAttempts: 4},
		},
		Ingest: IngestConfig{
			MaxDocumentBytes: 20 << 20,
			Concurrency:      1,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 64 << 20,
			RequestTimeout: 10 * time.Minute,
		},
		Batch: BatchConfig{
			Workers:    4,
			QueueSize:  256,
			JobTimeout: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "docanalyzer",
			SampleRate:  1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file at path (if any), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Gemini.APIKey = getEnv("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.Endpoint = getEnv("GEMINI_ENDPOINT", c.Gemini.Endpoint)
	c.Gemini.Models = getEnvAsList("GEMINI_MODELS", c.Gemini.Models)
	c.Gemini.Temperature = getEnvAsFloat32("GEMINI_TEMPERATURE", c.Gemini.Temperature)
	c.Gemini.Timeout = getEnvAsDuration("GEMINI_TIMEOUT", c.Gemini.Timeout)
	c.Gemini.RequestsPerSecond = getEnvAsFloat64("GEMINI_RPS", c.Gemini.RequestsPerSecond)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Models = getEnvAsList("OPENAI_MODELS", c.OpenAI.Models)
	c.OpenAI.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.OpenAI.Temperature)
	c.OpenAI.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.OpenAI.Timeout)
	c.OpenAI.RequestsPerSecond = getEnvAsFloat64("OPENAI_RPS", c.OpenAI.RequestsPerSecond)

	c.Retry.BaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.Primary.MaxAttempts = getEnvAsInt("PRIMARY_MAX_ATTEMPTS", c.Retry.Primary.MaxAttempts)
	c.Retry.Primary.StopOnFatal = getEnvAsBool("PRIMARY_STOP_ON_FATAL", c.Retry.Primary.StopOnFatal)
	c.Retry.Secondary.MaxAttempts = getEnvAsInt("SECONDARY_MAX_ATTEMPTS", c.Retry.Secondary.MaxAttempts)
	c.Retry.Secondary.StopOnFatal = getEnvAsBool("SECONDARY_STOP_ON_FATAL", c.Retry.Secondary.StopOnFatal)

	c.Ingest.MaxDocumentBytes = getEnvAsInt64("INGEST_MAX_DOCUMENT_BYTES", c.Ingest.MaxDocumentBytes)
	c.Ingest.Concurrency = getEnvAsInt("INGEST_CONCURRENCY", c.Ingest.Concurrency)

	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.MaxUploadBytes = getEnvAsInt64("HTTP_MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
	c.Server.RequestTimeout = getEnvAsDuration("HTTP_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.CORSOrigins = getEnvAsList("HTTP_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.Server.GRPCHealthAddr)

	c.Batch.Workers = getEnvAsInt("BATCH_WORKERS", c.Batch.Workers)
	c.Batch.QueueSize = getEnvAsInt("BATCH_QUEUE_SIZE", c.Batch.QueueSize)
	c.Batch.JobTimeout = getEnvAsDuration("BATCH_JOB_TIMEOUT", c.Batch.JobTimeout)

	c.Minio.Endpoint = getEnv("MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.Bucket = getEnv("MINIO_BUCKET", c.Minio.Bucket)
	c.Minio.Region = getEnv("MINIO_REGION", c.Minio.Region)
	c.Minio.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.Minio.UseSSL)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Telemetry.Enabled = getEnvAsBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.SampleRate = getEnvAsFloat64("OTEL_SAMPLE_RATE", c.Telemetry.SampleRate)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.OpenAI.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if len(c.Gemini.Models) == 0 || len(c.OpenAI.Models) == 0 {
		return NewAppError("CONFIG_ERROR", "at least one model per provider is required", ErrInvalidInput)
	}
	if c.Retry.Primary.MaxAttempts < 1 || c.Retry.Secondary.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "max attempts must be >= 1", ErrInvalidInput)
	}
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return NewAppError("CONFIG_ERROR", "STORE_DSN is required for the postgres store", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "STORE_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Retry.BaseDelay < 0 {
		return NewAppError("CONFIG_ERROR", "RETRY_BASE_DELAY must not be negative", ErrInvalidInput)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return NewAppError("CONFIG_ERROR", "OTEL_SAMPLE_RATE must be between 0 and 1", ErrInvalidInput)
	}
	return nil
}
