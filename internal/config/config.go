// Package config handles application configuration from environment variables
// and holds the runtime-mutable risk thresholds.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/propguard/riskwatch/internal/risk"
)

// Config holds all static application configuration. Risk thresholds are
// runtime-mutable and live in Runtime, not here.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Alerting
	WebhookURL     string
	WebhookTimeout time.Duration

	// Scheduler
	EvalInterval time.Duration

	// Security
	AdminSecret  string // guards the threshold-update endpoint
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultEvalInterval   = 5 * time.Minute
	DefaultWebhookTimeout = 5 * time.Second
	DefaultRateLimit      = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),
		EvalInterval:   getEnvDuration("EVAL_INTERVAL", DefaultEvalInterval),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the static configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.WebhookURL); err != nil {
			return fmt.Errorf("WEBHOOK_URL is not a valid URL: %w", err)
		}
	}
	if c.EvalInterval <= 0 {
		return fmt.Errorf("EVAL_INTERVAL must be positive")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadThresholds builds the initial risk thresholds: package defaults with
// selective environment overrides.
func LoadThresholds() risk.Thresholds {
	th := risk.DefaultThresholds()

	if v := getEnvInt64("WINDOW_SIZE", int64(th.WindowSize)); v > 0 {
		th.WindowSize = int(v)
	}
	if v := getEnvFloat("INITIAL_BALANCE", th.InitialBalance); v > 0 {
		th.InitialBalance = v
	}
	th.HFTDuration = getEnvDuration("HFT_DURATION", th.HFTDuration)
	th.LayeringSpan = getEnvDuration("LAYERING_SPAN", th.LayeringSpan)
	th.AlertScore = getEnvFloat("RISK_THRESHOLD", th.AlertScore)

	return th
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
