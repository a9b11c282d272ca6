// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	StripeAPIKey string // Required in production; demo mode uses the mock processor

	// Workflow timings
	PaymentTimeout   time.Duration // Unpaid orders cancel after this
	GracePeriod      time.Duration // Delivered orders auto-complete after this
	EscalationPeriod time.Duration // Opened disputes escalate to mediation after this

	// Evidence limits
	MaxEvidenceBytes int64

	// Security
	RateLimitRPS int
	AdminSecret  string // Guards support key provisioning

	// Observability
	OTLPEndpoint string // OTLP trace collector (optional)
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRateLimit        = 100
	DefaultPaymentTimeout   = 24 * time.Hour
	DefaultGracePeriod      = 72 * time.Hour
	DefaultEscalation       = 48 * time.Hour
	DefaultMaxEvidenceBytes = int64(10 << 20)
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:     os.Getenv("STRIPE_API_KEY"),
		PaymentTimeout:   getEnvDuration("PAYMENT_TIMEOUT", DefaultPaymentTimeout),
		GracePeriod:      getEnvDuration("GRACE_PERIOD", DefaultGracePeriod),
		EscalationPeriod: getEnvDuration("ESCALATION_PERIOD", DefaultEscalation),
		MaxEvidenceBytes: getEnvInt64("MAX_EVIDENCE_BYTES", DefaultMaxEvidenceBytes),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}

	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("GRACE_PERIOD must be positive")
	}
	if c.EscalationPeriod <= 0 {
		return fmt.Errorf("ESCALATION_PERIOD must be positive")
	}
	if c.MaxEvidenceBytes <= 0 {
		return fmt.Errorf("MAX_EVIDENCE_BYTES must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
