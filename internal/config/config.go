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

	// Payment platform settings
	PaymentPlatformAPIURL      string
	PaymentPlatformAPIUsername string
	PaymentPlatformAPIPassword string

	// Settlement settings
	PlatformFeeRateInPercentage int           // platform's cut of the consultation fee
	CaptureWindow               time.Duration // how long a charge stays capturable after authorization
	NeglectWindow               time.Duration // how long after the meeting an unconfirmed payment becomes a neglect candidate

	// Security
	AdminTokenSecret string // HMAC secret for verifying admin bearer tokens

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultFeeRate       = 30
	DefaultCaptureWindow = 59 * 24 * time.Hour // credit facilities expire 59 days after authorization
	DefaultNeglectWindow = 14 * 24 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                        getEnv("PORT", DefaultPort),
		Env:                         getEnv("ENV", DefaultEnv),
		LogLevel:                    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:                 os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PaymentPlatformAPIURL:       os.Getenv("PAYMENT_PLATFORM_API_URL"),
		PaymentPlatformAPIUsername:  os.Getenv("PAYMENT_PLATFORM_API_USERNAME"),
		PaymentPlatformAPIPassword:  os.Getenv("PAYMENT_PLATFORM_API_PASSWORD"),
		PlatformFeeRateInPercentage: int(getEnvInt64("PLATFORM_FEE_RATE_IN_PERCENTAGE", DefaultFeeRate)),
		CaptureWindow:               getEnvDuration("CAPTURE_WINDOW", DefaultCaptureWindow),
		NeglectWindow:               getEnvDuration("NEGLECT_WINDOW", DefaultNeglectWindow),
		AdminTokenSecret:            os.Getenv("ADMIN_TOKEN_SECRET"),
		OTLPEndpoint:                os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AdminTokenSecret == "" {
		return fmt.Errorf("ADMIN_TOKEN_SECRET is required")
	}

	if c.PaymentPlatformAPIURL == "" {
		return fmt.Errorf("PAYMENT_PLATFORM_API_URL is required")
	}

	if c.PaymentPlatformAPIUsername == "" {
		return fmt.Errorf("PAYMENT_PLATFORM_API_USERNAME is required")
	}

	if c.PlatformFeeRateInPercentage < 0 || c.PlatformFeeRateInPercentage > 100 {
		return fmt.Errorf("PLATFORM_FEE_RATE_IN_PERCENTAGE must be between 0 and 100")
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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
