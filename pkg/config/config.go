// Package config loads and validates service configuration from the
// environment. Each concern has its own typed config struct with built-in
// defaults; Load applies env overrides on top.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object returned by Load and passed
// to component constructors.
type Config struct {
	Environment string // "production" | "development"
	HTTPPort    string
	LogLevel    string

	// Auth for the inbound API surface.
	APIKey        string
	WebhookSecret string

	AllowedOrigins []string

	// ENCRYPTION_KEY: 64 hex chars or a raw 32-byte string.
	EncryptionKey []byte

	Pipeline *PipelineConfig
	LLM      *LLMConfig
	Queue    *QueueConfig
	Storage  *StorageConfig
	Webhook  *WebhookConfig
}

// Load builds the configuration from environment variables, applying
// defaults for anything unset. Invalid values fail fast at startup.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		HTTPPort:       getEnv("HTTP_PORT", "8000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		APIKey:         os.Getenv("API_KEY"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		Pipeline:       LoadPipelineConfig(),
		LLM:            LoadLLMConfig(),
		Queue:          LoadQueueConfig(),
		Storage:        LoadStorageConfig(),
		Webhook:        LoadWebhookConfig(),
	}

	if raw := os.Getenv("ENCRYPTION_KEY"); raw != "" {
		key, err := ParseEncryptionKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
		cfg.EncryptionKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	return c.LLM.Validate()
}

// IsProduction reports whether the service runs in production mode.
// The /debug endpoint is disabled in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ParseEncryptionKey accepts a 64-hex-char key or a raw 32-byte string.
func ParseEncryptionKey(raw string) ([]byte, error) {
	if len(raw) == 64 {
		key, err := hex.DecodeString(raw)
		if err == nil {
			return key, nil
		}
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("key must be 64 hex chars or 32 bytes, got %d chars", len(raw))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are treated as seconds (matches the deployment env).
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
