package config

import (
	"os"
	"time"
)

// StorageConfig holds the object-storage connection settings.
type StorageConfig struct {
	SupabaseURL        string
	ServiceRoleKey     string
	Bucket             string
	OperationTimeout   time.Duration
	MaxRetries         int
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Bucket:           "resumes",
		OperationTimeout: 30 * time.Second,
		MaxRetries:       3,
	}
}

// LoadStorageConfig applies env overrides to the defaults.
func LoadStorageConfig() *StorageConfig {
	cfg := DefaultStorageConfig()
	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	cfg.ServiceRoleKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg.Bucket = getEnv("STORAGE_BUCKET", cfg.Bucket)
	cfg.OperationTimeout = getEnvDuration("STORAGE_TIMEOUT_SECONDS", cfg.OperationTimeout)
	cfg.MaxRetries = getEnvInt("STORAGE_MAX_RETRIES", cfg.MaxRetries)
	return cfg
}

// WebhookConfig holds the outbound webhook settings.
type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultWebhookConfig returns the built-in webhook defaults.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// LoadWebhookConfig applies env overrides to the defaults.
func LoadWebhookConfig() *WebhookConfig {
	cfg := DefaultWebhookConfig()
	cfg.URL = os.Getenv("WEBHOOK_URL")
	cfg.Secret = os.Getenv("WEBHOOK_SECRET")
	cfg.Timeout = getEnvDuration("WEBHOOK_TIMEOUT_SECONDS", cfg.Timeout)
	cfg.MaxRetries = getEnvInt("WEBHOOK_MAX_RETRIES", cfg.MaxRetries)
	return cfg
}
