package config

import (
	"fmt"
	"os"
	"time"
)

// LLMConfig contains provider credentials, call limits, and the retry
// policy shared by the analyst, validator, and embedder.
type LLMConfig struct {
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Model selection per provider.
	OpenAIModel    string
	GeminiModel    string
	AnthropicModel string
	EmbeddingModel string

	// Timeouts: Timeout bounds the whole request, ConnectTimeout the dial.
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Retry policy for transient failures (timeout, 429, 5xx, network).
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	Temperature float64
	MaxTokens   int
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		OpenAIModel:    "gpt-4o-mini",
		GeminiModel:    "gemini-2.0-flash",
		AnthropicModel: "claude-3-5-haiku-latest",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        120 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       8 * time.Second,
		Temperature:    0.1,
		MaxTokens:      4000,
	}
}

// LoadLLMConfig applies env overrides to the defaults.
func LoadLLMConfig() *LLMConfig {
	cfg := DefaultLLMConfig()
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.AnthropicModel = getEnv("ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.Timeout = getEnvDuration("LLM_TIMEOUT_SECONDS", cfg.Timeout)
	cfg.ConnectTimeout = getEnvDuration("LLM_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.MaxRetries = getEnvInt("LLM_MAX_RETRIES", cfg.MaxRetries)
	cfg.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.Temperature)
	cfg.MaxTokens = getEnvInt("LLM_MAX_TOKENS", cfg.MaxTokens)
	return cfg
}

// Validate checks the retry policy bounds.
func (c *LLMConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES cannot be negative")
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("invalid LLM retry delays: base=%v max=%v", c.BaseDelay, c.MaxDelay)
	}
	return nil
}

// HasProvider reports whether credentials exist for the named provider.
func (c *LLMConfig) HasProvider(name string) bool {
	switch name {
	case "openai":
		return c.OpenAIAPIKey != ""
	case "gemini":
		return c.GeminiAPIKey != ""
	case "anthropic":
		return c.AnthropicAPIKey != ""
	}
	return false
}
