// Package llm provides a single contract over multiple LLM providers:
// structured-output calls with schema guidance, transient-failure retry
// with exponential back-off, per-provider circuit breaking, and token
// usage accounting.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/talenthive/cvflow/pkg/config"
)

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output shape.
type Schema struct {
	Name   string `json:"name"`
	Schema []byte `json:"schema"` // JSON Schema document
}

// Usage reports token consumption for one call.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Response is the unified provider response.
type Response struct {
	OK         bool           `json:"ok"`
	ParsedJSON map[string]any `json:"parsed_json,omitempty"`
	RawText    string         `json:"raw_text,omitempty"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Usage      Usage          `json:"usage"`
	Error      string         `json:"error,omitempty"`
	Retries    int            `json:"retries,omitempty"`
}

// Provider is one LLM backend. Implementations must be cancellable via
// ctx; on timeout the upstream request may still have been billed even
// though the response was discarded.
type Provider interface {
	Name() string
	Model() string
	// SupportsSchema reports server-side schema enforcement. For
	// providers without it the schema is embedded in the system prompt
	// and the output repaired client-side.
	SupportsSchema() bool
	Call(ctx context.Context, messages []Message, schema *Schema, temperature float64, maxTokens int) (*Response, error)
}

// Manager routes structured calls to named providers with retry and
// circuit breaking.
type Manager struct {
	cfg       *config.LLMConfig
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

// SharedHTTPClient returns the process-wide HTTP client used for LLM and
// webhook traffic: one pool, at most 10 connections, 5 idle.
var sharedHTTPClient = newSharedHTTPClient(10*time.Second, 120*time.Second)

func newSharedHTTPClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			MaxConnsPerHost:     10,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// SharedHTTPClient exposes the singleton pool for the webhook and storage
// clients.
func SharedHTTPClient() *http.Client { return sharedHTTPClient }

// NewManager builds a manager with every provider that has credentials
// configured.
func NewManager(cfg *config.LLMConfig) *Manager {
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}
	m := &Manager{
		cfg:       cfg,
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	if cfg.OpenAIAPIKey != "" {
		m.register(newOpenAIProvider(cfg, sharedHTTPClient))
	}
	if cfg.GeminiAPIKey != "" {
		m.register(newGeminiProvider(cfg, sharedHTTPClient))
	}
	if cfg.AnthropicAPIKey != "" {
		m.register(newAnthropicProvider(cfg))
	}
	return m
}

// NewManagerWithProviders builds a manager over explicit providers
// (tests, custom deployments).
func NewManagerWithProviders(cfg *config.LLMConfig, providers ...Provider) *Manager {
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}
	m := &Manager{
		cfg:       cfg,
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, p := range providers {
		m.register(p)
	}
	return m
}

func (m *Manager) register(p Provider) {
	m.providers[p.Name()] = p
	m.breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-" + p.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Available returns the names of configured providers.
func (m *Manager) Available() []string {
	// Stable preference order for the progressive strategy.
	order := []string{"openai", "gemini", "anthropic"}
	var out []string
	for _, name := range order {
		if _, ok := m.providers[name]; ok {
			out = append(out, name)
		}
	}
	for name := range m.providers {
		if name != "openai" && name != "gemini" && name != "anthropic" {
			out = append(out, name)
		}
	}
	return out
}

// Has reports whether a provider is configured.
func (m *Manager) Has(name string) bool {
	_, ok := m.providers[name]
	return ok
}

// CallStructured makes a structured-output call to the named provider,
// retrying transient failures with exponential back-off. The returned
// Response is non-nil whenever err is nil; a failed call after all
// retries yields OK=false with the classified error message.
func (m *Manager) CallStructured(ctx context.Context, provider string, messages []Message, schema *Schema, temperature float64, maxTokens int) (*Response, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
	if maxTokens <= 0 {
		maxTokens = m.cfg.MaxTokens
	}

	breaker := m.breakers[provider]
	call := func(ctx context.Context) (*Response, error) {
		result, err := breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			resp, err := p.Call(callCtx, messages, schema, temperature, maxTokens)
			if err != nil {
				if callCtx.Err() == context.DeadlineExceeded {
					// The transport was closed; the upstream may have
					// completed (and billed) the request regardless.
					slog.Warn("LLM call timed out; upstream request may have been billed",
						"provider", provider, "timeout", m.cfg.Timeout)
				}
				return nil, err
			}
			if !resp.OK {
				return resp, fmt.Errorf("%s", resp.Error)
			}
			return resp, nil
		})
		if result == nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return nil, fmt.Errorf("provider %s temporarily unavailable: %w", provider, err)
			}
			return nil, err
		}
		return result.(*Response), err
	}

	resp, retries, err := retryWithBackoff(ctx, retryPolicy{
		maxRetries: m.cfg.MaxRetries,
		baseDelay:  m.cfg.BaseDelay,
		maxDelay:   m.cfg.MaxDelay,
	}, call)
	if err != nil {
		return &Response{
			OK:       false,
			Provider: provider,
			Model:    p.Model(),
			Error:    err.Error(),
			Retries:  retries,
		}, nil
	}
	resp.Retries = retries
	return resp, nil
}
