// Package webhook posts pipeline status updates to the configured
// callback URL with bounded retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
)

// Payload is the outbound webhook body.
type Payload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"` // processing | parsed | analyzed | completed | failed | rejected
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client posts webhooks through the shared HTTP pool.
type Client struct {
	cfg  *config.WebhookConfig
	http *http.Client
}

// NewClient creates the webhook client. A client with an empty URL is a
// no-op sender.
func NewClient(cfg *config.WebhookConfig) *Client {
	if cfg == nil {
		cfg = config.DefaultWebhookConfig()
	}
	return &Client{cfg: cfg, http: llm.SharedHTTPClient()}
}

// Notify posts the payload, retrying up to MaxRetries with back-off
// delays 1s, 2s, 4s. 4xx statuses other than 408/429 are permanent; 5xx
// and transport errors retry. Errors are logged, never propagated: a
// webhook failure must not fail the job.
func (c *Client) Notify(ctx context.Context, payload Payload) {
	if c.cfg.URL == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Webhook payload encoding failed", "job_id", payload.JobID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Second << (attempt - 1)
			select {
			case <-ctx.Done():
				slog.Warn("Webhook delivery cancelled", "job_id", payload.JobID)
				return
			case <-time.After(delay):
			}
		}

		retryable, err := c.post(ctx, body)
		if err == nil {
			slog.Debug("Webhook delivered", "job_id", payload.JobID, "status", payload.Status)
			return
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	slog.Error("Webhook delivery failed",
		"job_id", payload.JobID, "status", payload.Status, "error", lastErr)
}

// post performs one delivery attempt and classifies the failure.
func (c *Client) post(ctx context.Context, body []byte) (retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Secret", c.cfg.Secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
}
