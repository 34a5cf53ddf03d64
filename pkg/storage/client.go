// Package storage downloads uploaded files from the object store
// (Supabase storage REST API). One process-wide handle exists; it is
// rebuilt by atomic swap on failure and never mutated in place.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
)

// Client downloads objects with bounded retries.
type Client struct {
	cfg  *config.StorageConfig
	http atomic.Pointer[http.Client]
}

// NewClient creates the storage client.
func NewClient(cfg *config.StorageConfig) *Client {
	if cfg == nil {
		cfg = config.DefaultStorageConfig()
	}
	c := &Client{cfg: cfg}
	c.http.Store(llm.SharedHTTPClient())
	return c
}

// Download fetches an object by bucket-relative path. Transport failures
// retry up to MaxRetries with linear back-off; after a failed attempt the
// underlying client is rebuilt by atomic swap.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	url := c.objectURL(path)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			c.rebuild()
		}

		data, retryable, err := c.fetch(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		slog.Warn("Storage download failed, retrying",
			"path", path, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("storage download %s: %w", path, lastErr)
}

func (c *Client) fetch(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.ServiceRoleKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceRoleKey)
	}

	resp, err := c.http.Load().Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("storage request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("storage HTTP %d", resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read object: %w", err)
	}
	return data, false, nil
}

// rebuild swaps in a fresh HTTP client (same shared transport limits).
func (c *Client) rebuild() {
	fresh := &http.Client{
		Timeout:   c.cfg.OperationTimeout,
		Transport: llm.SharedHTTPClient().Transport,
	}
	c.http.Store(fresh)
}

func (c *Client) objectURL(path string) string {
	base := strings.TrimSuffix(c.cfg.SupabaseURL, "/")
	clean := strings.TrimPrefix(path, "/")
	if !strings.HasPrefix(clean, c.cfg.Bucket+"/") {
		clean = c.cfg.Bucket + "/" + clean
	}
	return fmt.Sprintf("%s/storage/v1/object/%s", base, clean)
}
