package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/models"
)

// Dimensions is the fixed embedding vector size.
const Dimensions = 1536

// EmbedClient generates embedding vectors. The production implementation
// speaks the OpenAI embeddings API; tests substitute fakes.
type EmbedClient interface {
	// EmbedBatch returns one vector per input, aligned by index. A nil
	// vector slot means that input failed.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, int, error)
}

// Result summarizes one embedding run.
type Result struct {
	Chunks        []models.Chunk `json:"-"`
	EmbeddedCount int            `json:"embedded_count"`
	FailedCount   int            `json:"failed_count"`
	Tokens        int            `json:"tokens"`
	Truncated     bool           `json:"truncated"`
}

// PartialSuccess reports whether at least one chunk embedded and some
// failed. Partial success still proceeds to persistence with the failed
// chunks excluded.
func (r *Result) PartialSuccess() bool {
	return r.EmbeddedCount > 0 && r.FailedCount > 0
}

// Embedded returns only the chunks that received vectors.
func (r *Result) Embedded() []models.Chunk {
	out := make([]models.Chunk, 0, r.EmbeddedCount)
	for _, c := range r.Chunks {
		if c.Embedding != nil {
			out = append(out, c)
		}
	}
	return out
}

// Service chunks candidate records and embeds the chunks.
type Service struct {
	client EmbedClient
	cfg    *config.LLMConfig
}

// NewService creates the embedding service with the OpenAI client.
func NewService(cfg *config.LLMConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}
	return &Service{
		client: &openaiEmbedClient{
			apiKey: cfg.OpenAIAPIKey,
			model:  cfg.EmbeddingModel,
			http:   llm.SharedHTTPClient(),
		},
		cfg: cfg,
	}
}

// NewServiceWithClient injects a custom embed client (tests).
func NewServiceWithClient(client EmbedClient, cfg *config.LLMConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}
	return &Service{client: client, cfg: cfg}
}

// Process builds the chunk set for a candidate and embeds it: one batch
// first, then per-chunk exponential-backoff retries for any failures.
func (s *Service) Process(ctx context.Context, c *models.Candidate, rawText string) (*Result, error) {
	chunks, truncated := BuildChunks(c, rawText)
	if len(chunks) == 0 {
		return &Result{Truncated: truncated}, nil
	}

	inputs := make([]string, len(chunks))
	tokens := 0
	for i, chunk := range chunks {
		inputs[i] = chunk.Content
		tokens += chunk.TokenCount
	}

	vectors, usedTokens, err := s.client.EmbedBatch(ctx, inputs)
	if err != nil {
		slog.Warn("Embedding batch failed, falling back to per-chunk retries", "error", err)
		vectors = make([][]float32, len(chunks))
	}
	if usedTokens > 0 {
		tokens = usedTokens
	}

	result := &Result{Chunks: chunks, Tokens: tokens, Truncated: truncated}
	for i := range chunks {
		if i < len(vectors) && vectors[i] != nil {
			result.Chunks[i].Embedding = vectors[i]
			result.EmbeddedCount++
			continue
		}
		vector, retryErr := s.embedWithRetry(ctx, inputs[i])
		if retryErr != nil {
			slog.Warn("Chunk embedding failed after retries",
				"chunk_index", i, "chunk_type", chunks[i].Type, "error", retryErr)
			result.FailedCount++
			continue
		}
		result.Chunks[i].Embedding = vector
		result.EmbeddedCount++
	}

	if result.EmbeddedCount == 0 {
		return result, fmt.Errorf("all %d chunks failed to embed", len(chunks))
	}
	return result, nil
}

// embedWithRetry retries one input with the shared back-off policy:
// base 1s, factor 2, capped, jittered, for at most MaxRetries retries.
// The only time bound is ctx: a done context ends the wait between
// attempts.
func (s *Service) embedWithRetry(ctx context.Context, input string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.BaseDelay << (attempt - 1)
			if delay > s.cfg.MaxDelay {
				delay = s.cfg.MaxDelay
			}
			delay += time.Duration(rand.Float64() * float64(time.Second))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		vectors, _, err := s.client.EmbedBatch(ctx, []string{input})
		if err == nil && len(vectors) == 1 && vectors[0] != nil {
			return vectors[0], nil
		}
		if err == nil {
			err = fmt.Errorf("provider returned no vector")
		}
		lastErr = err
		if !llm.IsRetryable(err.Error()) {
			return nil, err
		}
	}
	return nil, lastErr
}

// openaiEmbedClient speaks POST /v1/embeddings.
type openaiEmbedClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiEmbedClient) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, int, error) {
	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, 0, fmt.Errorf("embeddings API error: %s", msg)
	}

	vectors := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(vectors) && len(item.Embedding) == Dimensions {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, parsed.Usage.TotalTokens, nil
}
