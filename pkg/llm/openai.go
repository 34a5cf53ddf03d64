package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/talenthive/cvflow/pkg/config"
)

// openaiProvider speaks the chat completions API. It is the one provider
// with server-side schema enforcement (structured outputs).
type openaiProvider struct {
	apiKey string
	model  string
	client *http.Client
}

func newOpenAIProvider(cfg *config.LLMConfig, client *http.Client) *openaiProvider {
	return &openaiProvider{apiKey: cfg.OpenAIAPIKey, model: cfg.OpenAIModel, client: client}
}

func (p *openaiProvider) Name() string         { return "openai" }
func (p *openaiProvider) Model() string        { return p.model }
func (p *openaiProvider) SupportsSchema() bool { return true }

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openaiProvider) Call(ctx context.Context, messages []Message, schema *Schema, temperature float64, maxTokens int) (*Response, error) {
	reqBody := openaiRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if schema != nil {
		format, err := json.Marshal(map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schema.Name,
				"strict": false,
				"schema": json.RawMessage(schema.Schema),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal response format: %w", err)
		}
		reqBody.ResponseFormat = format
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return &Response{OK: false, Provider: p.Name(), Model: p.model, Error: msg}, nil
	}
	if len(parsed.Choices) == 0 {
		return &Response{OK: false, Provider: p.Name(), Model: p.model, Error: "empty choices"}, nil
	}

	out := &Response{
		OK:       true,
		Provider: p.Name(),
		Model:    p.model,
		RawText:  parsed.Choices[0].Message.Content,
		Usage: Usage{
			Prompt:     parsed.Usage.PromptTokens,
			Completion: parsed.Usage.CompletionTokens,
			Total:      parsed.Usage.TotalTokens,
		},
	}
	if schema != nil {
		obj, err := RepairJSON(out.RawText)
		if err != nil {
			out.OK = false
			out.Error = fmt.Sprintf("json parse: %v", err)
			return out, nil
		}
		out.ParsedJSON = obj
	}
	return out, nil
}
