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

// geminiProvider speaks the generateContent REST API. No server-side
// schema enforcement is used; the schema rides in the system instruction
// and the output goes through client-side JSON repair.
type geminiProvider struct {
	apiKey string
	model  string
	client *http.Client
}

func newGeminiProvider(cfg *config.LLMConfig, client *http.Client) *geminiProvider {
	return &geminiProvider{apiKey: cfg.GeminiAPIKey, model: cfg.GeminiModel, client: client}
}

func (p *geminiProvider) Name() string         { return "gemini" }
func (p *geminiProvider) Model() string        { return p.model }
func (p *geminiProvider) SupportsSchema() bool { return false }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *geminiProvider) Call(ctx context.Context, messages []Message, schema *Schema, temperature float64, maxTokens int) (*Response, error) {
	var reqBody geminiRequest
	reqBody.GenerationConfig.Temperature = temperature
	reqBody.GenerationConfig.MaxOutputTokens = maxTokens

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			content := msg.Content + schemaPrompt(schema)
			reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: content}}}
		default:
			reqBody.Contents = append(reqBody.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}
	if reqBody.SystemInstruction == nil && schema != nil {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: schemaPrompt(schema)}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed geminiResponse
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
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return &Response{OK: false, Provider: p.Name(), Model: p.model, Error: "empty candidates"}, nil
	}

	var raw string
	for _, part := range parsed.Candidates[0].Content.Parts {
		raw += part.Text
	}

	out := &Response{
		OK:       true,
		Provider: p.Name(),
		Model:    p.model,
		RawText:  raw,
		Usage: Usage{
			Prompt:     parsed.UsageMetadata.PromptTokenCount,
			Completion: parsed.UsageMetadata.CandidatesTokenCount,
			Total:      parsed.UsageMetadata.TotalTokenCount,
		},
	}
	if schema != nil {
		obj, err := RepairJSON(raw)
		if err != nil {
			out.OK = false
			out.Error = fmt.Sprintf("json parse: %v", err)
			return out, nil
		}
		out.ParsedJSON = obj
	}
	return out, nil
}
