package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/talenthive/cvflow/pkg/config"
)

// anthropicProvider wraps the official SDK. Schema enforcement is not
// server-side; the schema rides in the system prompt with client-side
// repair.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(cfg *config.LLMConfig) *anthropicProvider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:  cfg.AnthropicModel,
	}
}

func (p *anthropicProvider) Name() string         { return "anthropic" }
func (p *anthropicProvider) Model() string        { return p.model }
func (p *anthropicProvider) SupportsSchema() bool { return false }

func (p *anthropicProvider) Call(ctx context.Context, messages []Message, schema *Schema, temperature float64, maxTokens int) (*Response, error) {
	var system string
	var userMessages []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = msg.Content
			continue
		}
		userMessages = append(userMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
	}
	system += schemaPrompt(schema)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Messages:    userMessages,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}

	out := &Response{
		OK:       true,
		Provider: p.Name(),
		Model:    p.model,
		RawText:  raw,
		Usage: Usage{
			Prompt:     int(msg.Usage.InputTokens),
			Completion: int(msg.Usage.OutputTokens),
			Total:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
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
