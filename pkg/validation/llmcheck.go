package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/talenthive/cvflow/pkg/llm"
)

// Complex fields eligible for LLM verification.
var llmCheckedFields = []string{
	"exp_years", "current_company", "current_position", "careers", "skills", "summary",
}

// maxExcerptChars bounds the original-text excerpt sent with each check.
const maxExcerptChars = 2000

// CheckResult is the model's verdict on one field.
type CheckResult struct {
	Field               string  `json:"field"`
	IsValid             bool    `json:"is_valid"`
	Confidence          float64 `json:"confidence"`
	FoundInText         bool    `json:"found_in_text"`
	Reasoning           string  `json:"reasoning,omitempty"`
	SuggestedCorrection any     `json:"suggested_correction,omitempty"`
	Provider            string  `json:"provider,omitempty"`
	Usage               llm.Usage `json:"-"`
}

// CrossCheckResult aggregates the same check across providers.
type CrossCheckResult struct {
	Field         string        `json:"field"`
	Results       []CheckResult `json:"results"`
	AgreementRate float64       `json:"agreement_rate"`
}

var verificationSchema = &llm.Schema{
	Name: "field_verification",
	Schema: []byte(`{
  "type": "object",
  "properties": {
    "is_valid": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "found_in_text": {"type": "boolean"},
    "reasoning": {"type": "string"},
    "suggested_correction": {}
  },
  "required": ["is_valid", "confidence", "found_in_text"]
}`),
}

// Verifier runs per-field LLM verification against the source text.
type Verifier struct {
	mgr *llm.Manager
}

// NewVerifier creates a verifier over the manager.
func NewVerifier(mgr *llm.Manager) *Verifier {
	return &Verifier{mgr: mgr}
}

// VerifiableFields returns the fields the LLM layer checks.
func VerifiableFields() []string {
	return llmCheckedFields
}

// VerifyField asks one provider whether the extracted value is supported
// by the text.
func (v *Verifier) VerifyField(ctx context.Context, provider, field string, value any, sourceText string) (*CheckResult, error) {
	excerpt := sourceText
	if runes := []rune(excerpt); len(runes) > maxExcerptChars {
		excerpt = string(runes[:maxExcerptChars])
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You verify extracted résumé fields against the source text. Judge only whether the value is supported by the excerpt. If invalid, propose a correction grounded in the excerpt, or null if none exists."},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Field: %s\nExtracted value: %s\n\nSource excerpt:\n%s", field, string(encoded), excerpt)},
	}

	resp, err := v.mgr.CallStructured(ctx, provider, messages, verificationSchema, 0.0, 1024)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("verification call failed: %s", resp.Error)
	}

	result := &CheckResult{Field: field, Provider: provider, Usage: resp.Usage}
	if b, ok := resp.ParsedJSON["is_valid"].(bool); ok {
		result.IsValid = b
	}
	if f, ok := resp.ParsedJSON["confidence"].(float64); ok {
		result.Confidence = f
	}
	if b, ok := resp.ParsedJSON["found_in_text"].(bool); ok {
		result.FoundInText = b
	}
	if s, ok := resp.ParsedJSON["reasoning"].(string); ok {
		result.Reasoning = s
	}
	if c, ok := resp.ParsedJSON["suggested_correction"]; ok && c != nil {
		result.SuggestedCorrection = c
	}
	return result, nil
}

// CrossVerifyField runs the same check on every listed provider
// concurrently and reports the agreement rate on is_valid.
func (v *Verifier) CrossVerifyField(ctx context.Context, providers []string, field string, value any, sourceText string) (*CrossCheckResult, error) {
	if len(providers) < 2 {
		return nil, fmt.Errorf("cross-verification needs at least 2 providers, got %d", len(providers))
	}

	results := make([]*CheckResult, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range providers {
		g.Go(func() error {
			r, err := v.VerifyField(gctx, provider, field, value, sourceText)
			if err != nil {
				return nil // a failed verifier contributes nothing
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &CrossCheckResult{Field: field}
	validVotes := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, *r)
		if r.IsValid {
			validVotes++
		}
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("all verification providers failed for field %s", field)
	}

	majority := validVotes
	if minority := len(out.Results) - validVotes; minority > majority {
		majority = minority
	}
	out.AgreementRate = float64(majority) / float64(len(out.Results))
	return out, nil
}

// AdjustConfidence applies the ±0.1 verification adjustment, clamped to
// [0,1].
func AdjustConfidence(current float64, isValid bool) float64 {
	if isValid {
		current += 0.1
	} else {
		current -= 0.1
	}
	if current < 0 {
		return 0
	}
	if current > 1 {
		return 1
	}
	return current
}

// CorrectionString extracts a usable string correction, if any.
func CorrectionString(r *CheckResult) (string, bool) {
	if r.IsValid || r.SuggestedCorrection == nil {
		return "", false
	}
	s, ok := r.SuggestedCorrection.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}
