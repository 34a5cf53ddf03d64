package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
)

// verdictProvider answers every verification with a fixed verdict.
type verdictProvider struct {
	name    string
	verdict map[string]any
}

func (p *verdictProvider) Name() string         { return p.name }
func (p *verdictProvider) Model() string        { return p.name + "-model" }
func (p *verdictProvider) SupportsSchema() bool { return false }

func (p *verdictProvider) Call(_ context.Context, _ []llm.Message, _ *llm.Schema, _ float64, _ int) (*llm.Response, error) {
	return &llm.Response{
		OK:         true,
		Provider:   p.name,
		ParsedJSON: p.verdict,
		Usage:      llm.Usage{Prompt: 300, Completion: 40, Total: 340},
	}, nil
}

func verifierWith(providers ...llm.Provider) *Verifier {
	cfg := config.DefaultLLMConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return NewVerifier(llm.NewManagerWithProviders(cfg, providers...))
}

func TestVerifyField_ParsesVerdict(t *testing.T) {
	v := verifierWith(&verdictProvider{name: "openai", verdict: map[string]any{
		"is_valid":             false,
		"confidence":           0.8,
		"found_in_text":        false,
		"reasoning":            "the company is not mentioned",
		"suggested_correction": "카카오",
	}})

	result, err := v.VerifyField(context.Background(), "openai", "current_company", "구글", "카카오에서 5년 근무")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
	assert.False(t, result.FoundInText)

	correction, ok := CorrectionString(result)
	require.True(t, ok)
	assert.Equal(t, "카카오", correction)
}

func TestCorrectionString_ValidFieldHasNoCorrection(t *testing.T) {
	_, ok := CorrectionString(&CheckResult{IsValid: true, SuggestedCorrection: "x"})
	assert.False(t, ok)
	_, ok = CorrectionString(&CheckResult{IsValid: false, SuggestedCorrection: nil})
	assert.False(t, ok)
}

func TestCrossVerifyField_AgreementRate(t *testing.T) {
	valid := map[string]any{"is_valid": true, "confidence": 0.9, "found_in_text": true}
	invalid := map[string]any{"is_valid": false, "confidence": 0.7, "found_in_text": false}

	v := verifierWith(
		&verdictProvider{name: "openai", verdict: valid},
		&verdictProvider{name: "gemini", verdict: valid},
		&verdictProvider{name: "anthropic", verdict: invalid},
	)

	result, err := v.CrossVerifyField(context.Background(),
		[]string{"openai", "gemini", "anthropic"}, "exp_years", 5.0, "경력 5년")
	require.NoError(t, err)
	assert.Len(t, result.Results, 3)
	assert.InDelta(t, 2.0/3.0, result.AgreementRate, 0.001)
}

func TestCrossVerifyField_RequiresTwoProviders(t *testing.T) {
	v := verifierWith(&verdictProvider{name: "openai", verdict: map[string]any{"is_valid": true}})
	_, err := v.CrossVerifyField(context.Background(), []string{"openai"}, "summary", "x", "text")
	assert.Error(t, err)
}
