package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
)

func TestContext_TextForLLM_PrefersMaskedText(t *testing.T) {
	ctx := NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	ctx.RawInput.Filename = "김철수_이력서.pdf"
	ctx.SetParsedText("이름: 김철수\n연락처: 010-1234-5678\nemail: kim@example.com\n경력사항...", "")
	ctx.ExtractPII()

	text := ctx.TextForLLM()
	assert.NotContains(t, text, "김철수")
	assert.NotContains(t, text, "010-1234-5678")
	assert.NotContains(t, text, "kim@example.com")
	assert.Contains(t, text, "[PHONE]")
	assert.Contains(t, text, "[EMAIL]")
}

func TestContext_TextForLLM_FallsBackToCleanedText(t *testing.T) {
	ctx := NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	ctx.SetParsedText("raw body", "cleaned body")
	assert.Equal(t, "cleaned body", ctx.TextForLLM())
}

func TestContext_ApplyDecision_RecordsFieldConfidence(t *testing.T) {
	ctx := NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	ctx.Decisions.Propose("name", Proposal{Agent: "pii_extractor", Value: "김철수", Confidence: 0.85})

	err := ctx.ApplyDecision("name", func(c *models.Candidate, d Decision) {
		c.Name = d.FinalValue.(string)
	})
	require.NoError(t, err)

	assert.Equal(t, "김철수", ctx.Current.Name)
	assert.InDelta(t, 0.85, ctx.Current.FieldConfidence["name"], 0.001)

	// Every surfaced field is backed by a decision with the same value.
	d, ok := ctx.Decisions.Decision("name")
	require.True(t, ok)
	assert.Equal(t, ctx.Current.Name, d.FinalValue)
}

func TestContext_OverallConfidenceIsWeightedMean(t *testing.T) {
	ctx := NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	ctx.Current.FieldConfidence = map[string]float64{
		"name":    0.9,
		"careers": 0.8,
		"skills":  1.0,
	}
	ctx.RecalculateConfidence()

	expected := (0.9*0.15 + 0.8*0.25 + 1.0*0.20) / (0.15 + 0.25 + 0.20)
	assert.InDelta(t, expected, ctx.Current.OverallConfidence, 0.01,
		"absent fields drop out of numerator and denominator")
}

func TestContext_SetRawInput_RejectsOversized(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxFileSize = 10
	ctx := NewContext(cfg, "job-1", "user-1")
	err := ctx.SetRawInput(make([]byte, 11), "big.pdf", "upload")
	assert.Error(t, err)
}

func TestContext_FinalizeReleasesRawBytes(t *testing.T) {
	ctx := NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	require.NoError(t, ctx.SetRawInput([]byte("data"), "a.pdf", "upload"))
	ctx.Finalize(models.StatusCompleted)
	assert.Nil(t, ctx.RawInput.Bytes)
	assert.Equal(t, models.StatusCompleted, ctx.Meta.Status)
}
