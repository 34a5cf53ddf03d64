package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talenthive/cvflow/pkg/config"
)

func TestGuardrails_LLMCallBudgets(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxLLMCallsPerStage = 2
	cfg.MaxTotalLLMCalls = 3
	g := NewGuardrailChecker(cfg)

	assert.True(t, g.AllowLLMCall("analysis"))
	assert.True(t, g.AllowLLMCall("analysis"))
	assert.False(t, g.AllowLLMCall("analysis"), "per-stage budget exhausted")

	assert.True(t, g.AllowLLMCall("validation"))
	assert.False(t, g.AllowLLMCall("validation"), "total budget exhausted")

	assert.Equal(t, 3, g.TotalLLMCalls())
	assert.Equal(t, map[string]int{"analysis": 2, "validation": 1}, g.LLMCallsByStage())
	assert.NotEmpty(t, g.Violations())
}

func TestGuardrails_RetryBudget(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxRetriesPerStage = 1
	g := NewGuardrailChecker(cfg)

	assert.True(t, g.AllowRetry("embedding"))
	assert.False(t, g.AllowRetry("embedding"))
}

func TestGuardrails_FileSize(t *testing.T) {
	g := NewGuardrailChecker(config.DefaultPipelineConfig())
	assert.True(t, g.CheckFileSize(1024))
	assert.False(t, g.CheckFileSize(51*1024*1024))
	assert.True(t, g.HasCritical())
}

func TestGuardrails_TotalCallsEqualPerStageSum(t *testing.T) {
	g := NewGuardrailChecker(config.DefaultPipelineConfig())
	for i := 0; i < 3; i++ {
		g.AllowLLMCall("analysis")
	}
	g.AllowLLMCall("validation")

	sum := 0
	for _, n := range g.LLMCallsByStage() {
		sum += n
	}
	assert.Equal(t, g.TotalLLMCalls(), sum)
}
