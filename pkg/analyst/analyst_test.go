package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/pipeline"
)

// stubProvider returns a fixed payload for every call.
type stubProvider struct {
	name    string
	payload map[string]any
	calls   int
}

func (p *stubProvider) Name() string         { return p.name }
func (p *stubProvider) Model() string        { return p.name + "-model" }
func (p *stubProvider) SupportsSchema() bool { return p.name == "openai" }

func (p *stubProvider) Call(_ context.Context, _ []llm.Message, _ *llm.Schema, _ float64, _ int) (*llm.Response, error) {
	p.calls++
	return &llm.Response{
		OK:         true,
		Provider:   p.name,
		Model:      p.Model(),
		ParsedJSON: p.payload,
		Usage:      llm.Usage{Prompt: 1000, Completion: 200, Total: 1200},
	}, nil
}

func strongPayload() map[string]any {
	return map[string]any{
		"name":  "김철수",
		"phone": "010-1234-5678",
		"email": "kim@example.com",
		"careers": []any{
			map[string]any{"company": "카카오", "position": "백엔드 개발자"},
			map[string]any{"company": "네이버"},
		},
		"skills":     []any{"Go", "PostgreSQL", "Redis"},
		"educations": []any{map[string]any{"school": "서울대학교"}},
		"summary":    "백엔드 엔지니어로 5년간 대규모 트래픽 서비스를 운영해 왔습니다.",
		"exp_years":  5.0,
	}
}

func testConfig() *config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func newTestContext(t *testing.T) *pipeline.Context {
	t.Helper()
	pctx := pipeline.NewContext(config.DefaultPipelineConfig(), "job-1", "user-1")
	pctx.SetParsedText("김철수 010-1234-5678 kim@example.com 카카오 네이버 Go PostgreSQL", "")
	return pctx
}

func TestAnalyze_ProgressiveStopsAtHighConfidence(t *testing.T) {
	a := &stubProvider{name: "openai", payload: strongPayload()}
	b := &stubProvider{name: "gemini", payload: strongPayload()}
	mgr := llm.NewManagerWithProviders(testConfig(), a, b)

	pipelineCfg := config.DefaultPipelineConfig()
	pipelineCfg.UseParallelLLM = false
	analyst := New(mgr, pipelineCfg)

	result, err := analyst.Analyze(context.Background(), newTestContext(t), config.ModePhase1)
	require.NoError(t, err)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls, "confident first pass must not escalate")
	assert.Equal(t, []string{"openai"}, result.ProvidersUsed)
	assert.Equal(t, "김철수", result.Data.Name)
	assert.GreaterOrEqual(t, result.OverallConfidence, 0.85)
}

func TestAnalyze_ProgressiveEscalatesOnWeakPass(t *testing.T) {
	weak := map[string]any{
		"name":    "김철수",
		"careers": []any{},
		"skills":  []any{},
	}
	a := &stubProvider{name: "openai", payload: weak}
	b := &stubProvider{name: "gemini", payload: strongPayload()}
	mgr := llm.NewManagerWithProviders(testConfig(), a, b)

	analyst := New(mgr, config.DefaultPipelineConfig())
	result, err := analyst.Analyze(context.Background(), newTestContext(t), config.ModePhase1)
	require.NoError(t, err)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls, "weak first pass escalates to provider B")
	assert.Len(t, result.ProvidersUsed, 2)
	// Missing fields in the base fill from provider B.
	assert.Equal(t, "kim@example.com", result.Data.Email)
	assert.NotEmpty(t, result.Data.Careers)
}

func TestAnalyze_ParallelFansOutToAllProviders(t *testing.T) {
	a := &stubProvider{name: "openai", payload: strongPayload()}
	b := &stubProvider{name: "gemini", payload: strongPayload()}
	mgr := llm.NewManagerWithProviders(testConfig(), a, b)

	pipelineCfg := config.DefaultPipelineConfig()
	pipelineCfg.UseParallelLLM = true
	analyst := New(mgr, pipelineCfg)

	result, err := analyst.Analyze(context.Background(), newTestContext(t), config.ModePhase1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 2400, result.TokensIn+result.TokensOut, "usage sums across providers")
	assert.Len(t, result.ProviderUsage, 2)
}

func TestAnalyze_TracksTokensOnStageAndMetadata(t *testing.T) {
	a := &stubProvider{name: "openai", payload: strongPayload()}
	mgr := llm.NewManagerWithProviders(testConfig(), a)
	analyst := New(mgr, config.DefaultPipelineConfig())

	pctx := newTestContext(t)
	_, err := analyst.Analyze(context.Background(), pctx, config.ModePhase1)
	require.NoError(t, err)

	tokensIn, tokensOut := pctx.Meta.Usage()
	assert.Equal(t, 1000, tokensIn)
	assert.Equal(t, 200, tokensOut)

	stage, ok := pctx.Stages.Get(pipeline.StageAnalysis)
	require.True(t, ok)
	assert.Equal(t, 1000, stage.TokensIn)
	assert.Equal(t, pctx.Guardrails.TotalLLMCalls(), 1)
}

func TestAnalyze_NoProviders(t *testing.T) {
	mgr := llm.NewManagerWithProviders(testConfig())
	analyst := New(mgr, config.DefaultPipelineConfig())
	_, err := analyst.Analyze(context.Background(), newTestContext(t), config.ModePhase1)
	assert.Error(t, err)
}
