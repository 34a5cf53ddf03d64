package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/analyst"
	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/embedder"
	"github.com/talenthive/cvflow/pkg/flags"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/metrics"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/parser"
	"github.com/talenthive/cvflow/pkg/privacy"
	"github.com/talenthive/cvflow/pkg/validation"
	"github.com/talenthive/cvflow/pkg/webhook"
)

// recordingProvider returns a fixed extraction and captures every prompt
// it receives.
type recordingProvider struct {
	mu      sync.Mutex
	name    string
	payload map[string]any
	prompts []string
}

func (p *recordingProvider) Name() string         { return p.name }
func (p *recordingProvider) Model() string        { return p.name + "-model" }
func (p *recordingProvider) SupportsSchema() bool { return true }

func (p *recordingProvider) Call(_ context.Context, messages []llm.Message, _ *llm.Schema, _ float64, _ int) (*llm.Response, error) {
	p.mu.Lock()
	for _, m := range messages {
		p.prompts = append(p.prompts, m.Content)
	}
	p.mu.Unlock()
	return &llm.Response{
		OK:         true,
		Provider:   p.name,
		Model:      p.Model(),
		ParsedJSON: p.payload,
		Usage:      llm.Usage{Prompt: 800, Completion: 150, Total: 950},
	}, nil
}

func extractionPayload() map[string]any {
	return map[string]any{
		"name":  "[NAME]",
		"phone": "[PHONE]",
		"email": "[EMAIL]",
		"careers": []any{
			map[string]any{"company": "카카오", "position": "백엔드 개발자", "start_date": "2021.03"},
		},
		"skills":     []any{"Go", "PostgreSQL"},
		"educations": []any{map[string]any{"school": "서울대학교", "degree": "석사"}},
		"summary":    "대규모 트래픽 서비스를 5년간 운영한 백엔드 엔지니어입니다.",
		"exp_years":  5.0,
	}
}

const resumeText = `김철수
백엔드 개발자
연락처: 010-1234-5678
이메일: kim@example.com

경력
카카오 백엔드 개발자 (2021.03 ~ 재직중)
대규모 트래픽 서비스 운영

기술: Go, PostgreSQL
학력: 서울대학교 석사`

func testOrchestrator(t *testing.T, providers ...llm.Provider) (*Orchestrator, []*recordingProvider) {
	t.Helper()
	var recs []*recordingProvider
	if len(providers) == 0 {
		rec := &recordingProvider{name: "openai", payload: extractionPayload()}
		providers = []llm.Provider{rec}
		recs = []*recordingProvider{rec}
	} else {
		for _, p := range providers {
			if rec, ok := p.(*recordingProvider); ok {
				recs = append(recs, rec)
			}
		}
	}

	llmCfg := config.DefaultLLMConfig()
	llmCfg.BaseDelay = time.Millisecond
	llmCfg.MaxDelay = 2 * time.Millisecond
	mgr := llm.NewManagerWithProviders(llmCfg, providers...)

	cfg := &config.Config{
		Environment: "test",
		Pipeline:    config.DefaultPipelineConfig(),
		LLM:         llmCfg,
		Queue:       config.DefaultQueueConfig(),
		Storage:     config.DefaultStorageConfig(),
		Webhook:     config.DefaultWebhookConfig(),
	}

	cipher, err := privacy.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	orch := New(Deps{
		Config:     cfg,
		LLM:        mgr,
		Dispatcher: parser.NewDispatcher(),
		Analyst:    analyst.New(mgr, cfg.Pipeline),
		Verifier:   validation.NewVerifier(mgr),
		Embedder:   embedder.NewService(llmCfg),
		Webhooks:   webhook.NewClient(cfg.Webhook),
		Flags:      flags.NewStore(),
		Metrics:    metrics.NewCollector(prometheus.NewRegistry()),
		Cipher:     cipher,
	})
	return orch, recs
}

func TestRun_HappyPathTextInput(t *testing.T) {
	orch, recs := testOrchestrator(t)

	result := orch.Run(context.Background(), &Input{
		JobID:   "job-1",
		UserID:  "user-1",
		Text:    resumeText,
		MaskPII: true,
	})

	require.True(t, result.Success, "error: %s / %s", result.ErrorCode, result.UserMessage)
	assert.Equal(t, models.StatusCompleted, result.Status)

	// Regex-extracted identity wins over the LLM placeholders, then the
	// privacy stage masks for display.
	require.NotNil(t, result.Data)
	assert.Equal(t, "김철수", result.Data.Name)
	assert.Equal(t, "010-****-5678", result.Data.Phone)
	assert.Equal(t, "ki*@example.com", result.Data.Email)

	// Rule validation normalized the career start date.
	require.NotEmpty(t, result.Data.Careers)
	assert.Equal(t, "2021-03", result.Data.Careers[0].StartDate)
	assert.Equal(t, "Master", result.Data.Educations[0].Degree)

	assert.Greater(t, result.Confidence, 0.5)
	assert.Contains(t, result.PIITypes, "phone")
	assert.Greater(t, result.PIICount, 0)

	// Invariant: no prompt ever carries the plaintext identity.
	for _, prompt := range recs[0].prompts {
		assert.NotContains(t, prompt, "김철수")
		assert.NotContains(t, prompt, "010-1234-5678")
		assert.NotContains(t, prompt, "kim@example.com")
	}
}

func TestRun_MultiIdentityRejectedWithoutAnalysis(t *testing.T) {
	orch, recs := testOrchestrator(t)

	twoPeople := resumeText + "\n\n박영희\n010-8765-4321\npark@example.com"
	result := orch.Run(context.Background(), &Input{
		JobID:  "job-2",
		UserID: "user-1",
		Text:   twoPeople,
	})

	assert.False(t, result.Success)
	assert.Equal(t, models.StatusRejected, result.Status)
	assert.EqualValues(t, "MULTI_IDENTITY", result.ErrorCode)
	assert.Empty(t, recs[0].prompts, "rejection happens before any LLM call")
	assert.Empty(t, result.CandidateID, "no row written")
}

func TestRun_TextTooShort(t *testing.T) {
	orch, _ := testOrchestrator(t)

	result := orch.Run(context.Background(), &Input{
		JobID:  "job-3",
		UserID: "user-1",
		Text:   "too short",
	})

	assert.False(t, result.Success)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.EqualValues(t, "TEXT_TOO_SHORT", result.ErrorCode)
	assert.NotEmpty(t, result.UserMessage)
	assert.NotContains(t, result.UserMessage, "chars", "raw technical strings never reach users")
}

func TestRun_ProviderDisagreementFlagsConflict(t *testing.T) {
	honest := &recordingProvider{name: "openai", payload: extractionPayload()}
	liarPayload := extractionPayload()
	liarPayload["phone"] = "010-1234-5679"
	liar := &recordingProvider{name: "gemini", payload: liarPayload}

	orch, _ := testOrchestrator(t, honest, liar)
	orch.cfg.Pipeline.UseParallelLLM = true

	result := orch.Run(context.Background(), &Input{
		JobID:   "job-4",
		UserID:  "user-1",
		Text:    resumeText,
		MaskPII: false,
	})

	require.True(t, result.Success)
	// The regex extraction anchors the phone; the dissenting provider is
	// outvoted or overruled, and the conflict surfaces as a warning.
	assert.Equal(t, "010-1234-5678", result.Data.Phone)
	joined := strings.Join(result.Warnings, "\n")
	assert.True(t,
		strings.Contains(joined, "MISMATCH") || strings.Contains(joined, "MISMATCH_RESOLVED"),
		"conflict warning expected, got: %s", joined)
}

func TestRun_RetryIsAccounted(t *testing.T) {
	orch, _ := testOrchestrator(t)

	result := orch.Run(context.Background(), &Input{
		JobID:   "job-6",
		UserID:  "user-1",
		Text:    resumeText,
		IsRetry: true,
	})
	require.True(t, result.Success)
	assert.Equal(t, 1, orch.metrics.Snapshot(time.Hour).JobsRetried)
}

func TestRun_ReportsProcessingTime(t *testing.T) {
	orch, _ := testOrchestrator(t)

	result := orch.Run(context.Background(), &Input{
		JobID:  "job-5",
		UserID: "user-1",
		Text:   resumeText,
	})
	require.True(t, result.Success)
	assert.Greater(t, result.ProcessingTime, time.Duration(0))
}
