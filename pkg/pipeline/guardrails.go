package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/talenthive/cvflow/pkg/config"
)

// ViolationSeverity grades a guardrail violation.
type ViolationSeverity string

// Violation severities.
const (
	ViolationWarning  ViolationSeverity = "warning"
	ViolationError    ViolationSeverity = "error"
	ViolationCritical ViolationSeverity = "critical"
)

// Violation records a guardrail breach.
type Violation struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Severity  ViolationSeverity `json:"severity"`
	Value     any               `json:"value,omitempty"`
	Limit     any               `json:"limit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// GuardrailChecker tracks resource counters against configured limits and
// records violations. It never aborts execution itself; the orchestrator
// observes violations and decides.
type GuardrailChecker struct {
	cfg *config.PipelineConfig

	mu              sync.Mutex
	startedAt       time.Time
	llmCallsByStage map[string]int
	totalLLMCalls   int
	retriesByStage  map[string]int
	violations      []Violation
}

// NewGuardrailChecker creates a checker against the given limits.
func NewGuardrailChecker(cfg *config.PipelineConfig) *GuardrailChecker {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	return &GuardrailChecker{
		cfg:             cfg,
		startedAt:       time.Now(),
		llmCallsByStage: make(map[string]int),
		retriesByStage:  make(map[string]int),
	}
}

// CheckFileSize verifies the upload size limit.
func (g *GuardrailChecker) CheckFileSize(size int64) bool {
	if size > g.cfg.MaxFileSize {
		g.addViolation("file_size", ViolationCritical, size, g.cfg.MaxFileSize,
			fmt.Sprintf("file size %d exceeds limit %d", size, g.cfg.MaxFileSize))
		return false
	}
	return true
}

// CheckTextLength verifies the parsed-text length limit.
func (g *GuardrailChecker) CheckTextLength(length int) bool {
	if length > g.cfg.MaxTextLength {
		g.addViolation("text_length", ViolationWarning, length, g.cfg.MaxTextLength,
			fmt.Sprintf("text length %d exceeds limit %d", length, g.cfg.MaxTextLength))
		return false
	}
	return true
}

// AllowLLMCall checks the per-stage and total LLM-call budgets and, when
// allowed, records the call.
func (g *GuardrailChecker) AllowLLMCall(stage string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.llmCallsByStage[stage] >= g.cfg.MaxLLMCallsPerStage {
		g.addViolationLocked("llm_calls_per_stage", ViolationError,
			g.llmCallsByStage[stage], g.cfg.MaxLLMCallsPerStage,
			fmt.Sprintf("stage %s reached its LLM call budget", stage))
		return false
	}
	if g.totalLLMCalls >= g.cfg.MaxTotalLLMCalls {
		g.addViolationLocked("total_llm_calls", ViolationError,
			g.totalLLMCalls, g.cfg.MaxTotalLLMCalls, "pipeline reached its total LLM call budget")
		return false
	}
	g.llmCallsByStage[stage]++
	g.totalLLMCalls++
	return true
}

// AllowRetry checks the per-stage retry budget and records the retry when
// allowed.
func (g *GuardrailChecker) AllowRetry(stage string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retriesByStage[stage] >= g.cfg.MaxRetriesPerStage {
		g.addViolationLocked("retries_per_stage", ViolationWarning,
			g.retriesByStage[stage], g.cfg.MaxRetriesPerStage,
			fmt.Sprintf("stage %s reached its retry budget", stage))
		return false
	}
	g.retriesByStage[stage]++
	return true
}

// CheckTotalTimeout verifies the pipeline deadline.
func (g *GuardrailChecker) CheckTotalTimeout() bool {
	elapsed := time.Since(g.startedAt)
	if elapsed > g.cfg.TotalTimeout {
		g.addViolation("total_timeout", ViolationCritical, elapsed.Seconds(), g.cfg.TotalTimeout.Seconds(),
			fmt.Sprintf("pipeline exceeded total timeout %v", g.cfg.TotalTimeout))
		return false
	}
	return true
}

// LLMCallsByStage returns a copy of the per-stage call counters.
func (g *GuardrailChecker) LLMCallsByStage() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.llmCallsByStage))
	for k, v := range g.llmCallsByStage {
		out[k] = v
	}
	return out
}

// TotalLLMCalls returns the total recorded LLM calls.
func (g *GuardrailChecker) TotalLLMCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalLLMCalls
}

// Violations returns a copy of the recorded violations.
func (g *GuardrailChecker) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Violation, len(g.violations))
	copy(out, g.violations)
	return out
}

// HasCritical reports whether a critical violation was recorded.
func (g *GuardrailChecker) HasCritical() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.violations {
		if v.Severity == ViolationCritical {
			return true
		}
	}
	return false
}

// Elapsed returns time since the checker was created.
func (g *GuardrailChecker) Elapsed() time.Duration {
	return time.Since(g.startedAt)
}

func (g *GuardrailChecker) addViolation(typ string, severity ViolationSeverity, value, limit any, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addViolationLocked(typ, severity, value, limit, msg)
}

func (g *GuardrailChecker) addViolationLocked(typ string, severity ViolationSeverity, value, limit any, msg string) {
	g.violations = append(g.violations, Violation{
		Type:      typ,
		Message:   msg,
		Severity:  severity,
		Value:     value,
		Limit:     limit,
		Timestamp: time.Now(),
	})
}
