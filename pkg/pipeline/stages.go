package pipeline

import (
	"sync"
	"time"
)

// StageStatus is the execution state of one pipeline stage.
type StageStatus string

// Stage statuses.
const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Stage names in execution order.
const (
	StageParsing       = "parsing"
	StagePIIExtraction = "pii_extraction"
	StageIdentityCheck = "identity_check"
	StageAnalysis      = "analysis"
	StageValidation    = "validation"
	StagePrivacy       = "privacy"
	StageEmbedding     = "embedding"
	StageSave          = "save"
)

// StageOrder lists the pipeline stages in their fixed execution order.
var StageOrder = []string{
	StageParsing,
	StagePIIExtraction,
	StageIdentityCheck,
	StageAnalysis,
	StageValidation,
	StagePrivacy,
	StageEmbedding,
	StageSave,
}

// StageResult records one stage's execution.
type StageResult struct {
	Status     StageStatus `json:"status"`
	Output     any         `json:"output,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	EndedAt    time.Time   `json:"ended_at,omitempty"`
	TokensIn   int         `json:"tokens_in,omitempty"`
	TokensOut  int         `json:"tokens_out,omitempty"`
	RetryCount int         `json:"retry_count,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Duration returns the stage wall-clock time, zero while running.
func (r StageResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// StageResults is the ordered stage-name → result mapping.
type StageResults struct {
	mu      sync.Mutex
	results map[string]*StageResult
}

// NewStageResults initializes every known stage as pending.
func NewStageResults() *StageResults {
	results := make(map[string]*StageResult, len(StageOrder))
	for _, name := range StageOrder {
		results[name] = &StageResult{Status: StagePending}
	}
	return &StageResults{results: results}
}

// Start marks a stage running.
func (s *StageResults) Start(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(stage)
	r.Status = StageRunning
	r.StartedAt = time.Now()
}

// Complete marks a stage completed with its output.
func (s *StageResults) Complete(stage string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(stage)
	r.Status = StageCompleted
	r.Output = output
	r.EndedAt = time.Now()
}

// Fail marks a stage failed with the error message.
func (s *StageResults) Fail(stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(stage)
	r.Status = StageFailed
	if err != nil {
		r.Error = err.Error()
	}
	r.EndedAt = time.Now()
}

// Skip marks a stage skipped.
func (s *StageResults) Skip(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(stage).Status = StageSkipped
}

// AddTokens accumulates token usage onto a stage.
func (s *StageResults) AddTokens(stage string, in, out int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensure(stage)
	r.TokensIn += in
	r.TokensOut += out
}

// RecordRetry increments a stage's retry counter.
func (s *StageResults) RecordRetry(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(stage).RetryCount++
}

// Get returns a copy of the stage's result.
func (s *StageResults) Get(stage string) (StageResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[stage]
	if !ok {
		return StageResult{}, false
	}
	return *r, true
}

// All returns copies of every stage result keyed by stage name.
func (s *StageResults) All() map[string]StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StageResult, len(s.results))
	for name, r := range s.results {
		out[name] = *r
	}
	return out
}

func (s *StageResults) ensure(stage string) *StageResult {
	r, ok := s.results[stage]
	if !ok {
		r = &StageResult{Status: StagePending}
		s.results[stage] = r
	}
	return r
}
