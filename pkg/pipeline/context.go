// Package pipeline holds the shared per-job context threaded through the
// processing stages: parsed data, PII store, evidence, proposals and
// decisions, warnings, audit trail, guardrails, and metadata. One context
// exists per job, owned by the orchestrator; stages receive a mutable
// handle and communicate through the append-only logs rather than
// callbacks.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/pii"
)

// RawInput preserves the original upload. Bytes are releasable once
// parsing is done to bound memory on large files.
type RawInput struct {
	Bytes    []byte `json:"-"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Source   string `json:"source,omitempty"`
}

// Release drops the original bytes.
func (r *RawInput) Release() {
	r.Bytes = nil
}

// ParsedData holds the extracted text and parsing metadata.
type ParsedData struct {
	RawText     string            `json:"raw_text"`
	CleanedText string            `json:"cleaned_text"`
	Sections    map[string]string `json:"sections,omitempty"`
	Confidence  float64           `json:"parsing_confidence"`
	PageCount   int               `json:"page_count,omitempty"`
	ParseMethod string            `json:"parse_method,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Checkpoint is a short-lived resume point for the pipeline.
type Checkpoint struct {
	Stage     string    `json:"stage"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the checkpoint is still within its TTL.
func (c *Checkpoint) Valid() bool {
	return c != nil && time.Now().Before(c.ExpiresAt)
}

// Metadata tracks pipeline identity, timing, and cost accumulators.
type Metadata struct {
	mu sync.Mutex

	PipelineID  string
	CandidateID string
	JobID       string
	UserID      string

	StartedAt time.Time
	EndedAt   time.Time
	Status    models.CandidateStatus

	TokensIn  int
	TokensOut int
	CostUSD   float64

	checkpoint    *Checkpoint
	checkpointTTL time.Duration
}

// AddUsage accumulates token usage and cost.
func (m *Metadata) AddUsage(tokensIn, tokensOut int, costUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokensIn += tokensIn
	m.TokensOut += tokensOut
	m.CostUSD += costUSD
}

// Usage returns the accumulated token counts.
func (m *Metadata) Usage() (tokensIn, tokensOut int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokensIn, m.TokensOut
}

// SaveCheckpoint records a resume point with the configured TTL.
func (m *Metadata) SaveCheckpoint(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.checkpoint = &Checkpoint{
		Stage:     stage,
		SavedAt:   now,
		ExpiresAt: now.Add(m.checkpointTTL),
	}
}

// Checkpoint returns the current checkpoint if still valid.
func (m *Metadata) Checkpoint() *Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint.Valid() {
		return m.checkpoint
	}
	return nil
}

// Context is the central information hub shared by all pipeline stages
// for one job. It is not safe to share across jobs; fan-out within one
// job is supported through the thread-safe substructures.
type Context struct {
	RawInput   RawInput
	ParsedData ParsedData
	PII        *pii.Store

	Stages        *StageResults
	Evidence      *EvidenceStore
	Decisions     *DecisionManager
	Current       *models.Candidate
	Hallucination *HallucinationDetector
	Warnings      *WarningCollector
	Audit         *AuditLog
	Guardrails    *GuardrailChecker
	Meta          *Metadata

	cfg *config.PipelineConfig
	log *slog.Logger
}

// NewContext creates a fresh pipeline context for one job.
func NewContext(cfg *config.PipelineConfig, jobID, userID string) *Context {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	pipelineID := fmt.Sprintf("pl-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	ctx := &Context{
		Stages:        NewStageResults(),
		Evidence:      NewEvidenceStore(cfg.MaxEvidencePerField),
		Decisions:     NewDecisionManager(),
		Current:       &models.Candidate{UserID: userID, JobID: jobID, Status: models.StatusProcessing},
		Hallucination: NewHallucinationDetector(),
		Warnings:      NewWarningCollector(),
		Audit:         NewAuditLog(cfg.MaxAuditEntries),
		Guardrails:    NewGuardrailChecker(cfg),
		Meta: &Metadata{
			PipelineID:    pipelineID,
			JobID:         jobID,
			UserID:        userID,
			StartedAt:     time.Now(),
			Status:        models.StatusProcessing,
			checkpointTTL: cfg.CheckpointTTL,
		},
		cfg: cfg,
		log: slog.With("pipeline_id", pipelineID, "job_id", jobID),
	}
	ctx.Audit.LogCreate("system", "pipeline_context", pipelineID)
	return ctx
}

// Config returns the pipeline configuration.
func (c *Context) Config() *config.PipelineConfig { return c.cfg }

// Logger returns the job-scoped logger.
func (c *Context) Logger() *slog.Logger { return c.log }

// SetRawInput installs the uploaded file after checking the size limit.
func (c *Context) SetRawInput(data []byte, filename, source string) error {
	if !c.Guardrails.CheckFileSize(int64(len(data))) {
		return fmt.Errorf("file size %d exceeds limit %d", len(data), c.cfg.MaxFileSize)
	}
	c.RawInput = RawInput{Bytes: data, Filename: filename, Size: int64(len(data)), Source: source}
	c.Audit.LogCreate("system", "raw_input", map[string]any{"filename": filename, "size": len(data)})
	return nil
}

// SetParsedText installs the extracted text. An over-length text is kept
// but recorded as a guardrail violation.
func (c *Context) SetParsedText(rawText, cleanedText string) {
	if cleanedText == "" {
		cleanedText = rawText
	}
	c.Guardrails.CheckTextLength(len(rawText))
	c.ParsedData.RawText = rawText
	c.ParsedData.CleanedText = cleanedText
	c.Hallucination.SetSource(rawText)
	c.Audit.LogCreate("parser", "parsed_data", map[string]any{"text_length": len(rawText)})
}

// ExtractPII runs the regex extractor over the parsed text and stores the
// result, including the masked text used for all LLM traffic.
func (c *Context) ExtractPII() {
	if c.ParsedData.RawText == "" {
		c.log.Warn("No parsed text, skipping PII extraction")
		return
	}
	c.PII = pii.Extract(c.ParsedData.RawText, c.RawInput.Filename)
	if c.PII.HasAny() {
		c.Warnings.Add(Warning{
			Code:     WarnPIIDetected,
			Severity: SeverityInfo,
			Message:  "identity fields extracted and masked before analysis",
			Stage:    StagePIIExtraction,
		})
	}
	c.Audit.LogCreate("pii_extractor", "pii_store", map[string]any{
		"has_name":  c.PII.Name.Value != "",
		"has_phone": c.PII.Phone.Value != "",
		"has_email": c.PII.Email.Value != "",
	})
}

// TextForLLM returns the only text form permitted to cross the LLM
// boundary: the masked text when PII was extracted, else the cleaned text.
func (c *Context) TextForLLM() string {
	if c.PII != nil && c.PII.MaskedText != "" {
		return c.PII.MaskedText
	}
	return c.ParsedData.CleanedText
}

// ApplyDecision writes a decided value into the current record and logs
// the decision. Every surfaced field flows through here so invariant
// "field ⇒ decision" holds by construction.
func (c *Context) ApplyDecision(field string, apply func(*models.Candidate, Decision)) error {
	d, err := c.Decisions.Decide(field)
	if err != nil {
		return err
	}
	apply(c.Current, d)
	if c.Current.FieldConfidence == nil {
		c.Current.FieldConfidence = make(map[string]float64)
	}
	c.Current.FieldConfidence[field] = d.FinalConfidence
	c.Audit.LogDecision(d.DecidedBy, field, d.FinalValue, string(d.Method))
	if d.HadConflict {
		c.Warnings.AddFieldWarning(WarnMismatchResolved, SeverityWarning, field, StageAnalysis,
			fmt.Sprintf("conflicting proposals resolved by %s", d.Method))
	}
	return nil
}

// RecalculateConfidence recomputes the weighted overall confidence.
func (c *Context) RecalculateConfidence() {
	c.Current.OverallConfidence = models.WeightedOverallConfidence(c.Current.FieldConfidence)
}

// Finalize stamps the end time and terminal status and releases the raw
// bytes.
func (c *Context) Finalize(status models.CandidateStatus) {
	c.Meta.EndedAt = time.Now()
	c.Meta.Status = status
	c.Current.Status = status
	c.RawInput.Release()
	tokensIn, tokensOut := c.Meta.Usage()
	c.log.Info("Pipeline finalized",
		"status", status,
		"duration", c.Meta.EndedAt.Sub(c.Meta.StartedAt),
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
		"warnings", len(c.Warnings.All()))
}
