package config

import "time"

// AnalysisMode selects the analyst escalation depth.
type AnalysisMode string

// Analysis modes. Phase 2 adds a third-provider deep verification pass
// when confidence stays below threshold.
const (
	ModePhase1 AnalysisMode = "phase_1"
	ModePhase2 AnalysisMode = "phase_2"
)

// PipelineConfig holds the pipeline behaviour knobs and guardrail limits.
type PipelineConfig struct {
	AnalysisMode        AnalysisMode
	MinTextLength       int
	ConfidenceThreshold float64 // progressive-strategy acceptance threshold

	UseConditionalLLM bool // loaded from USE_CONDITIONAL_LLM; the analyst does not read it (progressive runs whenever UseParallelLLM is off)
	UseParallelLLM    bool // fan out to all providers concurrently

	// Guardrail limits enforced by the pipeline context.
	StageTimeout        time.Duration
	TotalTimeout        time.Duration
	MaxLLMCallsPerStage int
	MaxTotalLLMCalls    int
	MaxRetriesPerStage  int
	MaxEvidencePerField int
	MaxAuditEntries     int
	MaxFileSize         int64
	MaxTextLength       int

	CheckpointTTL time.Duration
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		AnalysisMode:        ModePhase1,
		MinTextLength:       50,
		ConfidenceThreshold: 0.85,
		UseConditionalLLM:   true,
		UseParallelLLM:      false,
		StageTimeout:        120 * time.Second,
		TotalTimeout:        600 * time.Second,
		MaxLLMCallsPerStage: 5,
		MaxTotalLLMCalls:    20,
		MaxRetriesPerStage:  3,
		MaxEvidencePerField: 10,
		MaxAuditEntries:     500,
		MaxFileSize:         50 * 1024 * 1024,
		MaxTextLength:       500000,
		CheckpointTTL:       120 * time.Second,
	}
}

// LoadPipelineConfig applies env overrides to the defaults.
func LoadPipelineConfig() *PipelineConfig {
	cfg := DefaultPipelineConfig()
	if mode := getEnv("ANALYSIS_MODE", string(cfg.AnalysisMode)); mode == string(ModePhase2) {
		cfg.AnalysisMode = ModePhase2
	}
	cfg.MinTextLength = getEnvInt("MIN_TEXT_LENGTH", cfg.MinTextLength)
	cfg.ConfidenceThreshold = getEnvFloat("LLM_CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	cfg.UseConditionalLLM = getEnvBool("USE_CONDITIONAL_LLM", cfg.UseConditionalLLM)
	cfg.UseParallelLLM = getEnvBool("USE_PARALLEL_LLM", cfg.UseParallelLLM)
	cfg.StageTimeout = getEnvDuration("STAGE_TIMEOUT_SECONDS", cfg.StageTimeout)
	cfg.TotalTimeout = getEnvDuration("PIPELINE_TIMEOUT_SECONDS", cfg.TotalTimeout)
	return cfg
}
