// Package orchestrator sequences the résumé-processing stages over one
// shared pipeline context, with failure isolation: non-critical stage
// failures degrade to warnings, everything else terminates the job with
// a taxonomy error and a webhook notification.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/talenthive/cvflow/pkg/analyst"
	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/embedder"
	"github.com/talenthive/cvflow/pkg/flags"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/metrics"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/parser"
	"github.com/talenthive/cvflow/pkg/persistence"
	"github.com/talenthive/cvflow/pkg/pii"
	"github.com/talenthive/cvflow/pkg/pipeline"
	"github.com/talenthive/cvflow/pkg/privacy"
	"github.com/talenthive/cvflow/pkg/storage"
	"github.com/talenthive/cvflow/pkg/validation"
	"github.com/talenthive/cvflow/pkg/webhook"
)

// Orchestrator owns the pipeline dependencies. One orchestrator serves
// many jobs; each Run creates and owns a fresh pipeline context.
type Orchestrator struct {
	cfg        *config.Config
	llm        *llm.Manager
	dispatcher *parser.Dispatcher
	analyst    *analyst.Analyst
	verifier   *validation.Verifier
	embed      *embedder.Service
	store      *persistence.Service
	objects    *storage.Client
	hooks      *webhook.Client
	flags      *flags.Store
	metrics    *metrics.Collector
	cipher     *privacy.Cipher
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config     *config.Config
	LLM        *llm.Manager
	Dispatcher *parser.Dispatcher
	Analyst    *analyst.Analyst
	Verifier   *validation.Verifier
	Embedder   *embedder.Service
	Store      *persistence.Service
	Objects    *storage.Client
	Webhooks   *webhook.Client
	Flags      *flags.Store
	Metrics    *metrics.Collector
	Cipher     *privacy.Cipher
}

// New wires an orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        deps.Config,
		llm:        deps.LLM,
		dispatcher: deps.Dispatcher,
		analyst:    deps.Analyst,
		verifier:   deps.Verifier,
		embed:      deps.Embedder,
		store:      deps.Store,
		objects:    deps.Objects,
		hooks:      deps.Webhooks,
		flags:      deps.Flags,
		metrics:    deps.Metrics,
		cipher:     deps.Cipher,
	}
}

// Run executes the full pipeline for one input synchronously.
func (o *Orchestrator) Run(ctx context.Context, input *Input) *Result {
	start := time.Now()
	pctx := pipeline.NewContext(o.cfg.Pipeline, input.JobID, input.UserID)
	log := pctx.Logger()

	result := &Result{Status: models.StatusProcessing}
	if input.IsRetry {
		o.metrics.RecordJobRetry()
		log.Info("Re-running previously failed job", "is_retry", true)
		pctx.Warnings.AddFieldWarning(pipeline.WarnRetryOccurred, pipeline.SeverityInfo,
			"", "", "pipeline re-run after an earlier failed attempt")
	}
	defer func() {
		result.ProcessingTime = time.Since(start)
		result.Warnings = pctx.Warnings.Messages()
		o.metrics.RecordJob(result.Success)
		pctx.Finalize(result.Status)
	}()

	// Credit pre-check runs before any expensive work.
	if input.SaveToDB && !input.SkipCredit {
		ok, err := o.store.HasCredit(ctx, input.UserID)
		if err != nil {
			return o.fail(ctx, pctx, result, input, "", fmt.Errorf("credit check: %w", err))
		}
		if !ok {
			return o.reject(ctx, pctx, result, input, persistence.ErrInsufficient)
		}
	}

	o.notify(ctx, input.JobID, "processing", nil, "")

	// --- parsing ---
	if err := o.runStage(pctx, pipeline.StageParsing, func() error {
		return o.stageParse(ctx, pctx, input)
	}); err != nil {
		return o.fail(ctx, pctx, result, input, pipeline.StageParsing, err)
	}

	// --- pii_extraction ---
	if err := o.runStage(pctx, pipeline.StagePIIExtraction, func() error {
		return o.stagePII(pctx)
	}); err != nil {
		return o.fail(ctx, pctx, result, input, pipeline.StagePIIExtraction, err)
	}

	// --- identity_check: reject multi-person documents before analysis,
	// credit untouched ---
	var multiIdentity bool
	if err := o.runStage(pctx, pipeline.StageIdentityCheck, func() error {
		check := pii.DetectIdentities(pctx.ParsedData.RawText)
		multiIdentity = check.MultipleIdentities()
		if multiIdentity {
			return fmt.Errorf("multiple identities detected: %d phones, %d emails",
				len(check.Phones), len(check.Emails))
		}
		return nil
	}); err != nil {
		if multiIdentity {
			return o.reject(ctx, pctx, result, input, persistence.ErrMultiIdentity)
		}
		return o.fail(ctx, pctx, result, input, pipeline.StageIdentityCheck, err)
	}

	o.notify(ctx, input.JobID, "parsed", nil, "")

	// --- analysis ---
	var analysisResult *analyst.Result
	if err := o.runStage(pctx, pipeline.StageAnalysis, func() error {
		mode := o.cfg.Pipeline.AnalysisMode
		if input.Mode != "" {
			mode = config.AnalysisMode(input.Mode)
		}
		var err error
		analysisResult, err = o.analyst.Analyze(ctx, pctx, mode)
		if err != nil {
			return err
		}
		return analyst.ApplyResult(pctx, analysisResult)
	}); err != nil {
		return o.fail(ctx, pctx, result, input, pipeline.StageAnalysis, err)
	}
	for provider, usage := range analysisResult.ProviderUsage {
		o.metrics.RecordTokens(provider, provider, usage.Prompt, usage.Completion)
	}

	o.notify(ctx, input.JobID, "analyzed", nil, "")

	// --- validation: rule layer always, LLM layer behind its flag;
	// failures degrade to warnings ---
	if err := o.runStage(pctx, pipeline.StageValidation, func() error {
		o.stageRuleValidation(pctx)
		if o.flags.Current().UseLLMValidation {
			o.stageLLMValidation(ctx, pctx)
		}
		if o.flags.Current().UseHallucinationDetect {
			o.stageHallucinationCheck(pctx)
		}
		return nil
	}); err != nil {
		return o.fail(ctx, pctx, result, input, pipeline.StageValidation, err)
	}

	// Required-fields policy: name + (phone or email) + at least one
	// career, or the job fails permanently.
	if input.SaveToDB && !pctx.Current.HasRequiredFields() {
		return o.fail(ctx, pctx, result, input, pipeline.StageValidation,
			fmt.Errorf("required fields missing: name/contact/career"))
	}

	// --- privacy: hashes and ciphertexts from plaintext, then masking ---
	var record *persistence.Record
	if err := o.runStage(pctx, pipeline.StagePrivacy, func() error {
		var err error
		record, err = o.stagePrivacy(pctx, input, result)
		return err
	}); err != nil {
		return o.fail(ctx, pctx, result, input, pipeline.StagePrivacy, err)
	}

	// --- embedding: non-critical, partial success proceeds ---
	var embedResult *embedder.Result
	if input.GenerateEmbeddings {
		if err := o.runStage(pctx, pipeline.StageEmbedding, func() error {
			var err error
			embedResult, err = o.embed.Process(ctx, pctx.Current, pctx.ParsedData.RawText)
			if embedResult != nil {
				result.ChunkCount = len(embedResult.Chunks)
				result.EmbeddingTokens = embedResult.Tokens
				if embedResult.Truncated {
					pctx.Warnings.AddFieldWarning(pipeline.WarnTruncation, pipeline.SeverityInfo,
						"", pipeline.StageEmbedding, "raw text truncated for full-document chunk")
				}
				if embedResult.PartialSuccess() {
					pctx.Warnings.AddFieldWarning(pipeline.WarnEmbeddingFailed, pipeline.SeverityWarning,
						"", pipeline.StageEmbedding,
						fmt.Sprintf("%d of %d chunks failed to embed; record not searchable over them",
							embedResult.FailedCount, len(embedResult.Chunks)))
				}
			}
			return err
		}); err != nil {
			// Degrade: persist the record without vectors.
			pctx.Warnings.AddFieldWarning(pipeline.WarnEmbeddingFailed, pipeline.SeverityError,
				"", pipeline.StageEmbedding, "embedding generation failed; record saved without vectors")
			embedResult = nil
		}
	} else {
		pctx.Stages.Skip(pipeline.StageEmbedding)
	}

	// --- save ---
	if input.SaveToDB {
		if err := o.runStage(pctx, pipeline.StageSave, func() error {
			return o.stageSave(ctx, pctx, input, record, embedResult, result)
		}); err != nil {
			return o.fail(ctx, pctx, result, input, pipeline.StageSave, err)
		}
	} else {
		pctx.Stages.Skip(pipeline.StageSave)
	}

	result.Success = true
	result.Status = models.StatusCompleted
	result.Data = pctx.Current
	result.Confidence = pctx.Current.OverallConfidence
	result.FieldConfidence = pctx.Current.FieldConfidence
	if result.CandidateID != "" {
		if err := o.store.UpdateStatus(ctx, result.CandidateID, models.StatusCompleted); err != nil {
			pctx.Logger().Warn("Failed to mark candidate completed", "error", err)
		}
	}
	o.notify(ctx, input.JobID, "completed", result, "")
	return result
}

// runStage wraps one stage with timing, guardrail timeout checks, and
// metrics.
func (o *Orchestrator) runStage(pctx *pipeline.Context, stage string, fn func() error) error {
	if !pctx.Guardrails.CheckTotalTimeout() {
		pctx.Stages.Fail(stage, fmt.Errorf("pipeline total timeout exceeded"))
		return fmt.Errorf("pipeline timeout before stage %s", stage)
	}

	pctx.Stages.Start(stage)
	start := time.Now()
	err := fn()
	duration := time.Since(start)
	o.metrics.RecordStage(stage, duration, err == nil)

	if err != nil {
		pctx.Stages.Fail(stage, err)
		pctx.Audit.LogError("orchestrator", stage, err.Error())
		return err
	}
	pctx.Stages.Complete(stage, nil)
	pctx.Meta.SaveCheckpoint(stage)
	return nil
}

// fail terminates the pipeline with a classified permanent error.
func (o *Orchestrator) fail(ctx context.Context, pctx *pipeline.Context, result *Result, input *Input, stage string, err error) *Result {
	code := persistence.Classify(err)
	pctx.Logger().Error("Pipeline failed",
		"stage", stage, "error_code", code, "error", err)

	result.Success = false
	result.Status = models.StatusFailed
	result.ErrorCode = code
	result.UserMessage = persistence.UserMessage(code)

	if result.CandidateID != "" {
		if dbErr := o.store.SoftDelete(ctx, result.CandidateID, code, err.Error()); dbErr != nil {
			pctx.Logger().Error("Soft delete failed", "error", dbErr)
		}
	}

	o.notify(ctx, input.JobID, "failed", nil, result.UserMessage)
	return result
}

// reject terminates the pipeline without consuming credit or writing any
// row (multi-identity, insufficient credits).
func (o *Orchestrator) reject(ctx context.Context, pctx *pipeline.Context, result *Result, input *Input, code persistence.ErrorCode) *Result {
	pctx.Logger().Warn("Pipeline rejected", "error_code", code)
	result.Success = false
	result.Status = models.StatusRejected
	result.ErrorCode = code
	result.UserMessage = persistence.UserMessage(code)
	o.notify(ctx, input.JobID, "rejected", nil, result.UserMessage)
	return result
}

func (o *Orchestrator) notify(ctx context.Context, jobID, status string, result any, errMsg string) {
	o.hooks.Notify(ctx, webhook.Payload{
		JobID:  jobID,
		Status: status,
		Result: result,
		Error:  errMsg,
	})
}
