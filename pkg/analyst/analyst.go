// Package analyst fuses structured extractions from multiple LLM
// providers into a single candidate record with per-field confidence,
// spending as little as possible: the progressive strategy stops after
// one provider when its output already clears the confidence threshold.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/talenthive/cvflow/pkg/config"
	"github.com/talenthive/cvflow/pkg/llm"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/pipeline"
	"github.com/talenthive/cvflow/pkg/validation"
)

// Critical identity fields cross-checked value-by-value.
var criticalFields = []string{"name", "phone", "email"}

// Result is the analyst's output for one job.
type Result struct {
	Data              *models.Candidate    `json:"data"`
	OverallConfidence float64              `json:"overall_confidence"`
	FieldConfidence   map[string]float64   `json:"field_confidence"`
	TokensIn          int                  `json:"tokens_in"`
	TokensOut         int                  `json:"tokens_out"`
	ProviderUsage     map[string]llm.Usage `json:"per_provider_usage"`
	ProvidersUsed     []string             `json:"providers_used"`
}

// providerOutput pairs one provider's payload with its response metadata.
type providerOutput struct {
	provider string
	payload  map[string]any
	resp     *llm.Response
}

// Analyst orchestrates LLM extraction over the configured strategy.
type Analyst struct {
	mgr *llm.Manager
	cfg *config.PipelineConfig
}

// New creates an analyst over the given manager and pipeline settings.
func New(mgr *llm.Manager, cfg *config.PipelineConfig) *Analyst {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	return &Analyst{mgr: mgr, cfg: cfg}
}

// Analyze runs the configured strategy against the masked text in pctx,
// records proposals and evidence, and returns the fused result. The
// candidate record itself is assembled by the caller via decisions.
func (a *Analyst) Analyze(ctx context.Context, pctx *pipeline.Context, mode config.AnalysisMode) (*Result, error) {
	providers := a.mgr.Available()
	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	var outputs []providerOutput
	var err error
	if a.cfg.UseParallelLLM && len(providers) > 1 {
		outputs, err = a.runParallel(ctx, pctx, providers)
	} else {
		outputs, err = a.runProgressive(ctx, pctx, providers, mode)
	}
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("all LLM providers failed")
	}

	return a.fuse(pctx, outputs)
}

// runProgressive calls provider A alone and escalates only while the
// confidence summary stays below threshold: A → B, and in phase_2 mode
// B → C for deep verification.
func (a *Analyst) runProgressive(ctx context.Context, pctx *pipeline.Context, providers []string, mode config.AnalysisMode) ([]providerOutput, error) {
	maxProviders := 2
	if mode == config.ModePhase2 {
		maxProviders = 3
	}
	if maxProviders > len(providers) {
		maxProviders = len(providers)
	}

	var outputs []providerOutput
	for i := 0; i < maxProviders; i++ {
		out, err := a.callProvider(ctx, pctx, providers[i])
		if err != nil {
			pctx.Logger().Warn("Analyst provider failed", "provider", providers[i], "error", err)
			continue
		}
		outputs = append(outputs, *out)

		summary := confidenceSummary(out.payload)
		pctx.Logger().Info("Analyst pass complete",
			"provider", providers[i], "confidence", summary, "pass", i+1)
		if summary >= a.cfg.ConfidenceThreshold && !missingCriticalField(out.payload) {
			break
		}
	}
	return outputs, nil
}

// runParallel fans out to every provider concurrently. A provider failure
// never aborts the gather; it just contributes no output.
func (a *Analyst) runParallel(ctx context.Context, pctx *pipeline.Context, providers []string) ([]providerOutput, error) {
	results := make([]*providerOutput, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range providers {
		g.Go(func() error {
			out, err := a.callProvider(gctx, pctx, name)
			if err != nil {
				pctx.Logger().Warn("Analyst provider failed", "provider", name, "error", err)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var outputs []providerOutput
	for _, r := range results {
		if r != nil {
			outputs = append(outputs, *r)
		}
	}
	return outputs, nil
}

// callProvider makes one guarded structured call and records usage,
// evidence, and proposals.
func (a *Analyst) callProvider(ctx context.Context, pctx *pipeline.Context, provider string) (*providerOutput, error) {
	if !pctx.Guardrails.AllowLLMCall(pipeline.StageAnalysis) {
		return nil, fmt.Errorf("LLM call budget exhausted for analysis stage")
	}

	resp, err := a.mgr.CallStructured(ctx, provider, buildMessages(pctx.TextForLLM()), resumeSchema, 0.1, 0)
	if err != nil {
		return nil, err
	}
	pctx.Stages.AddTokens(pipeline.StageAnalysis, resp.Usage.Prompt, resp.Usage.Completion)
	pctx.Meta.AddUsage(resp.Usage.Prompt, resp.Usage.Completion, 0)
	if resp.Retries > 0 {
		pctx.Stages.RecordRetry(pipeline.StageAnalysis)
		pctx.Warnings.AddFieldWarning(pipeline.WarnRetryOccurred, pipeline.SeverityInfo,
			"", pipeline.StageAnalysis, fmt.Sprintf("%s call retried %d time(s)", provider, resp.Retries))
	}
	if !resp.OK {
		return nil, fmt.Errorf("provider %s: %s", provider, resp.Error)
	}

	out := &providerOutput{provider: provider, payload: resp.ParsedJSON, resp: resp}
	a.recordProposals(pctx, out)
	return out, nil
}

// recordProposals turns one provider's critical-field values into
// proposals and evidence for the decision layer.
func (a *Analyst) recordProposals(pctx *pipeline.Context, out *providerOutput) {
	agent := agentName(out.provider)
	for _, field := range criticalFields {
		value, ok := stringField(out.payload, field)
		if !ok || value == "" || isPlaceholder(value) {
			continue
		}
		confidence := criticalFieldScore(field, value)
		pctx.Decisions.Propose(field, pipeline.Proposal{
			Agent:      agent,
			Value:      value,
			Confidence: confidence,
			Reasoning:  "structured extraction",
		})
		pctx.Evidence.Add(field, pipeline.Evidence{
			Value:      value,
			Provider:   out.provider,
			Confidence: confidence,
			Reasoning:  "structured extraction",
		})
	}
}

// fuse merges the provider payloads, decodes the result, and computes
// per-field confidence.
func (a *Analyst) fuse(pctx *pipeline.Context, outputs []providerOutput) (*Result, error) {
	merged, fieldConfidence := mergePayloads(pctx, outputs)

	data, err := decodeCandidate(merged)
	if err != nil {
		return nil, fmt.Errorf("decode merged payload: %w", err)
	}

	result := &Result{
		Data:            data,
		FieldConfidence: fieldConfidence,
		ProviderUsage:   make(map[string]llm.Usage, len(outputs)),
	}
	for _, out := range outputs {
		result.ProviderUsage[out.provider] = out.resp.Usage
		result.TokensIn += out.resp.Usage.Prompt
		result.TokensOut += out.resp.Usage.Completion
		result.ProvidersUsed = append(result.ProvidersUsed, out.provider)
	}
	result.OverallConfidence = models.WeightedOverallConfidence(fieldConfidence)
	return result, nil
}

// confidenceSummary scores a single payload: the mean of the critical
// field scores plus up to 0.2 bonus for structural completeness.
func confidenceSummary(payload map[string]any) float64 {
	var sum float64
	for _, field := range criticalFields {
		value, ok := stringField(payload, field)
		if !ok || value == "" {
			continue // 0.0
		}
		sum += criticalFieldScore(field, value)
	}
	score := sum / float64(len(criticalFields))

	var bonus float64
	if arr, ok := payload["careers"].([]any); ok && len(arr) > 0 {
		bonus += 0.05
	}
	if arr, ok := payload["skills"].([]any); ok && len(arr) > 0 {
		bonus += 0.05
	}
	if arr, ok := payload["educations"].([]any); ok && len(arr) > 0 {
		bonus += 0.05
	}
	if summary, ok := stringField(payload, "summary"); ok && len([]rune(summary)) >= 30 {
		bonus += 0.05
	}
	return score + bonus
}

// criticalFieldScore awards 1.0 for a format-valid value, 0.7 for a
// present but malformed one. Masked placeholders count as valid: the
// regex extractor owns the real value.
func criticalFieldScore(field, value string) float64 {
	if isPlaceholder(value) {
		return 1.0
	}
	valid := false
	switch field {
	case "name":
		valid = validation.ValidName(value)
	case "phone":
		valid = validation.ValidPhone(value)
	case "email":
		valid = validation.ValidEmail(value)
	}
	if valid {
		return 1.0
	}
	return 0.7
}

func missingCriticalField(payload map[string]any) bool {
	for _, field := range criticalFields {
		if value, ok := stringField(payload, field); !ok || value == "" {
			return true
		}
	}
	return false
}

func isPlaceholder(value string) bool {
	switch value {
	case "[NAME]", "[PHONE]", "[EMAIL]":
		return true
	}
	return false
}

func agentName(provider string) string {
	switch provider {
	case "openai":
		return "analyst_openai"
	case "gemini":
		return "analyst_gemini"
	case "anthropic":
		return "analyst_claude"
	}
	return "analyst_" + provider
}

func stringField(payload map[string]any, field string) (string, bool) {
	v, ok := payload[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// decodeCandidate converts a merged payload into the typed record via a
// JSON round-trip so field tags drive the mapping.
func decodeCandidate(payload map[string]any) (*models.Candidate, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var c models.Candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
