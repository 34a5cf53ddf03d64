package analyst

import (
	"fmt"
	"strings"

	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/pipeline"
)

// mergePayloads fuses n provider payloads using the first as the base.
//
// Critical fields compare normalized values across providers:
//   - all agree → confidence 1.0, base formatting kept;
//   - a majority agrees → majority value, 0.85, MISMATCH_RESOLVED warning
//     naming the dissenter;
//   - all disagree → base value kept, 0.4, high-severity MISMATCH warning
//     and a provider-disagreement hallucination record.
//
// Non-critical fields: absent keys in the base are filled from later
// providers, first non-null wins.
func mergePayloads(pctx *pipeline.Context, outputs []providerOutput) (map[string]any, map[string]float64) {
	base := cloneMap(outputs[0].payload)
	fieldConfidence := make(map[string]float64)

	if len(outputs) == 1 {
		for _, field := range criticalFields {
			if value, ok := stringField(base, field); ok && value != "" {
				fieldConfidence[field] = criticalFieldScore(field, value)
			}
		}
	} else {
		for _, field := range criticalFields {
			mergeCriticalField(pctx, base, outputs, field, fieldConfidence)
		}
		for _, out := range outputs[1:] {
			fillAbsent(base, out.payload)
		}
	}

	scoreStructuralFields(base, fieldConfidence)
	return base, fieldConfidence
}

func mergeCriticalField(pctx *pipeline.Context, base map[string]any, outputs []providerOutput, field string, fieldConfidence map[string]float64) {
	type vote struct {
		provider   string
		value      string
		normalized string
	}
	var votes []vote
	for _, out := range outputs {
		if value, ok := stringField(out.payload, field); ok && value != "" && !isPlaceholder(value) {
			votes = append(votes, vote{
				provider:   out.provider,
				value:      value,
				normalized: strings.ToLower(strings.TrimSpace(value)),
			})
		}
	}
	if len(votes) == 0 {
		return
	}
	if len(votes) == 1 {
		base[field] = votes[0].value
		fieldConfidence[field] = criticalFieldScore(field, votes[0].value)
		return
	}

	counts := make(map[string]int)
	for _, v := range votes {
		counts[v.normalized]++
	}

	// Unanimous.
	if len(counts) == 1 {
		fieldConfidence[field] = 1.0
		return // keep base formatting
	}

	// Majority (e.g. 2 of 3).
	for normalized, count := range counts {
		if count*2 <= len(votes) {
			continue
		}
		var winner vote
		var dissenters []string
		for _, v := range votes {
			if v.normalized == normalized {
				if winner.value == "" {
					winner = v
				}
			} else {
				dissenters = append(dissenters, v.provider)
			}
		}
		base[field] = winner.value
		fieldConfidence[field] = 0.85
		pctx.Warnings.AddFieldWarning(pipeline.WarnMismatchResolved, pipeline.SeverityWarning,
			field, pipeline.StageAnalysis,
			fmt.Sprintf("majority value kept; %s disagreed", strings.Join(dissenters, ", ")))
		return
	}

	// Full disagreement: keep the base value, flag loudly.
	fieldConfidence[field] = 0.4
	pctx.Warnings.AddFieldWarning(pipeline.WarnMismatch, pipeline.SeverityError,
		field, pipeline.StageAnalysis,
		fmt.Sprintf("all %d providers returned different values", len(votes)))
	pctx.Hallucination.RecordDisagreement(field, votes[0].value)
}

// scoreStructuralFields assigns confidence to the non-critical weighted
// fields based on presence and shape.
func scoreStructuralFields(payload map[string]any, fieldConfidence map[string]float64) {
	if arr, ok := payload["careers"].([]any); ok && len(arr) > 0 {
		fieldConfidence["careers"] = structuredListScore(arr, "company")
	}
	if arr, ok := payload["educations"].([]any); ok && len(arr) > 0 {
		fieldConfidence["educations"] = structuredListScore(arr, "school")
	}
	if arr, ok := payload["skills"].([]any); ok && len(arr) > 0 {
		fieldConfidence["skills"] = 0.9
	}
	if summary, ok := stringField(payload, "summary"); ok && summary != "" {
		if len([]rune(summary)) >= 30 {
			fieldConfidence["summary"] = 0.9
		} else {
			fieldConfidence["summary"] = 0.6
		}
	}
	if v, ok := payload["exp_years"]; ok && v != nil {
		if years, ok := v.(float64); ok && years >= 0 && years <= 60 {
			fieldConfidence["exp_years"] = 0.85
		} else {
			fieldConfidence["exp_years"] = 0.5
		}
	}
}

// structuredListScore requires the key field on every entry: 0.9 when
// all entries carry it, 0.65 when only some do, 0.45 when none do.
func structuredListScore(arr []any, requiredKey string) float64 {
	complete := 0
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			if v, ok := m[requiredKey].(string); ok && strings.TrimSpace(v) != "" {
				complete++
			}
		}
	}
	if complete == len(arr) {
		return 0.9
	}
	if complete > 0 {
		return 0.65
	}
	return 0.45
}

// fillAbsent copies keys missing or null in dst from src (first non-null
// wins across successive calls).
func fillAbsent(dst, src map[string]any) {
	for key, value := range src {
		if value == nil {
			continue
		}
		if existing, ok := dst[key]; !ok || existing == nil || isEmptyValue(existing) {
			dst[key] = value
		}
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ApplyResult writes the fused record into the pipeline context through
// the decision layer so every surfaced field is backed by a decision.
func ApplyResult(pctx *pipeline.Context, result *Result) error {
	data := result.Data

	// Identity fields may already carry regex proposals with higher
	// authority; the decision layer arbitrates.
	proposeString := func(field, value string, confidence float64) {
		if value == "" || isPlaceholder(value) {
			return
		}
		pctx.Decisions.Propose(field, pipeline.Proposal{
			Agent: "analyst", Value: value, Confidence: confidence,
		})
	}
	proposeString("name", data.Name, result.FieldConfidence["name"])
	proposeString("phone", data.Phone, result.FieldConfidence["phone"])
	proposeString("email", data.Email, result.FieldConfidence["email"])

	propose := func(field string, value any, confidence float64) {
		pctx.Decisions.Propose(field, pipeline.Proposal{
			Agent: "analyst", Value: value, Confidence: confidence,
		})
	}
	if len(data.Careers) > 0 {
		propose("careers", data.Careers, result.FieldConfidence["careers"])
	}
	if len(data.Educations) > 0 {
		propose("educations", data.Educations, result.FieldConfidence["educations"])
	}
	if len(data.Skills) > 0 {
		propose("skills", data.Skills, result.FieldConfidence["skills"])
	}
	if data.Summary != "" {
		propose("summary", data.Summary, result.FieldConfidence["summary"])
	}
	if data.ExpYears > 0 {
		propose("exp_years", data.ExpYears, result.FieldConfidence["exp_years"])
	}

	// Apply decided values onto the current record.
	fields := []struct {
		name  string
		apply func(*models.Candidate, pipeline.Decision)
	}{
		{"name", func(c *models.Candidate, d pipeline.Decision) {
			if s, ok := d.FinalValue.(string); ok {
				c.Name = s
			}
		}},
		{"phone", func(c *models.Candidate, d pipeline.Decision) {
			if s, ok := d.FinalValue.(string); ok {
				c.Phone = s
			}
		}},
		{"email", func(c *models.Candidate, d pipeline.Decision) {
			if s, ok := d.FinalValue.(string); ok {
				c.Email = s
			}
		}},
		{"careers", func(c *models.Candidate, d pipeline.Decision) {
			if v, ok := d.FinalValue.([]models.Career); ok {
				c.Careers = v
			}
		}},
		{"educations", func(c *models.Candidate, d pipeline.Decision) {
			if v, ok := d.FinalValue.([]models.Education); ok {
				c.Educations = v
			}
		}},
		{"skills", func(c *models.Candidate, d pipeline.Decision) {
			if v, ok := d.FinalValue.([]string); ok {
				c.Skills = v
			}
		}},
		{"summary", func(c *models.Candidate, d pipeline.Decision) {
			if s, ok := d.FinalValue.(string); ok {
				c.Summary = s
			}
		}},
		{"exp_years", func(c *models.Candidate, d pipeline.Decision) {
			if f, ok := d.FinalValue.(float64); ok {
				c.ExpYears = f
			}
		}},
	}
	for _, f := range fields {
		if len(pctx.Decisions.Proposals(f.name)) == 0 {
			continue
		}
		if err := pctx.ApplyDecision(f.name, f.apply); err != nil {
			return err
		}
	}

	// Fields outside the decision set carry over directly.
	current := pctx.Current
	current.Address = data.Address
	current.BirthYear = data.BirthYear
	current.CurrentCompany = data.CurrentCompany
	current.CurrentPosition = data.CurrentPosition
	current.Projects = data.Projects
	current.URLs = data.URLs
	current.Strengths = data.Strengths
	current.MatchReason = data.MatchReason

	pctx.RecalculateConfidence()
	return nil
}
