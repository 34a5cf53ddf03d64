package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/talenthive/cvflow/pkg/embedder"
	"github.com/talenthive/cvflow/pkg/models"
	"github.com/talenthive/cvflow/pkg/parser"
	"github.com/talenthive/cvflow/pkg/pii"
	"github.com/talenthive/cvflow/pkg/persistence"
	"github.com/talenthive/cvflow/pkg/pipeline"
	"github.com/talenthive/cvflow/pkg/privacy"
	"github.com/talenthive/cvflow/pkg/router"
	"github.com/talenthive/cvflow/pkg/validation"
)

var nonDigits = regexp.MustCompile(`\D`)

// stageParse resolves the input into cleaned text: pre-extracted text is
// accepted as-is; bytes (inline or downloaded) go through the router and
// the format engine.
func (o *Orchestrator) stageParse(ctx context.Context, pctx *pipeline.Context, input *Input) error {
	if input.Text != "" {
		pctx.SetParsedText(input.Text, "")
		pctx.ParsedData.ParseMethod = "text_input"
		pctx.ParsedData.Confidence = 1.0
		return o.checkTextLength(pctx)
	}

	data := input.Data
	if data == nil {
		if input.FilePath == "" {
			return fmt.Errorf("no input: text, bytes, or file path required")
		}
		downloaded, err := o.objects.Download(ctx, input.FilePath)
		if err != nil {
			return err
		}
		data = downloaded
	}

	if err := pctx.SetRawInput(data, input.FileName, input.Source); err != nil {
		return fmt.Errorf("invalid file: %w", err)
	}

	verdict := router.Classify(data, input.FileName)
	pctx.Current.FileType = string(verdict.Type)
	pctx.Current.SourceFile = input.FileName
	if verdict.Rejected {
		switch {
		case verdict.Encrypted:
			return fmt.Errorf("file is encrypted: %s", verdict.RejectReason)
		case verdict.Type == router.TypeUnknown:
			return fmt.Errorf("unsupported file: %s", verdict.RejectReason)
		default:
			return fmt.Errorf("invalid file: %s", verdict.RejectReason)
		}
	}

	doc, err := o.dispatcher.Parse(ctx, verdict.Type, data)
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}

	pctx.SetParsedText(doc.Text, "")
	pctx.ParsedData.PageCount = doc.PageCount
	pctx.ParsedData.ParseMethod = doc.Method
	pctx.ParsedData.Confidence = parseConfidence(doc)
	for _, w := range doc.Warnings {
		pctx.Warnings.AddFieldWarning(pipeline.WarnParsingIssue, pipeline.SeverityInfo,
			"", pipeline.StageParsing, w)
	}

	return o.checkTextLength(pctx)
}

func (o *Orchestrator) checkTextLength(pctx *pipeline.Context) error {
	length := len([]rune(pctx.ParsedData.RawText))
	if length < o.cfg.Pipeline.MinTextLength {
		return fmt.Errorf("text too short: %d chars (minimum %d)", length, o.cfg.Pipeline.MinTextLength)
	}
	return nil
}

// stagePII extracts identity fields and records them as high-authority
// proposals so LLM output cannot silently override regex-extracted
// contacts.
func (o *Orchestrator) stagePII(pctx *pipeline.Context) error {
	pctx.ExtractPII()
	store := pctx.PII
	if store == nil {
		return nil
	}

	propose := func(field string, f pii.Field) {
		if f.Value == "" {
			return
		}
		pctx.Decisions.Propose(field, pipeline.Proposal{
			Agent:      "pii_extractor",
			Value:      f.Value,
			Confidence: f.Confidence,
			Reasoning:  "regex extraction from " + f.Source,
		})
		pctx.Evidence.Add(field, pipeline.Evidence{
			Value:      f.Value,
			Provider:   "regex",
			Confidence: f.Confidence,
			Reasoning:  "regex extraction from " + f.Source,
		})
	}
	propose("name", store.Name)
	propose("phone", store.Phone)
	propose("email", store.Email)
	return nil
}

// stageRuleValidation normalizes dates, degrees, and company names in
// place.
func (o *Orchestrator) stageRuleValidation(pctx *pipeline.Context) {
	c := pctx.Current
	for i := range c.Careers {
		if normalized, ok := validation.NormalizeDate(c.Careers[i].StartDate); ok {
			c.Careers[i].StartDate = normalized
		}
		if normalized, ok := validation.NormalizeDate(c.Careers[i].EndDate); ok {
			c.Careers[i].EndDate = normalized
		}
		c.Careers[i].Company = validation.CanonicalCompany(c.Careers[i].Company)
	}
	for i := range c.Educations {
		c.Educations[i].Degree = validation.NormalizeDegree(c.Educations[i].Degree)
		if normalized, ok := validation.NormalizeDate(c.Educations[i].StartDate); ok {
			c.Educations[i].StartDate = normalized
		}
		if normalized, ok := validation.NormalizeDate(c.Educations[i].EndDate); ok {
			c.Educations[i].EndDate = normalized
		}
	}
	if c.CurrentCompany != "" {
		c.CurrentCompany = validation.CanonicalCompany(c.CurrentCompany)
	}

	// PII format sanity on decided values.
	if c.Phone != "" && !validation.ValidPhone(c.Phone) {
		pctx.Warnings.AddFieldWarning(pipeline.WarnValidationFailed, pipeline.SeverityWarning,
			"phone", pipeline.StageValidation, "phone failed format validation")
	}
	if c.Email != "" && !validation.ValidEmail(c.Email) {
		pctx.Warnings.AddFieldWarning(pipeline.WarnValidationFailed, pipeline.SeverityWarning,
			"email", pipeline.StageValidation, "email failed format validation")
	}
}

// stageLLMValidation verifies complex fields against the source text.
// Failures degrade to warnings; corrections replace invalid values.
func (o *Orchestrator) stageLLMValidation(ctx context.Context, pctx *pipeline.Context) {
	c := pctx.Current
	source := pctx.TextForLLM()

	values := map[string]any{
		"exp_years":        c.ExpYears,
		"current_company":  c.CurrentCompany,
		"current_position": c.CurrentPosition,
		"summary":          c.Summary,
	}
	providers := o.llm.Available()
	if len(providers) == 0 {
		return
	}

	for _, field := range validation.VerifiableFields() {
		value, ok := values[field]
		if !ok || value == nil || value == "" || value == 0.0 {
			continue
		}
		if !pctx.Guardrails.AllowLLMCall(pipeline.StageValidation) {
			pctx.Logger().Warn("Validation LLM budget exhausted", "field", field)
			return
		}
		check, err := o.verifier.VerifyField(ctx, providers[0], field, value, source)
		if err != nil {
			pctx.Warnings.AddFieldWarning(pipeline.WarnValidationFailed, pipeline.SeverityInfo,
				field, pipeline.StageValidation, "LLM verification unavailable")
			continue
		}
		pctx.Stages.AddTokens(pipeline.StageValidation, check.Usage.Prompt, check.Usage.Completion)
		pctx.Meta.AddUsage(check.Usage.Prompt, check.Usage.Completion, 0)

		if conf, present := c.FieldConfidence[field]; present {
			c.FieldConfidence[field] = validation.AdjustConfidence(conf, check.IsValid)
		}
		if correction, hasCorrection := validation.CorrectionString(check); hasCorrection {
			pctx.Decisions.Propose(field, pipeline.Proposal{
				Agent:      "validation_agent",
				Value:      correction,
				Confidence: check.Confidence,
				Reasoning:  check.Reasoning,
			})
			applyCorrection(c, field, correction)
			pctx.Audit.LogUpdate("validation_agent", field, value, correction, "LLM correction")
			pctx.Hallucination.Resolve(field)
		}
		if !check.IsValid {
			pctx.Warnings.AddFieldWarning(pipeline.WarnValidationFailed, pipeline.SeverityWarning,
				field, pipeline.StageValidation, "value not supported by source text")
		}
	}
	pctx.RecalculateConfidence()
}

// stageHallucinationCheck flags decided values with no textual basis.
func (o *Orchestrator) stageHallucinationCheck(pctx *pipeline.Context) {
	c := pctx.Current
	checks := map[string]string{
		"current_company":  c.CurrentCompany,
		"current_position": c.CurrentPosition,
	}
	for field, value := range checks {
		if value == "" {
			continue
		}
		if pctx.Hallucination.CheckTextual(field, value) {
			pctx.Warnings.AddFieldWarning(pipeline.WarnHallucination, pipeline.SeverityWarning,
				field, pipeline.StageValidation, "value has no textual basis in the document")
		}
	}
}

// stagePrivacy derives dedup hashes and ciphertexts from the plaintext
// contacts, then masks the record for display and sweeps nested text.
func (o *Orchestrator) stagePrivacy(pctx *pipeline.Context, input *Input, result *Result) (*persistence.Record, error) {
	c := pctx.Current
	record := &persistence.Record{Candidate: c}

	plainPhone, plainEmail := c.Phone, c.Email
	if plainPhone != "" {
		digits := nonDigits.ReplaceAllString(plainPhone, "")
		record.PhoneHash = privacy.DedupHash(digits)
		if len(digits) >= 7 {
			record.PhonePrefix = digits[3:7]
		}
	}
	if plainEmail != "" {
		record.EmailHash = privacy.DedupHash(strings.ToLower(plainEmail))
	}

	if o.cipher != nil {
		if plainPhone != "" {
			encrypted, err := o.cipher.Encrypt(plainPhone)
			if err != nil {
				return nil, fmt.Errorf("encrypt phone: %w", err)
			}
			record.PhoneEncrypted = encrypted
		}
		if plainEmail != "" {
			encrypted, err := o.cipher.Encrypt(plainEmail)
			if err != nil {
				return nil, fmt.Errorf("encrypt email: %w", err)
			}
			record.EmailEncrypted = encrypted
		}
	}

	if input.MaskPII {
		swept := privacy.MaskCandidate(c)
		types := map[string]bool{}
		if plainPhone != "" {
			types["phone"] = true
		}
		if plainEmail != "" {
			types["email"] = true
		}
		if c.Name != "" {
			types["name"] = true
		}
		for _, t := range swept {
			types[t] = true
		}
		for t := range types {
			result.PIITypes = append(result.PIITypes, t)
		}
		result.PIICount = len(result.PIITypes)
	}

	c.Warnings = pctx.Warnings.Messages()
	return record, nil
}

// stageSave persists the record and chunks under the compensation log
// and debits credit exactly once on first successful save.
func (o *Orchestrator) stageSave(ctx context.Context, pctx *pipeline.Context, input *Input, record *persistence.Record, embedResult *embedder.Result, result *Result) error {
	sc := persistence.NewSaveContext(o.store.DB())

	record.Candidate.Status = models.StatusAnalyzed
	saveResult, err := o.store.SaveCandidate(ctx, sc, input.UserID, record)
	if err != nil {
		sc.Rollback(ctx)
		return err
	}
	result.CandidateID = saveResult.CandidateID
	result.IsUpdate = saveResult.IsUpdate
	result.ParentID = saveResult.ParentID
	pctx.Meta.CandidateID = saveResult.CandidateID
	pctx.Audit.LogCreate("persistence", "candidate", saveResult.CandidateID)
	if saveResult.IsUpdate {
		pctx.Audit.LogUpdate("persistence", "candidate:"+saveResult.ParentID,
			map[string]any{"is_latest": true}, map[string]any{"is_latest": false}, "version stacking")
	}

	if embedResult != nil {
		chunks := embedResult.Embedded()
		saved, err := o.store.SaveChunks(ctx, sc, saveResult.CandidateID, saveResult.ParentID, chunks)
		if err != nil {
			sc.Rollback(ctx)
			return fmt.Errorf("save chunks: %w", err)
		}
		result.ChunksSaved = saved
	}

	// Credit: exactly once, only on first successful save — never on a
	// duplicate update, never when the caller skips deduction (retries).
	if !input.SkipCredit && !saveResult.IsUpdate {
		if err := o.store.DeductCredit(ctx, input.UserID, saveResult.CandidateID); err != nil {
			sc.Rollback(ctx)
			return fmt.Errorf("insufficient credits: %w", err)
		}
		result.CreditConsumed = true
	}

	sc.Commit()
	return nil
}


func applyCorrection(c *models.Candidate, field, value string) {
	switch field {
	case "current_company":
		c.CurrentCompany = value
	case "current_position":
		c.CurrentPosition = value
	case "summary":
		c.Summary = value
	}
}

func parseConfidence(doc *parser.Document) float64 {
	if len(doc.Text) == 0 {
		return 0
	}
	if len(doc.Warnings) > 0 {
		return 0.7
	}
	return 0.95
}
