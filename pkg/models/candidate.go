// Package models defines the domain types shared across the pipeline:
// the candidate record under construction, persisted rows, chunks, queue
// jobs, and their status enums.
package models

import "time"

// CandidateStatus is the lifecycle status of a persisted candidate row.
type CandidateStatus string

// Candidate lifecycle states.
const (
	StatusProcessing CandidateStatus = "processing"
	StatusParsed     CandidateStatus = "parsed"
	StatusAnalyzed   CandidateStatus = "analyzed"
	StatusCompleted  CandidateStatus = "completed"
	StatusFailed     CandidateStatus = "failed"
	StatusDeleted    CandidateStatus = "deleted"
	StatusRejected   CandidateStatus = "rejected"
)

// Career is a single employment entry.
type Career struct {
	Company     string `json:"company"`
	Position    string `json:"position,omitempty"`
	StartDate   string `json:"start_date,omitempty"` // YYYY-MM
	EndDate     string `json:"end_date,omitempty"`   // YYYY-MM, empty = current
	IsCurrent   bool   `json:"is_current,omitempty"`
	Description string `json:"description,omitempty"`
}

// Education is a single education entry.
type Education struct {
	School    string `json:"school"`
	Major     string `json:"major,omitempty"`
	Degree    string `json:"degree,omitempty"` // normalized: HighSchool/Associate/Bachelor/Master/PhD
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	IsCurrent bool   `json:"is_current,omitempty"`
}

// Project is a single project entry.
type Project struct {
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Period      string   `json:"period,omitempty"`
	TechStack   []string `json:"tech_stack,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Candidate is the structured record progressively assembled by the
// pipeline and persisted on save. Contact fields hold plaintext while the
// record is in flight; the persistence layer stores masked strings plus
// ciphertext columns and never writes the plaintext.
type Candidate struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	JobID  string `json:"job_id,omitempty"`

	// Profile
	Name            string  `json:"name,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	Email           string  `json:"email,omitempty"`
	Address         string  `json:"address,omitempty"`
	BirthYear       int     `json:"birth_year,omitempty"`
	ExpYears        float64 `json:"exp_years,omitempty"`
	CurrentCompany  string  `json:"current_company,omitempty"`
	CurrentPosition string  `json:"current_position,omitempty"`

	Careers    []Career    `json:"careers,omitempty"`
	Educations []Education `json:"educations,omitempty"`
	Skills     []string    `json:"skills,omitempty"`
	Projects   []Project   `json:"projects,omitempty"`
	URLs       []string    `json:"urls,omitempty"`

	Summary     string   `json:"summary,omitempty"`
	Strengths   []string `json:"strengths,omitempty"`
	MatchReason string   `json:"match_reason,omitempty"`

	// Confidence: per-field scores in [0,1] and the weighted overall.
	FieldConfidence   map[string]float64 `json:"field_confidence,omitempty"`
	OverallConfidence float64            `json:"overall_confidence,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	Status     CandidateStatus `json:"status,omitempty"`
	SourceFile string          `json:"source_file,omitempty"`
	FileType   string          `json:"file_type,omitempty"`

	// Version stacking
	IsLatest bool   `json:"is_latest,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ConfidenceWeights are the weights for the overall score. Fields without
// a score are dropped from both numerator and denominator.
var ConfidenceWeights = map[string]float64{
	"name":       0.15,
	"exp_years":  0.20,
	"careers":    0.25,
	"skills":     0.20,
	"educations": 0.10,
	"summary":    0.10,
}

// WeightedOverallConfidence computes the weighted mean of the per-field
// scores over the weighted subset.
func WeightedOverallConfidence(fieldConfidence map[string]float64) float64 {
	var total, weightSum float64
	for field, weight := range ConfidenceWeights {
		score, ok := fieldConfidence[field]
		if !ok {
			continue
		}
		total += score * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// HasRequiredFields reports whether the record meets the minimum save
// criterion: name plus at least one contact field plus at least one career.
func (c *Candidate) HasRequiredFields() bool {
	if c.Name == "" {
		return false
	}
	if c.Phone == "" && c.Email == "" {
		return false
	}
	return len(c.Careers) > 0
}
