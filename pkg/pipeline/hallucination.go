package pipeline

import (
	"strings"
	"sync"
)

// HallucinationSeverity grades a detected hallucination.
type HallucinationSeverity string

// Hallucination severities.
const (
	HallucinationLow      HallucinationSeverity = "low"
	HallucinationMedium   HallucinationSeverity = "medium"
	HallucinationHigh     HallucinationSeverity = "high"
	HallucinationCritical HallucinationSeverity = "critical"
)

// HallucinationRecord is one extracted value with no textual basis in the
// source document.
type HallucinationRecord struct {
	Field           string                `json:"field"`
	Value           any                   `json:"hallucinated_value"`
	DetectionMethod string                `json:"detection_method"` // "textual_absence" | "provider_disagreement"
	Severity        HallucinationSeverity `json:"severity"`
	Resolved        bool                  `json:"resolved"`
}

// HallucinationDetector checks extracted values against the source text.
// Values absent from the text are flagged; critical identity fields get a
// higher severity.
type HallucinationDetector struct {
	mu      sync.Mutex
	source  string // lower-cased raw text
	records []HallucinationRecord
}

// NewHallucinationDetector creates a detector with no source text;
// SetSource installs it.
func NewHallucinationDetector() *HallucinationDetector {
	return &HallucinationDetector{}
}

// SetSource installs the parsed raw text the detector checks against.
func (d *HallucinationDetector) SetSource(rawText string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.source = strings.ToLower(rawText)
}

// CheckTextual flags a string value that does not occur in the source
// text. Short values (<3 chars) and empty sources are skipped. Returns
// true when a hallucination was recorded.
func (d *HallucinationDetector) CheckTextual(field string, value string) bool {
	trimmed := strings.TrimSpace(value)
	if len([]rune(trimmed)) < 3 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source == "" {
		return false
	}
	if strings.Contains(d.source, strings.ToLower(trimmed)) {
		return false
	}
	severity := HallucinationMedium
	switch field {
	case "name", "phone", "email":
		severity = HallucinationCritical
	case "current_company", "current_position":
		severity = HallucinationHigh
	}
	d.records = append(d.records, HallucinationRecord{
		Field:           field,
		Value:           value,
		DetectionMethod: "textual_absence",
		Severity:        severity,
	})
	return true
}

// RecordDisagreement flags a value that providers disagreed on beyond the
// merge rule's tolerance.
func (d *HallucinationDetector) RecordDisagreement(field string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, HallucinationRecord{
		Field:           field,
		Value:           value,
		DetectionMethod: "provider_disagreement",
		Severity:        HallucinationHigh,
	})
}

// Resolve marks all records for a field resolved (a corrected value was
// decided).
func (d *HallucinationDetector) Resolve(field string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.records {
		if d.records[i].Field == field {
			d.records[i].Resolved = true
		}
	}
}

// Records returns a copy of the detection records.
func (d *HallucinationDetector) Records() []HallucinationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]HallucinationRecord, len(d.records))
	copy(out, d.records)
	return out
}

// UnresolvedCount returns the number of unresolved records.
func (d *HallucinationDetector) UnresolvedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.records {
		if !r.Resolved {
			n++
		}
	}
	return n
}
