package privacy

import (
	"regexp"
	"strings"

	"github.com/talenthive/cvflow/pkg/models"
)

// Patterns swept over nested free-text fields. Matches are replaced in
// place before the record leaves the pipeline.
var sweepPatterns = []struct {
	name    string
	regex   *regexp.Regexp
	replace string
}{
	{"phone", regexp.MustCompile(`01[016789][-.\s]?\d{3,4}[-.\s]?\d{4}`), "[PHONE]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{"national_id", regexp.MustCompile(`\d{6}[-\s]?[1-4]\d{6}`), "[ID]"},
	{"credit_card", regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`), "[CARD]"},
	{"passport", regexp.MustCompile(`\b[A-Z]{1,2}\d{7,8}\b`), "[PASSPORT]"},
}

// MaskPhone reveals the first block and last 4 digits, starring the
// middle: 010-1234-5678 → 010-****-5678.
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	parts := strings.Split(phone, "-")
	if len(parts) == 3 {
		return parts[0] + "-" + strings.Repeat("*", len(parts[1])) + "-" + parts[2]
	}
	digits := regexp.MustCompile(`\D`).ReplaceAllString(phone, "")
	if len(digits) >= 8 {
		return digits[:3] + strings.Repeat("*", len(digits)-7) + digits[len(digits)-4:]
	}
	return strings.Repeat("*", len(phone))
}

// MaskEmail reveals the first 2 characters of the local part and the full
// domain: someone@example.com → so*****@example.com.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return local + "***" + domain
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + domain
}

// MaskAddress keeps the first two whitespace-delimited tokens and stars
// the rest.
func MaskAddress(address string) string {
	tokens := strings.Fields(address)
	if len(tokens) <= 2 {
		return address
	}
	masked := append([]string{}, tokens[:2]...)
	for range tokens[2:] {
		masked = append(masked, "***")
	}
	return strings.Join(masked, " ")
}

// SweepText masks every PII pattern occurrence in a free-text field.
// Returns the masked text and the pattern names that matched.
func SweepText(text string) (string, []string) {
	if text == "" {
		return text, nil
	}
	var hits []string
	out := text
	for _, p := range sweepPatterns {
		if p.regex.MatchString(out) {
			out = p.regex.ReplaceAllString(out, p.replace)
			hits = append(hits, p.name)
		}
	}
	return out, hits
}

// MaskCandidate applies display masking to the record's contact fields
// and sweeps nested free-text fields (summary, career and project
// descriptions) for residual PII. Returns the pattern names found in
// nested fields.
func MaskCandidate(c *models.Candidate) []string {
	c.Phone = MaskPhone(c.Phone)
	c.Email = MaskEmail(c.Email)
	c.Address = MaskAddress(c.Address)

	var found []string
	record := func(hits []string) {
		for _, h := range hits {
			found = append(found, h)
		}
	}

	var hits []string
	c.Summary, hits = SweepText(c.Summary)
	record(hits)
	for i := range c.Careers {
		c.Careers[i].Description, hits = SweepText(c.Careers[i].Description)
		record(hits)
	}
	for i := range c.Projects {
		c.Projects[i].Description, hits = SweepText(c.Projects[i].Description)
		record(hits)
	}
	return found
}
