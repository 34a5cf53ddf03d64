package pii

import "strings"

// IdentityCheck summarizes the distinct identities found in a document.
// More than one distinct identity means the upload likely bundles several
// people's résumés and must be rejected before any LLM analysis.
type IdentityCheck struct {
	Names  []string `json:"names"`
	Phones []string `json:"phones"`
	Emails []string `json:"emails"`
}

// MultipleIdentities reports whether more than one distinct identity was
// detected: two or more distinct phones, or two or more distinct emails,
// or both with multiple distinct names present.
func (c IdentityCheck) MultipleIdentities() bool {
	return len(c.Phones) > 1 || len(c.Emails) > 1
}

// DetectIdentities scans the full raw text for all phone and email
// occurrences and returns the distinct sets.
func DetectIdentities(rawText string) IdentityCheck {
	check := IdentityCheck{}

	seenPhones := make(map[string]bool)
	for _, m := range phonePattern.FindAllString(rawText, -1) {
		canonical := CanonicalPhone(m)
		if !seenPhones[canonical] {
			seenPhones[canonical] = true
			check.Phones = append(check.Phones, canonical)
		}
	}

	seenEmails := make(map[string]bool)
	for _, m := range emailPattern.FindAllString(rawText, -1) {
		lower := strings.ToLower(m)
		if !seenEmails[lower] {
			seenEmails[lower] = true
			check.Emails = append(check.Emails, m)
		}
	}

	return check
}
