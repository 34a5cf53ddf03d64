// Package pii extracts candidate identity fields (name, phone, email)
// with regex heuristics only — no network calls — and builds the masked
// text that is the only form ever sent to an LLM.
package pii

import (
	"regexp"
	"strings"
)

// Source tags where a PII value was found.
const (
	SourceFilename   = "filename"
	SourceTextHeader = "text_header"
	SourceRegex      = "regex"
)

// Placeholders substituted into the masked text.
const (
	PlaceholderName  = "[NAME]"
	PlaceholderPhone = "[PHONE]"
	PlaceholderEmail = "[EMAIL]"
)

var (
	koreanNamePattern  = regexp.MustCompile(`^[가-힣]{2,4}$`)
	englishNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z\-.']*(?:\s+[A-Za-z][A-Za-z\-.']*)+$`)
	phonePattern       = regexp.MustCompile(`01[016789][-.\s]?\d{3,4}[-.\s]?\d{4}`)
	emailPattern       = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	nonDigitPattern    = regexp.MustCompile(`\D`)

	// Tokens stripped from filenames before name detection.
	resumeKeywords = []string{
		"이력서", "경력기술서", "자기소개서", "포트폴리오",
		"resume", "cv", "curriculum", "vitae", "profile", "portfolio",
		"final", "최종", "수정", "갱신",
	}

	// Section headings never accepted as a name from the text header.
	headingBlacklist = []string{
		"이력서", "경력", "학력", "자격증", "기술", "프로젝트", "자기소개",
		"resume", "career", "education", "experience", "skills",
		"projects", "summary", "profile", "contact", "introduction",
	}
)

// Field holds one extracted PII value with its provenance.
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Store holds extracted identity fields, the masked text, and the
// placeholder → original reverse mapping.
type Store struct {
	Name  Field `json:"name"`
	Phone Field `json:"phone"`
	Email Field `json:"email"`

	MaskedText string            `json:"-"`
	MaskingMap map[string]string `json:"-"`
}

// Extract runs the regex heuristics over the raw text and filename and
// returns a populated store with the masked text built.
func Extract(rawText, filename string) *Store {
	s := &Store{MaskingMap: make(map[string]string)}

	if name, conf, src := extractName(rawText, filename); name != "" {
		s.Name = Field{Value: name, Confidence: conf, Source: src}
	}
	if phone := phonePattern.FindString(rawText); phone != "" {
		s.Phone = Field{Value: CanonicalPhone(phone), Confidence: 0.90, Source: SourceRegex}
	}
	if email := emailPattern.FindString(rawText); email != "" {
		s.Email = Field{Value: email, Confidence: 0.95, Source: SourceRegex}
	}

	s.MaskedText = s.mask(rawText)
	return s
}

// HasAny reports whether at least one identity field was extracted.
func (s *Store) HasAny() bool {
	return s.Name.Value != "" || s.Phone.Value != "" || s.Email.Value != ""
}

// mask replaces every extracted value (and its format variants) with its
// placeholder and records the reverse mapping.
func (s *Store) mask(text string) string {
	masked := text

	if s.Name.Value != "" {
		masked = strings.ReplaceAll(masked, s.Name.Value, PlaceholderName)
		s.MaskingMap[PlaceholderName] = s.Name.Value
	}
	if s.Phone.Value != "" {
		for _, variant := range PhoneVariants(s.Phone.Value) {
			masked = strings.ReplaceAll(masked, variant, PlaceholderPhone)
		}
		s.MaskingMap[PlaceholderPhone] = s.Phone.Value
	}
	if s.Email.Value != "" {
		masked = strings.ReplaceAll(masked, s.Email.Value, PlaceholderEmail)
		s.MaskingMap[PlaceholderEmail] = s.Email.Value
	}

	return masked
}

// Unmask restores original values into text that contains placeholders.
func (s *Store) Unmask(text string) string {
	out := text
	for placeholder, original := range s.MaskingMap {
		out = strings.ReplaceAll(out, placeholder, original)
	}
	return out
}

// CanonicalPhone normalizes a matched phone to digits and re-inserts
// hyphens: 3-4-4 for 11 digits, 3-3-4 for 10.
func CanonicalPhone(raw string) string {
	digits := nonDigitPattern.ReplaceAllString(raw, "")
	switch len(digits) {
	case 11:
		return digits[:3] + "-" + digits[3:7] + "-" + digits[7:]
	case 10:
		return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	default:
		return digits
	}
}

// PhoneVariants lists the format variants of a canonical phone that the
// masker must catch: hyphenated, spaced, dotted, and bare digits.
func PhoneVariants(canonical string) []string {
	digits := nonDigitPattern.ReplaceAllString(canonical, "")
	variants := []string{canonical}
	if canonical != digits {
		variants = append(variants,
			strings.ReplaceAll(canonical, "-", " "),
			strings.ReplaceAll(canonical, "-", "."),
			digits,
		)
	}
	return variants
}

// extractName tries the filename first, then the first 200 characters of
// text, skipping known section headings.
func extractName(rawText, filename string) (name string, confidence float64, source string) {
	if candidate := nameFromFilename(filename); candidate != "" {
		return candidate, 0.85, SourceFilename
	}
	if candidate := nameFromHeader(rawText); candidate != "" {
		return candidate, 0.70, SourceTextHeader
	}
	return "", 0, ""
}

func nameFromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	base := filename
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	// Split on common separators and drop résumé keywords.
	parts := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '(' || r == ')' || r == '[' || r == ']'
	})
	var kept []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || isResumeKeyword(trimmed) || isNumeric(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}
	for _, candidate := range kept {
		if koreanNamePattern.MatchString(candidate) {
			return candidate
		}
	}
	if len(kept) > 0 {
		joined := strings.Join(kept, " ")
		if englishNamePattern.MatchString(joined) {
			return joined
		}
	}
	return ""
}

func nameFromHeader(rawText string) string {
	header := rawText
	if runes := []rune(header); len(runes) > 200 {
		header = string(runes[:200])
	}
	for _, line := range strings.Split(header, "\n") {
		token := strings.TrimSpace(line)
		if token == "" || isBlacklistedHeading(token) {
			continue
		}
		if koreanNamePattern.MatchString(token) {
			return token
		}
		if englishNamePattern.MatchString(token) && len(strings.Fields(token)) <= 4 {
			return token
		}
	}
	return ""
}

func isResumeKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range resumeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isBlacklistedHeading(s string) bool {
	lower := strings.ToLower(s)
	for _, heading := range headingBlacklist {
		if strings.Contains(lower, heading) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
