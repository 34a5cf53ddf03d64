// Package validation checks and normalizes extracted candidate fields:
// a deterministic rule layer (regex and canonicalization) plus an
// optional LLM verification layer for complex fields.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	namePattern  = regexp.MustCompile(`^(?:[가-힣]{2,4}|[A-Za-z][A-Za-z\-.']*(?:\s+[A-Za-z][A-Za-z\-.']*){1,3})$`)
	phonePattern = regexp.MustCompile(`^01[016789]-\d{3,4}-\d{4}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	yearMonthPattern = regexp.MustCompile(`(\d{4})[.\-/년\s]+(\d{1,2})`)
	yearOnlyPattern  = regexp.MustCompile(`^(\d{4})[.\-/년\s]*$`)

	companySuffixes = []string{
		"(주)", "(유)", "㈜", "주식회사", "유한회사",
		"Inc.", "Inc", "Co., Ltd.", "Co.,Ltd.", "Co. Ltd.", "Ltd.", "Ltd",
		"LLC", "Corp.", "Corp", "Corporation", "GmbH",
	}

	monthNames = map[string]int{
		"january": 1, "february": 2, "march": 3, "april": 4,
		"may": 5, "june": 6, "july": 7, "august": 8,
		"september": 9, "october": 10, "november": 11, "december": 12,
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
)

// ValidName reports whether the value is a plausible person name
// (2–4 Hangul syllables or a 2–4 token Latin name).
func ValidName(s string) bool {
	return namePattern.MatchString(strings.TrimSpace(s))
}

// ValidPhone reports whether the value is a canonical mobile number.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(strings.TrimSpace(s))
}

// ValidEmail reports whether the value is a plausible email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// NormalizeDate converts assorted date spellings to YYYY-MM. Returns the
// input unchanged (and false) when no year can be recognized. Year-only
// inputs resolve to YYYY-01.
func NormalizeDate(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}

	if m := yearMonthPattern.FindStringSubmatch(trimmed); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 && year >= 1950 && year <= 2100 {
			return fmt.Sprintf("%04d-%02d", year, month), true
		}
	}

	// "March 2021" style.
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(trimmed, ",", " ")))
	if len(fields) == 2 {
		if month, ok := monthNames[fields[0]]; ok {
			if year, err := strconv.Atoi(fields[1]); err == nil && year >= 1950 && year <= 2100 {
				return fmt.Sprintf("%04d-%02d", year, month), true
			}
		}
	}

	if m := yearOnlyPattern.FindStringSubmatch(trimmed); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year >= 1950 && year <= 2100 {
			return fmt.Sprintf("%04d-01", year), true
		}
	}

	return trimmed, false
}

// NormalizeDegree maps localized degree spellings onto the canonical set.
func NormalizeDegree(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "":
		return ""
	case strings.Contains(lower, "박사") || strings.Contains(lower, "phd") ||
		strings.Contains(lower, "ph.d") || strings.Contains(lower, "doctor"):
		return "PhD"
	case strings.Contains(lower, "석사") || strings.Contains(lower, "master") ||
		strings.Contains(lower, "msc") || strings.Contains(lower, "mba"):
		return "Master"
	case strings.Contains(lower, "전문학사") || strings.Contains(lower, "associate") ||
		strings.Contains(lower, "전문대"):
		return "Associate"
	case strings.Contains(lower, "학사") || strings.Contains(lower, "bachelor") ||
		strings.Contains(lower, "bsc") || strings.Contains(lower, "대학교 졸업"):
		return "Bachelor"
	case strings.Contains(lower, "고졸") || strings.Contains(lower, "고등학교") ||
		strings.Contains(lower, "high school"):
		return "HighSchool"
	}
	return strings.TrimSpace(s)
}

// CanonicalCompany strips corporate suffixes and normalizes whitespace so
// the same employer spelled differently compares equal.
func CanonicalCompany(s string) string {
	out := strings.TrimSpace(s)
	for _, suffix := range companySuffixes {
		out = strings.TrimSpace(strings.TrimPrefix(out, suffix))
		out = strings.TrimSpace(strings.TrimSuffix(out, suffix))
	}
	return strings.Join(strings.Fields(out), " ")
}
