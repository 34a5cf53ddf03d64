package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("김철수"))
	assert.True(t, ValidName("남궁민수"))
	assert.True(t, ValidName("John Smith"))
	assert.True(t, ValidName("Mary Jane Watson"))
	assert.False(t, ValidName("김"))
	assert.False(t, ValidName("경력기술서입니다"))
	assert.False(t, ValidName("john"))
	assert.False(t, ValidName(""))
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("010-1234-5678"))
	assert.True(t, ValidPhone("010-123-4567"))
	assert.False(t, ValidPhone("01012345678"), "canonical form requires hyphens")
	assert.False(t, ValidPhone("02-123-4567"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("kim@example.com"))
	assert.True(t, ValidEmail("chulsoo.kim+cv@example.co.kr"))
	assert.False(t, ValidEmail("[EMAIL]"))
	assert.False(t, ValidEmail("kim@"))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2021.03", "2021-03", true},
		{"2021/3", "2021-03", true},
		{"2021-03", "2021-03", true},
		{"2021년 3월", "2021-03", true},
		{"March 2021", "2021-03", true},
		{"Mar 2021", "2021-03", true},
		{"2021", "2021-01", true},
		{"재직중", "재직중", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDate(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestNormalizeDegree(t *testing.T) {
	tests := map[string]string{
		"석사":               "Master",
		"Master of Science": "Master",
		"MBA":               "Master",
		"학사":               "Bachelor",
		"Bachelor's":        "Bachelor",
		"박사":               "PhD",
		"Ph.D":              "PhD",
		"전문학사":             "Associate",
		"고졸":               "HighSchool",
		"":                 "",
		"수료":               "수료",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDegree(in), "input %q", in)
	}
}

func TestCanonicalCompany(t *testing.T) {
	tests := map[string]string{
		"(주)카카오":         "카카오",
		"카카오 (주)":        "카카오",
		"주식회사 네이버":       "네이버",
		"Acme Inc.":      "Acme",
		"Globex Co., Ltd.": "Globex",
		"  Initech   Corp. ": "Initech",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalCompany(in), "input %q", in)
	}
}

func TestAdjustConfidence_Clamped(t *testing.T) {
	assert.InDelta(t, 0.95, AdjustConfidence(0.85, true), 0.001)
	assert.InDelta(t, 0.75, AdjustConfidence(0.85, false), 0.001)
	assert.Equal(t, 1.0, AdjustConfidence(0.95, true))
	assert.Equal(t, 0.0, AdjustConfidence(0.05, false))
}
