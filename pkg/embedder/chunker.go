// Package embedder turns a candidate record into typed text chunks and
// generates 1536-dimension embedding vectors for them, batching first and
// falling back to per-chunk retries.
package embedder

import (
	"fmt"
	"strings"

	"github.com/talenthive/cvflow/pkg/models"
)

// Chunking parameters.
const (
	MaxStructuredChunkChars = 2000
	MaxRawFullChars         = 8000

	RawSectionWindow  = 1500
	RawSectionOverlap = 300

	// Hangul-dominant text gets wider windows: syllables carry more
	// information per character.
	KoreanWindow    = 2000
	KoreanOverlap   = 500
	KoreanThreshold = 0.5
)

// BuildChunks produces the full chunk set for a candidate: one summary,
// one per career, one per project, one skills, one education, one
// raw_full, and sliding raw_section windows. Truncated indicates the raw
// text exceeded the raw_full bound.
func BuildChunks(c *models.Candidate, rawText string) (chunks []models.Chunk, truncated bool) {
	add := func(t models.ChunkType, content string, metadata map[string]any) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if t != models.ChunkRawFull && t != models.ChunkRawSection && len([]rune(content)) > MaxStructuredChunkChars {
			content = string([]rune(content)[:MaxStructuredChunkChars])
		}
		chunks = append(chunks, models.Chunk{
			Index:      len(chunks),
			Type:       t,
			Content:    content,
			Metadata:   metadata,
			TokenCount: EstimateTokens(content),
		})
	}

	add(models.ChunkSummary, buildSummaryContent(c), nil)

	for i, career := range c.Careers {
		add(models.ChunkCareer, buildCareerContent(career), map[string]any{
			"career_index": i, "company": career.Company,
		})
	}
	for i, project := range c.Projects {
		add(models.ChunkProject, buildProjectContent(project), map[string]any{
			"project_index": i, "project": project.Name,
		})
	}
	add(models.ChunkSkill, buildSkillContent(c.Skills), nil)
	add(models.ChunkEducation, buildEducationContent(c.Educations), nil)

	if rawText != "" {
		full := rawText
		if runes := []rune(full); len(runes) > MaxRawFullChars {
			full = string(runes[:MaxRawFullChars])
			truncated = true
		}
		add(models.ChunkRawFull, full, map[string]any{"truncated": truncated})

		for _, section := range buildRawSections(rawText) {
			add(models.ChunkRawSection, section.text, map[string]any{
				"offset": section.offset, "korean_optimized": section.korean,
			})
		}
	}

	return chunks, truncated
}

type rawSection struct {
	text   string
	offset int
	korean bool
}

// buildRawSections slides a window over the raw text. Window and overlap
// widen for Hangul-dominant text.
func buildRawSections(rawText string) []rawSection {
	runes := []rune(rawText)
	window, overlap := RawSectionWindow, RawSectionOverlap
	korean := IsKoreanDominant(rawText)
	if korean {
		window, overlap = KoreanWindow, KoreanOverlap
	}

	if len(runes) <= window {
		return []rawSection{{text: rawText, offset: 0, korean: korean}}
	}

	stride := window - overlap
	var sections []rawSection
	for start := 0; start < len(runes); start += stride {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		sections = append(sections, rawSection{
			text:   string(runes[start:end]),
			offset: start,
			korean: korean,
		})
		if end == len(runes) {
			break
		}
	}
	return sections
}

// IsKoreanDominant reports whether more than half of the non-whitespace
// characters fall in the Hangul syllable block.
func IsKoreanDominant(text string) bool {
	var korean, total int
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		total++
		if r >= 0xAC00 && r <= 0xD7A3 {
			korean++
		}
	}
	if total == 0 {
		return false
	}
	return float64(korean)/float64(total) > KoreanThreshold
}

// EstimateTokens approximates the embedding tokenizer: Hangul ~2.5
// tokens per character, everything else ~4 characters per token.
func EstimateTokens(text string) int {
	var korean, other int
	for _, r := range text {
		if r >= 0xAC00 && r <= 0xD7A3 {
			korean++
		} else {
			other++
		}
	}
	return int(float64(korean)*2.5 + float64(other)/4)
}

func buildSummaryContent(c *models.Candidate) string {
	var sb strings.Builder
	if c.Name != "" {
		fmt.Fprintf(&sb, "%s. ", c.Name)
	}
	if c.ExpYears > 0 {
		fmt.Fprintf(&sb, "%.1f years of experience. ", c.ExpYears)
	}
	if c.CurrentCompany != "" {
		fmt.Fprintf(&sb, "Currently %s at %s. ", orDefault(c.CurrentPosition, "working"), c.CurrentCompany)
	}
	if c.Summary != "" {
		sb.WriteString(c.Summary)
		sb.WriteString(" ")
	}
	if len(c.Strengths) > 0 {
		fmt.Fprintf(&sb, "Strengths: %s. ", strings.Join(c.Strengths, ", "))
	}
	if len(c.Skills) > 0 {
		top := c.Skills
		if len(top) > 5 {
			top = top[:5]
		}
		fmt.Fprintf(&sb, "Key skills: %s.", strings.Join(top, ", "))
	}
	return sb.String()
}

func buildCareerContent(career models.Career) string {
	var sb strings.Builder
	sb.WriteString(career.Company)
	if career.Position != "" {
		fmt.Fprintf(&sb, " — %s", career.Position)
	}
	if career.StartDate != "" {
		end := career.EndDate
		if end == "" {
			end = "present"
		}
		fmt.Fprintf(&sb, " (%s ~ %s)", career.StartDate, end)
	}
	if career.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(career.Description)
	}
	return sb.String()
}

func buildProjectContent(project models.Project) string {
	var sb strings.Builder
	sb.WriteString(project.Name)
	if project.Role != "" {
		fmt.Fprintf(&sb, " — %s", project.Role)
	}
	if project.Period != "" {
		fmt.Fprintf(&sb, " (%s)", project.Period)
	}
	if len(project.TechStack) > 0 {
		fmt.Fprintf(&sb, "\nStack: %s", strings.Join(project.TechStack, ", "))
	}
	if project.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(project.Description)
	}
	return sb.String()
}

// buildSkillContent groups skills into rough categories so the vector
// carries structure, not just a flat list.
func buildSkillContent(skills []string) string {
	if len(skills) == 0 {
		return ""
	}
	categories := map[string][]string{}
	order := []string{"programming", "frameworks", "databases", "cloud", "other"}
	for _, skill := range skills {
		categories[categorizeSkill(skill)] = append(categories[categorizeSkill(skill)], skill)
	}
	var sb strings.Builder
	for _, cat := range order {
		if len(categories[cat]) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", cat, strings.Join(categories[cat], ", "))
	}
	return sb.String()
}

var skillCategories = map[string]string{
	"go": "programming", "golang": "programming", "python": "programming",
	"java": "programming", "javascript": "programming", "typescript": "programming",
	"c": "programming", "c++": "programming", "c#": "programming", "kotlin": "programming",
	"swift": "programming", "rust": "programming", "ruby": "programming", "php": "programming",
	"react": "frameworks", "vue": "frameworks", "angular": "frameworks",
	"spring": "frameworks", "django": "frameworks", "flask": "frameworks",
	"fastapi": "frameworks", "express": "frameworks", "next.js": "frameworks",
	"nestjs": "frameworks", "gin": "frameworks",
	"mysql": "databases", "postgresql": "databases", "postgres": "databases",
	"mongodb": "databases", "redis": "databases", "oracle": "databases",
	"elasticsearch": "databases", "dynamodb": "databases",
	"aws": "cloud", "gcp": "cloud", "azure": "cloud", "kubernetes": "cloud",
	"docker": "cloud", "terraform": "cloud",
}

func categorizeSkill(skill string) string {
	if cat, ok := skillCategories[strings.ToLower(strings.TrimSpace(skill))]; ok {
		return cat
	}
	return "other"
}

func buildEducationContent(educations []models.Education) string {
	if len(educations) == 0 {
		return ""
	}
	highest := educations[0]
	for _, e := range educations[1:] {
		if degreeRank(e.Degree) > degreeRank(highest.Degree) {
			highest = e
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Highest: %s", highest.School)
	if highest.Major != "" {
		fmt.Fprintf(&sb, ", %s", highest.Major)
	}
	if highest.Degree != "" {
		fmt.Fprintf(&sb, " (%s)", highest.Degree)
	}
	sb.WriteString("\n")
	for _, e := range educations {
		fmt.Fprintf(&sb, "- %s", e.School)
		if e.Major != "" {
			fmt.Fprintf(&sb, " / %s", e.Major)
		}
		if e.Degree != "" {
			fmt.Fprintf(&sb, " / %s", e.Degree)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func degreeRank(degree string) int {
	switch degree {
	case "PhD":
		return 5
	case "Master":
		return 4
	case "Bachelor":
		return 3
	case "Associate":
		return 2
	case "HighSchool":
		return 1
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
