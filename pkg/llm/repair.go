package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RepairJSON recovers a JSON object from raw model output in three
// stages: strict parse, fenced-code extraction, then the first balanced
// brace span.
func RepairJSON(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)

	// Stage 1: strict parse.
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	// Stage 2: fenced code block.
	if fenced := extractFenced(trimmed); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), &out); err == nil {
			return out, nil
		}
	}

	// Stage 3: first balanced {...} span.
	if span := extractBalanced(trimmed); span != "" {
		if err := json.Unmarshal([]byte(span), &out); err == nil {
			return out, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object in model output (%d chars)", len(raw))
}

func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if len(tag) <= 8 && !strings.ContainsAny(tag, "{}") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// extractBalanced scans for the first balanced top-level object, tracking
// string literals so braces inside values do not break the count.
func extractBalanced(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// schemaPrompt renders the instruction block embedded in the system
// prompt for providers without server-side schema enforcement.
func schemaPrompt(schema *Schema) string {
	if schema == nil {
		return ""
	}
	return fmt.Sprintf(
		"\n\nRespond with a single JSON object only, no prose, matching this JSON Schema exactly:\n%s",
		string(schema.Schema))
}
