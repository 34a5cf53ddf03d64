package analyst

import (
	"fmt"

	"github.com/talenthive/cvflow/pkg/llm"
)

// resumeSchema is the structured-output contract shared by all providers.
// OpenAI enforces it server-side; the others receive it in the system
// prompt.
var resumeSchema = &llm.Schema{
	Name: "resume_extraction",
	Schema: []byte(`{
  "type": "object",
  "properties": {
    "name": {"type": ["string", "null"]},
    "phone": {"type": ["string", "null"]},
    "email": {"type": ["string", "null"]},
    "address": {"type": ["string", "null"]},
    "birth_year": {"type": ["integer", "null"]},
    "exp_years": {"type": ["number", "null"], "description": "total professional experience in years"},
    "current_company": {"type": ["string", "null"]},
    "current_position": {"type": ["string", "null"]},
    "careers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "company": {"type": "string"},
          "position": {"type": ["string", "null"]},
          "start_date": {"type": ["string", "null"], "description": "YYYY-MM"},
          "end_date": {"type": ["string", "null"], "description": "YYYY-MM, null if current"},
          "is_current": {"type": ["boolean", "null"]},
          "description": {"type": ["string", "null"]}
        },
        "required": ["company"]
      }
    },
    "educations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "school": {"type": "string"},
          "major": {"type": ["string", "null"]},
          "degree": {"type": ["string", "null"]},
          "start_date": {"type": ["string", "null"]},
          "end_date": {"type": ["string", "null"]}
        },
        "required": ["school"]
      }
    },
    "skills": {"type": "array", "items": {"type": "string"}},
    "projects": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "role": {"type": ["string", "null"]},
          "period": {"type": ["string", "null"]},
          "tech_stack": {"type": "array", "items": {"type": "string"}},
          "description": {"type": ["string", "null"]}
        },
        "required": ["name"]
      }
    },
    "urls": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": ["string", "null"], "description": "3-5 sentence professional summary"},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "match_reason": {"type": ["string", "null"], "description": "one-sentence recruiter-facing hook"}
  },
  "required": ["careers", "educations", "skills"]
}`),
}

const systemPrompt = `You are a résumé analysis engine. Extract structured candidate data from the résumé text the user provides. The text may contain [NAME], [PHONE], and [EMAIL] placeholders where identity fields were masked; return those placeholders verbatim, never invent replacements. Extract only information present in the text. Use null for anything absent. Dates must be formatted YYYY-MM.`

func buildMessages(text string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Résumé text:\n\n%s", text)},
	}
}
