package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_StrictParse(t *testing.T) {
	out, err := RepairJSON(`{"name": "kim", "exp_years": 5}`)
	require.NoError(t, err)
	assert.Equal(t, "kim", out["name"])
	assert.Equal(t, float64(5), out["exp_years"])
}

func TestRepairJSON_FencedBlock(t *testing.T) {
	raw := "Here is the extraction:\n```json\n{\"name\": \"kim\"}\n```\nLet me know if you need more."
	out, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "kim", out["name"])
}

func TestRepairJSON_FencedBlockNoLanguageTag(t *testing.T) {
	raw := "```\n{\"ok\": true}\n```"
	out, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestRepairJSON_BalancedSpan(t *testing.T) {
	raw := `The result is {"name": "kim", "note": "value with } brace inside string"} as requested.`
	out, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "kim", out["name"])
}

func TestRepairJSON_NestedObjects(t *testing.T) {
	raw := `prefix {"outer": {"inner": {"deep": 1}}, "list": [1, 2]} suffix`
	out, err := RepairJSON(raw)
	require.NoError(t, err)
	outer := out["outer"].(map[string]any)
	assert.Contains(t, outer, "inner")
}

func TestRepairJSON_EscapedQuotes(t *testing.T) {
	raw := `{"quote": "he said \"hello {world}\""}`
	out, err := RepairJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `he said "hello {world}"`, out["quote"])
}

func TestRepairJSON_NoJSON(t *testing.T) {
	_, err := RepairJSON("I could not process this document, sorry.")
	assert.Error(t, err)
}
