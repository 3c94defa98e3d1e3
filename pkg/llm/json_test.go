package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_PlainObject(t *testing.T) {
	out, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, out)
}

func TestExtractJSON_MarkdownFence(t *testing.T) {
	out, err := ExtractJSON("Here you go:\n```json\n{\"rules\": []}\n```\nDone.")
	require.NoError(t, err)
	assert.Equal(t, `{"rules": []}`, out)
}

func TestExtractJSON_ThinkTags(t *testing.T) {
	out, err := ExtractJSON("<think>\nlet me reason about {braces}\n</think>\n[1, 2, 3]")
	require.NoError(t, err)
	assert.Equal(t, `[1, 2, 3]`, out)
}

func TestExtractJSON_NestedAndStrings(t *testing.T) {
	raw := `text before {"outer": {"inner": "has } brace", "esc": "quote \" here"}} text after`
	out, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"outer": {"inner": "has } brace", "esc": "quote \" here"}}`, out)
}

func TestExtractJSON_FallsBackPastInvalidArray(t *testing.T) {
	out, err := ExtractJSON(`confidence [1-10]: {"score": 7}`)
	require.NoError(t, err)
	assert.Equal(t, `{"score": 7}`, out)
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("I cannot answer that.")
	assert.Error(t, err)
}

func TestParseJSONResponse_Typed(t *testing.T) {
	type suggestion struct {
		Table      string  `json:"table"`
		Confidence float64 `json:"confidence"`
	}

	got, err := ParseJSONResponse[suggestion](`Sure: {"table": "orders", "confidence": 0.82}`)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Table)
	assert.Equal(t, 0.82, got.Confidence)

	_, err = ParseJSONResponse[suggestion](`{"table": ["not", "a", "string"]}`)
	assert.Error(t, err)
}
