package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Chat models answering relationship-inference and NL-parsing prompts wrap
// JSON in reasoning tags, markdown fences, or prose. ExtractJSON digs the
// first complete JSON value out of that noise.

// reasoningPrefix matches a <think>...</think> block leading the response.
var reasoningPrefix = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// ExtractJSON returns the first valid JSON object or array in an LLM
// response. Whichever opener appears first is tried first; a response that
// is valid JSON as a whole passes through unchanged.
func ExtractJSON(response string) (string, error) {
	cleaned := reasoningPrefix.ReplaceAllString(response, "")

	for _, open := range openerOrder(cleaned) {
		if candidate, ok := balancedFrom(cleaned, open); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// openerOrder ranks the object and array openers by first appearance.
func openerOrder(s string) []byte {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	switch {
	case obj < 0 && arr < 0:
		return nil
	case arr < 0 || (obj >= 0 && obj < arr):
		return []byte{'{', '['}
	default:
		return []byte{'[', '{'}
	}
}

// balancedFrom returns the first balanced JSON value starting at the given
// opener. Brace depth ignores braces inside string literals, including
// escaped quotes.
func balancedFrom(s string, open byte) (string, bool) {
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse decodes the first JSON value of an LLM response into T.
// Complete uses it to hold responses to their declared schema.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}
