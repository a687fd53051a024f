// Package parse recovers structured quiz data from agent replies. The agent
// may answer with a clean envelope, JSON buried in prose or markdown fencing,
// or plain text; every function here is total and never panics on malformed
// input.
package parse

import (
	"encoding/json"
	"strings"
)

// DecodeLenient extracts the first balanced JSON object from text that may
// contain surrounding prose or code fences. A top-level array is accepted
// when its first element is an object. Returns false when no decodable
// object is present.
func DecodeLenient(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	// Fast path: the whole payload is valid JSON.
	if m, ok := decodeValue([]byte(text)); ok {
		return m, true
	}

	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end, ok := balancedEnd(text, start); ok {
			if m, ok := decodeValue([]byte(text[start : end+1])); ok {
				return m, true
			}
			// Balanced but not valid JSON (e.g. code snippet); keep
			// scanning from the next candidate opener.
		}
	}
	return nil, false
}

// balancedEnd walks from an opening brace/bracket to its matching closer,
// skipping string literals and escapes.
func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
			if depth < 0 {
				return 0, false
			}
		}
	}
	return 0, false
}

func decodeValue(data []byte) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		for _, el := range t {
			if m, ok := el.(map[string]any); ok {
				return m, true
			}
		}
	}
	return nil, false
}
