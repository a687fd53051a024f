package parse

import (
	"strings"

	"nichenerd-service/internal/agent"
	"nichenerd-service/internal/domain"
)

// Normalize turns a raw agent call result into a canonical QuizState.
// Tiers, in decreasing order of trust:
//
//  1. structured result object with a non-empty message
//  2. lenient JSON decode of the raw textual payload
//  3. lenient JSON decode of an alternate text field
//  4. wrap any remaining non-empty plain text as a bare message
//
// Each tier is attempted only if the previous yielded nothing usable. When
// no tier produces a non-empty message, domain.ErrUnparsable is returned;
// Normalize itself never fails any other way.
func Normalize(res agent.CallResult) (domain.QuizState, error) {
	if res.Response != nil && res.Response.Result != nil {
		if state, ok := stateFromFields(res.Response.Result); ok {
			return state, nil
		}
	}

	if raw := strings.TrimSpace(res.RawResponse); raw != "" {
		if fields, ok := DecodeLenient(raw); ok {
			if state, ok := stateFromFields(fields); ok {
				return state, nil
			}
		}
	}

	if text := alternateText(res); text != "" {
		if fields, ok := DecodeLenient(text); ok {
			if state, ok := stateFromFields(fields); ok {
				return state, nil
			}
		}
		return plainTextState(text), nil
	}

	if raw := strings.TrimSpace(res.RawResponse); raw != "" {
		return plainTextState(raw), nil
	}

	return domain.QuizState{}, domain.ErrUnparsable
}

// alternateText picks the generic text field some agent deployments use
// instead of a structured result.
func alternateText(res agent.CallResult) string {
	if res.Response == nil {
		return ""
	}
	if res.Response.Result != nil {
		if text, ok := res.Response.Result["text"].(string); ok && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return strings.TrimSpace(res.Response.Message)
}

// stateFromFields coerces a decoded field map into a QuizState. The message
// must be a non-empty string; every other field falls back to its default on
// a type mismatch rather than failing.
func stateFromFields(fields map[string]any) (domain.QuizState, bool) {
	message, ok := fields["message"].(string)
	if !ok || message == "" {
		return domain.QuizState{}, false
	}
	return domain.QuizState{
		Message:        message,
		QuestionNumber: coerceCount(fields["question_number"], 0),
		IsComplete:     fields["is_complete"] == true,
		Score:          coerceCount(fields["score"], 0),
		Total:          coerceTotal(fields["total"]),
		LevelName:      coerceString(fields["level_name"]),
		Tagline:        coerceString(fields["tagline"]),
		Topic:          coerceString(fields["topic"]),
	}, true
}

func plainTextState(text string) domain.QuizState {
	return domain.QuizState{
		Message: text,
		Total:   domain.DefaultTotal,
	}
}

// coerceCount accepts numeric values only; anything else, including negative
// numbers, yields the default.
func coerceCount(v any, def int) int {
	n, ok := asInt(v)
	if !ok || n < 0 {
		return def
	}
	return n
}

func coerceTotal(v any) int {
	n, ok := asInt(v)
	if !ok || n <= 0 {
		return domain.DefaultTotal
	}
	return n
}

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}
