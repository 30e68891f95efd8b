package evaluator

import "github.com/tiendalab/promoengine/rules"

// eventIDKey is the well-known context key carrying the source event
// id used for idempotent grants.
const eventIDKey = "eventId"

// eventIDFrom pulls the source event id out of the event context.
// Absent or non-string values mean no idempotency scope.
func eventIDFrom(event map[string]any) string {
	if event == nil {
		return ""
	}
	id, _ := event[eventIDKey].(string)
	return id
}

// buildContext normalizes an event payload for rule evaluation.
// Integer values are widened to float64 to match how JSON decoding
// delivers numbers, and date-looking strings become time.Time so they
// compare against the timestamp literals rules are compiled with.
func buildContext(event map[string]any) map[string]any {
	input := make(map[string]any, len(event))
	for k, v := range event {
		input[k] = coerceValue(v)
	}
	return input
}

func coerceValue(v any) any {
	switch val := v.(type) {
	case string:
		if looksLikeDate(val) {
			if t, err := rules.ParseDateLiteral(val); err == nil {
				return t
			}
		}
		return val
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = coerceValue(item)
		}
		return out
	case map[string]any:
		return buildContext(val)
	default:
		return v
	}
}

// looksLikeDate is a cheap prefilter so ordinary strings skip the
// parse attempt: four digits, a dash, as in 2026-08-24.
func looksLikeDate(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[4] == '-'
}
