package metagdb

import "strings"

// NormalizeValues returns a copy of values in which every nil value and
// every string made up solely of whitespace is replaced by nil, so the
// driver binds SQL NULL. Everything else passes through unchanged: a
// numeric zero, "0", and strings with non-whitespace content surrounded
// by spaces keep their exact value.
func NormalizeValues(values []any) []any {
	bound := make([]any, len(values))
	for i, v := range values {
		bound[i] = normalizeValue(v)
	}
	return bound
}

func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return v
}
