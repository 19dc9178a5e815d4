// Package signals turns raw collector payloads into normalized numeric
// features. Extractors are pure: they read the payload maps, never mutate
// them, and never perform I/O.
package signals

// Payload maps come straight out of JSON decoding, so numbers are float64,
// arrays are []any and nested objects are map[string]any. The helpers below
// absorb the loose typing so extractors stay readable.

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getFloat(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func getArray(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	a, _ := m[key].([]any)
	return a
}

func arrayLen(m map[string]any, key string) int {
	return len(getArray(m, key))
}

// present reports whether a field carries a usable, non-placeholder value.
func present(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != "" && s != "unknown"
	}
	if f, isNum := v.(float64); isNum {
		return f != 0
	}
	return true
}
