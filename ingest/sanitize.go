package ingest

import "strings"

// sanitizeValue removes NUL characters from every string leaf,
// recursing through objects and arrays. Downstream storage cannot
// represent NUL inside text columns.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		if strings.ContainsRune(val, 0) {
			return strings.ReplaceAll(val, "\x00", "")
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = sanitizeValue(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = sanitizeValue(elem)
		}
		return val
	default:
		return v
	}
}

// sanitizeBody sanitizes a decoded JSON body in place and returns it.
func sanitizeBody(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	sanitizeValue(body)
	return body
}
