package index

import "strconv"

// metadataContent extracts the "text" value used as document content in
// the embedded backend.
func metadataContent(m map[string]any) string {
	if v, ok := m["text"].(string); ok {
		return v
	}
	return ""
}

// metadataToStrings converts record metadata to chromem's string-only
// metadata. The "text" value travels as document content instead.
func metadataToStrings(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k == "text" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

// metadataFromStrings rebuilds record metadata from chromem's string
// metadata plus the document content.
func metadataFromStrings(m map[string]string, content string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if content != "" {
		out["text"] = content
	}
	return out
}

// String returns the metadata value for key as a string, or "" when the
// key is missing or not string-like. Backends differ in how they store
// scalars, so callers go through this accessor.
func String(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int64 returns the metadata value for key as an int64, or 0 when the key
// is missing or not numeric.
func Int64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
