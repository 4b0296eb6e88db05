package tool

import (
	"fmt"
	"strings"
)

const maxLoggedScalarLen = 200

// SanitizeInputs returns a copy of a tool payload safe for logging. Fields
// whose key suggests file content or raw data are replaced with a
// length-tagged placeholder; path-like and small scalar fields pass through.
func SanitizeInputs(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder(v)
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return strings.Contains(k, "content") || strings.Contains(k, "data")
}

func redactedPlaceholder(v any) string {
	return fmt.Sprintf("[redacted %d bytes]", valueLen(v))
}

func valueLen(v any) int {
	switch x := v.(type) {
	case string:
		return len(x)
	case []byte:
		return len(x)
	default:
		return len(fmt.Sprintf("%v", x))
	}
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case string:
		if len(x) > maxLoggedScalarLen {
			return x[:maxLoggedScalarLen] + fmt.Sprintf("... (%d bytes total)", len(x))
		}
		return x
	case []byte:
		return fmt.Sprintf("[%d bytes]", len(x))
	case map[string]any:
		return SanitizeInputs(x)
	default:
		return v
	}
}
