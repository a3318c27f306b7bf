package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// NormalizeMetadata converts chunk metadata into store-safe form.
// Scalars and nil pass through unchanged, slices and maps are
// JSON-encoded, anything else is stringified. Both backends apply this
// before writing so rows read back the same regardless of backend.
func NormalizeMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = normalizeMetaValue(v)
	}
	return out
}

func normalizeMetaValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", v)
}

// stringifyMetaValue renders a normalized metadata value for equality
// comparison in where filters.
func stringifyMetaValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
