package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ToStorable converts an arbitrary decoded value into a primitive-only tree
// fit for JSON storage: bytes become hex strings, named values become their
// name, and anything else that cannot be represented degrades to its string
// form. Conversion never fails; persistence must not abort because a payload
// leaf was not representable.
func ToStorable(v any) any {
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return x
	case []byte:
		return hex.EncodeToString(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = ToStorable(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = ToStorable(val)
		}
		return out
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		// Structs and everything else: round-trip through JSON into a
		// primitive tree, then normalize any leaves that still need it.
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return fmt.Sprint(x)
		}
		return ToStorable(out)
	}
}

// safeJSON serializes v for storage, degrading to a JSON string of v's
// printed form rather than returning an error.
func safeJSON(v any) string {
	b, err := json.Marshal(ToStorable(v))
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(v))
	}
	return string(b)
}
