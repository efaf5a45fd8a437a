// Package canonical computes a deterministic byte representation of an
// event payload, used to derive the envelope's idempotency key.
package canonical

import "encoding/json"

// excludedKeys are stripped at every nesting depth before serialization.
// Their presence or absence must not change a payload's idempotency key.
var excludedKeys = map[string]struct{}{
	"timestamp":  {},
	"created_at": {},
	"updated_at": {},
	"deleted_at": {},
	"trace_id":   {},
}

// Bytes returns the canonical JSON encoding of payload: excluded keys
// removed at every depth, remaining map keys sorted lexicographically,
// arrays left in their original order.
//
// encoding/json already sorts map[string]any keys lexicographically
// when marshaling, so once excluded keys are stripped a plain Marshal
// produces stable, sorted output.
func Bytes(payload map[string]any) ([]byte, error) {
	return json.Marshal(strip(payload))
}

func strip(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if _, excluded := excludedKeys[k]; excluded {
				continue
			}
			out[k] = strip(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = strip(vv)
		}
		return out
	default:
		return v
	}
}
