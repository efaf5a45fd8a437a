package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesStripsTimestampKeysAtAnyDepth(t *testing.T) {
	a := map[string]any{
		"student_id": float64(42),
		"amount":     float64(500),
		"timestamp":  "2026-07-30T00:00:00Z",
		"nested": map[string]any{
			"created_at": "2026-07-30T00:00:00Z",
			"value":      "x",
		},
	}
	b := map[string]any{
		"amount":     float64(500),
		"student_id": float64(42),
		"nested": map[string]any{
			"value": "x",
		},
	}

	gotA, err := Bytes(a)
	require.NoError(t, err)
	gotB, err := Bytes(b)
	require.NoError(t, err)

	assert.Equal(t, string(gotA), string(gotB))
}

func TestBytesSortsKeysLexicographically(t *testing.T) {
	payload := map[string]any{"b": 1, "a": 2, "c": 3}

	got, err := Bytes(payload)
	require.NoError(t, err)

	var roundTrip map[string]any
	require.NoError(t, json.Unmarshal(got, &roundTrip))

	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(got))
}

func TestBytesPreservesArrayOrder(t *testing.T) {
	payload := map[string]any{"items": []any{"z", "a", "m"}}

	got, err := Bytes(payload)
	require.NoError(t, err)

	assert.JSONEq(t, `{"items":["z","a","m"]}`, string(got))
}
