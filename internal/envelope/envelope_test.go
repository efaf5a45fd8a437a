package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapProducesValidEnvelope(t *testing.T) {
	e, err := Wrap("payment.paid", map[string]any{"student_id": float64(42), "amount": float64(500)}, "payment")
	require.NoError(t, err)

	ok, missing := e.Validate()
	assert.True(t, ok, "missing fields: %v", missing)
	assert.Len(t, e.IdempotencyKey, 64)
	assert.Equal(t, SchemaVersion, e.Version)
}

func TestIdempotencyKeyIgnoresTimestampLikeKeys(t *testing.T) {
	p1 := map[string]any{"student_id": float64(42), "amount": float64(500)}
	p2 := map[string]any{"student_id": float64(42), "amount": float64(500), "timestamp": "2026-07-30T00:00:00Z"}

	k1, err := IdempotencyKey("payment.paid", p1)
	require.NoError(t, err)
	k2, err := IdempotencyKey("payment.paid", p2)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestIdempotencyKeyIgnoresKeyOrdering(t *testing.T) {
	p1 := map[string]any{"a": float64(1), "b": float64(2)}
	p2 := map[string]any{"b": float64(2), "a": float64(1)}

	k1, err := IdempotencyKey("event", p1)
	require.NoError(t, err)
	k2, err := IdempotencyKey("event", p2)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestValidateReportsMissingFields(t *testing.T) {
	e := &Envelope{}
	ok, missing := e.Validate()
	assert.False(t, ok)
	assert.Contains(t, missing, "event_type")
	assert.Contains(t, missing, "service")
}

func TestUnwrapRoundTrip(t *testing.T) {
	payload := map[string]any{"student_id": float64(42)}
	e, err := Wrap("payment.paid", payload, "payment")
	require.NoError(t, err)

	assert.Equal(t, payload, Unwrap(e))
}

func TestFromJSONRoundTrip(t *testing.T) {
	e, err := Wrap("payment.paid", map[string]any{"x": float64(1)}, "payment")
	require.NoError(t, err)

	body, err := e.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(body)
	require.NoError(t, err)

	ok, missing := decoded.Validate()
	assert.True(t, ok, "missing: %v", missing)
	assert.Equal(t, e.IdempotencyKey, decoded.IdempotencyKey)
}

func TestFromJSONRejectsMalformedBody(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}
