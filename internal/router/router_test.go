package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-msgbus/internal/envelope"
)

type fakeDriver struct {
	calls     int
	available bool
	err       error
	id        string
}

func (f *fakeDriver) Publish(_ context.Context, _ string, _ *envelope.Envelope) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeDriver) IsAvailable(context.Context) bool { return f.available }

type fakeResolver struct{ exists bool }

func (f *fakeResolver) QueueExists(context.Context, string) bool { return f.exists }

func baseConfig() Config {
	return Config{
		Driver:       Managed,
		TargetQueues: map[string]string{"payment.paid": "payments"},
		DefaultQueue: "default-queue",
	}
}

func TestPublishUsesManagedByDefault(t *testing.T) {
	managed := &fakeDriver{id: "m-1"}
	r := New(baseConfig(), managed, nil, nil, "payment")

	result, err := r.Publish(context.Background(), "payment.paid", map[string]any{"x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "m-1", result.Managed.MessageID)
	assert.Nil(t, result.Legacy)
	assert.Equal(t, 1, managed.calls)
}

func TestPublishDualWriteAttemptsBothLegsEvenOnManagedFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.DualWrite = true
	managed := &fakeDriver{err: errors.New("boom")}
	legacy := &fakeDriver{id: "l-1"}

	r := New(cfg, managed, legacy, nil, "payment")
	result, err := r.Publish(context.Background(), "payment.paid", map[string]any{"x": float64(1)})
	require.NoError(t, err)

	assert.Equal(t, 1, managed.calls)
	assert.Equal(t, 1, legacy.calls)
	assert.Error(t, result.Managed.Err)
	assert.Equal(t, "l-1", result.Legacy.MessageID)
}

func TestPublishFallbackPreCheckOnQueueAbsence(t *testing.T) {
	cfg := baseConfig()
	cfg.FallbackToLegacy = true
	managed := &fakeDriver{id: "m-1"}
	legacy := &fakeDriver{id: "l-1"}
	resolver := &fakeResolver{exists: false}

	r := New(cfg, managed, legacy, resolver, "payment")
	result, err := r.Publish(context.Background(), "payment.paid", map[string]any{"x": float64(1)})
	require.NoError(t, err)

	assert.Equal(t, 0, managed.calls)
	assert.Equal(t, 1, legacy.calls)
	assert.Equal(t, "l-1", result.Legacy.MessageID)
}

func TestPublishFallsBackOnPrimaryFailure(t *testing.T) {
	cfg := baseConfig()
	cfg.FallbackToLegacy = true
	managed := &fakeDriver{err: errors.New("boom")}
	legacy := &fakeDriver{id: "l-1"}
	resolver := &fakeResolver{exists: true}

	r := New(cfg, managed, legacy, resolver, "payment")
	result, err := r.Publish(context.Background(), "payment.paid", map[string]any{"x": float64(1)})
	require.NoError(t, err)

	assert.Equal(t, 1, managed.calls)
	assert.Equal(t, 1, legacy.calls)
	assert.Equal(t, "l-1", result.Legacy.MessageID)
}

func TestPublishReraisesWithoutFallback(t *testing.T) {
	cfg := baseConfig()
	managed := &fakeDriver{err: errors.New("boom")}

	r := New(cfg, managed, nil, nil, "payment")
	_, err := r.Publish(context.Background(), "payment.paid", map[string]any{"x": float64(1)})
	assert.Error(t, err)
}

func TestTargetQueueFallsBackToDefault(t *testing.T) {
	r := New(baseConfig(), &fakeDriver{}, nil, nil, "payment")
	assert.Equal(t, "payments", r.TargetQueue("payment.paid"))
	assert.Equal(t, "default-queue", r.TargetQueue("unknown.event"))
}
