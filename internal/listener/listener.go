// Package listener holds the static event_type -> handler registry that
// the consumer loop dispatches decoded envelopes to.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler processes a single envelope's payload. Returning an error
// classified as permanent (see internal/consume) discards the message;
// a transient error leaves it for redelivery.
type Handler func(ctx context.Context, payload map[string]any) error

// Registry is a static event_type -> Handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event type, overwriting any prior
// binding. Intended for startup wiring, not hot reconfiguration.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Lookup returns the handler bound to eventType, if any.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// Dispatch invokes the handler bound to eventType, or returns
// ErrUnmapped if none is registered.
func (r *Registry) Dispatch(ctx context.Context, eventType string, payload map[string]any) error {
	h, ok := r.Lookup(eventType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnmapped, eventType)
	}
	return h(ctx, payload)
}

// ErrUnmapped is returned when no handler is registered for an event
// type. The consumer loop treats this as the "unmapped_event" terminal
// outcome: ack, immediate alert, permanent_error metric.
var ErrUnmapped = errors.New("listener: no handler registered")
