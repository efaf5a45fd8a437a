// Package metrics implements the MetricsSink the consumer loop emits
// operational counters through.
package metrics

import "context"

// Sink records a single named counter/gauge observation.
type Sink interface {
	Emit(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Well-known metric names used across the message bus.
const (
	MetricValidationError = "validation_error"
	MetricTransientError  = "transient_error"
	MetricPermanentError  = "permanent_error"
	MetricDuplicate       = "duplicate"
	MetricDispatched      = "dispatched"
	MetricDLQDepth        = "dlq_depth"
)
