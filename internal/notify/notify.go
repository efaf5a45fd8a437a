// Package notify implements the alerting sink the consumer loop and DLQ
// tools report to: rate-threshold breaches, permanent-error discards,
// and DLQ depth alerts.
package notify

import "context"

// Severity classifies an alert's urgency.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single notification event.
type Alert struct {
	Severity Severity
	Title    string
	Detail   string
	Fields   map[string]any
}

// Notifier delivers alerts out of process.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
