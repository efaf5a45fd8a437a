package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts through log/slog, the teacher's default
// observability sink when no external system is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier builds a Notifier over logger (or slog.Default if nil).
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify satisfies Notifier.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	args := []any{"title", alert.Title, "detail", alert.Detail}
	for k, v := range alert.Fields {
		args = append(args, k, v)
	}

	switch alert.Severity {
	case SeverityCritical:
		n.logger.Error("alert", args...)
	default:
		n.logger.Warn("alert", args...)
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
