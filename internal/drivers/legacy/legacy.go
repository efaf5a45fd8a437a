// Package legacy adapts a NATS connection to the message bus's opaque
// "Legacy" driver contract: publish(event) -> any, plus an
// isAvailable() probe.
package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/router"
)

// Config holds the legacy transport's connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	PingInterval  time.Duration
}

// Driver is the Legacy driver.
type Driver struct {
	conn *nats.Conn
}

// Connect dials the legacy broker and returns a ready Driver.
func Connect(cfg Config) (*Driver, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval == 0 {
		pingInterval = 20 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.Timeout(timeout),
		nats.PingInterval(pingInterval),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to legacy broker", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("disconnected from legacy broker", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("legacy: connect: %w", err)
	}

	return &Driver{conn: conn}, nil
}

// FromConn wraps an already-established connection (used by tests
// against an embedded broker).
func FromConn(conn *nats.Conn) *Driver {
	return &Driver{conn: conn}
}

// Publish satisfies router.Driver. logicalQueue is ignored: the legacy
// transport routes purely by event type (the NATS subject).
func (d *Driver) Publish(ctx context.Context, logicalQueue string, env *envelope.Envelope) (string, error) {
	body, err := env.ToJSON()
	if err != nil {
		return "", fmt.Errorf("legacy: encode envelope: %w", err)
	}

	if err := d.conn.Publish(env.EventType, body); err != nil {
		return "", fmt.Errorf("legacy: publish: %w", err)
	}

	// The legacy transport has no server-assigned message ID; the
	// envelope's idempotency key is the closest stable identifier.
	return env.IdempotencyKey, nil
}

// IsAvailable reports whether the legacy connection is currently up.
func (d *Driver) IsAvailable(ctx context.Context) bool {
	return d.conn != nil && d.conn.IsConnected()
}

// Close closes the underlying connection without draining it first.
func (d *Driver) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

var _ router.Driver = (*Driver)(nil)
