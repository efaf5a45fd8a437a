// Package sqsdriver adapts the SQS-backed Publisher to the router's
// Driver contract as the "Managed" transport.
package sqsdriver

import (
	"context"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/publish"
	"github.com/jrepp/prism-msgbus/internal/router"
)

// Driver is the Managed driver: the primary cloud-queue transport.
type Driver struct {
	publisher *publish.Publisher
}

// New builds the Managed driver around an already-configured Publisher.
func New(publisher *publish.Publisher) *Driver {
	return &Driver{publisher: publisher}
}

// Publish satisfies router.Driver.
func (d *Driver) Publish(ctx context.Context, logicalQueue string, env *envelope.Envelope) (string, error) {
	return d.publisher.PublishEnvelope(ctx, logicalQueue, env, nil)
}

// IsAvailable reports the Managed driver as always available: queue
// absence is handled separately by the router's fallback pre-check
// against the QueueResolver, not by an availability probe here.
func (d *Driver) IsAvailable(ctx context.Context) bool {
	return true
}

var _ router.Driver = (*Driver)(nil)
