// Package router implements the DriverRouter component (C4): selecting
// a primary driver and applying dual-write / fallback policy over the
// closed {Managed, Legacy} driver set.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jrepp/prism-msgbus/internal/envelope"
)

// Name identifies one of the two drivers in the closed set.
type Name string

const (
	Managed Name = "Managed"
	Legacy  Name = "Legacy"
)

// Driver is the shared capability both transports expose to the router.
// Legacy's wire protocol is opaque by design (spec treats it as
// publish(event) -> any); Publish here carries that same contract,
// with logicalQueue ignored by drivers that route purely by event type.
type Driver interface {
	Publish(ctx context.Context, logicalQueue string, env *envelope.Envelope) (messageID string, err error)
	IsAvailable(ctx context.Context) bool
}

// QueueExistsChecker is satisfied by the QueueResolver; used only for
// the fallback pre-check.
type QueueExistsChecker interface {
	QueueExists(ctx context.Context, logicalName string) bool
}

// Config is the router's configuration input (spec.md §6).
type Config struct {
	Driver           Name
	DualWrite        bool
	FallbackToLegacy bool
	TargetQueues     map[string]string // event_type -> logical queue
	DefaultQueue     string
}

// LegResult is one driver leg's publish outcome.
type LegResult struct {
	MessageID string
	Err       error
}

// PublishResult carries both legs' outcomes when dual-write is active.
// Only the leg(s) actually attempted are non-nil.
type PublishResult struct {
	Managed *LegResult
	Legacy  *LegResult
}

// Router implements the publish policy described in spec.md §4.4.
type Router struct {
	cfg      Config
	managed  Driver
	legacy   Driver
	resolver QueueExistsChecker
	service  string
}

// New builds a Router. managed and/or legacy may be nil when that
// driver isn't registered; the configured policy must be consistent
// with which drivers are actually wired.
func New(cfg Config, managed, legacy Driver, resolver QueueExistsChecker, service string) *Router {
	return &Router{cfg: cfg, managed: managed, legacy: legacy, resolver: resolver, service: service}
}

// TargetQueue resolves the logical queue name for an event type via the
// static table, falling back to the configured default.
func (r *Router) TargetQueue(eventType string) string {
	if q, ok := r.cfg.TargetQueues[eventType]; ok {
		return q
	}
	return r.cfg.DefaultQueue
}

// Publish wraps payload in an envelope and applies the router's policy:
// dual-write, then fallback pre-check, then primary-attempt-with-fallback.
func (r *Router) Publish(ctx context.Context, eventType string, payload map[string]any) (*PublishResult, error) {
	env, err := envelope.Wrap(eventType, payload, r.service)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	logicalQueue := r.TargetQueue(eventType)

	if r.cfg.Driver == Managed && r.legacy != nil && r.cfg.DualWrite {
		return r.publishDualWrite(ctx, logicalQueue, env)
	}

	driver := r.selectedDriver()
	used := r.cfg.Driver

	if r.cfg.Driver == Managed && r.cfg.FallbackToLegacy && r.legacy != nil && r.resolver != nil {
		if !r.resolver.QueueExists(ctx, logicalQueue) {
			driver = r.legacy
			used = Legacy
		}
	}

	id, err := driver.Publish(ctx, logicalQueue, env)
	if err == nil {
		return legResultFor(used, id), nil
	}

	if r.cfg.FallbackToLegacy && driver != r.legacy && r.legacy != nil {
		slog.Warn("primary publish failed, falling back to legacy", "event_type", eventType, "error", err)
		legacyID, legacyErr := r.legacy.Publish(ctx, logicalQueue, env)
		if legacyErr != nil {
			return nil, fmt.Errorf("router: primary failed (%v) and legacy fallback failed: %w", err, legacyErr)
		}
		return legResultFor(Legacy, legacyID), nil
	}

	return nil, fmt.Errorf("router: publish via %s: %w", r.cfg.Driver, err)
}

func (r *Router) selectedDriver() Driver {
	if r.cfg.Driver == Legacy {
		return r.legacy
	}
	return r.managed
}

func (r *Router) publishDualWrite(ctx context.Context, logicalQueue string, env *envelope.Envelope) (*PublishResult, error) {
	result := &PublishResult{}

	managedID, managedErr := r.managed.Publish(ctx, logicalQueue, env)
	result.Managed = &LegResult{MessageID: managedID, Err: managedErr}
	if managedErr != nil {
		slog.Error("dual-write managed leg failed", "event_type", env.EventType, "error", managedErr)
	} else {
		slog.Info("dual-write managed leg published", "event_type", env.EventType, "message_id", managedID)
	}

	legacyID, legacyErr := r.legacy.Publish(ctx, logicalQueue, env)
	result.Legacy = &LegResult{MessageID: legacyID, Err: legacyErr}
	if legacyErr != nil {
		slog.Error("dual-write legacy leg failed", "event_type", env.EventType, "error", legacyErr)
	} else {
		slog.Info("dual-write legacy leg published", "event_type", env.EventType, "message_id", legacyID)
	}

	if managedErr != nil && legacyErr != nil {
		return result, errors.Join(fmt.Errorf("router: dual-write managed leg: %w", managedErr), fmt.Errorf("router: dual-write legacy leg: %w", legacyErr))
	}

	return result, nil
}

func legResultFor(driver Name, id string) *PublishResult {
	leg := &LegResult{MessageID: id}
	if driver == Legacy {
		return &PublishResult{Legacy: leg}
	}
	return &PublishResult{Managed: leg}
}
