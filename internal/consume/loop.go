// Package consume implements the ConsumerLoop (C5): one cycle of
// long-poll receive followed by the per-message
// DECODE->VALIDATE->DEDUP->CLAIM->DISPATCH->COMMIT state machine.
package consume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/idempotency"
	"github.com/jrepp/prism-msgbus/internal/listener"
	"github.com/jrepp/prism-msgbus/internal/metrics"
	"github.com/jrepp/prism-msgbus/internal/notify"
	"github.com/jrepp/prism-msgbus/internal/queue"
)

const (
	maxReceiveMessages        = 10
	receiveWaitSeconds        = 20
	receiveVisibilitySeconds  = 30
	longRunningVisibilitySecs = 120
)

// API is the subset of the SQS client the consumer loop depends on.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// CycleResult tallies one cycle's per-class outcome counts.
type CycleResult struct {
	TotalProcessed   int
	Success          int
	ValidationErrors int
	Duplicates       int
	UnmappedEvents   int
	PermanentErrors  int
	TransientErrors  int
}

// Loop runs one supervised cycle of the ConsumerLoop against a single
// logical queue.
type Loop struct {
	api          API
	resolver     *queue.Resolver
	store        *idempotency.Store
	listeners    *listener.Registry
	metricsSink  metrics.Sink
	notifier     notify.Notifier
	logicalQueue string
	service      string

	longRunningEvents            map[string]bool
	validationErrorRateThreshold float64
	transientErrorRateThreshold  float64
}

// Config configures a Loop instance.
type Config struct {
	LogicalQueue                 string
	Service                      string
	LongRunningEvents            []string
	ValidationErrorRateThreshold float64
	TransientErrorRateThreshold  float64
}

// New builds a Loop over its collaborators.
func New(api API, resolver *queue.Resolver, store *idempotency.Store, listeners *listener.Registry, metricsSink metrics.Sink, notifier notify.Notifier, cfg Config) *Loop {
	longRunning := make(map[string]bool, len(cfg.LongRunningEvents))
	for _, e := range cfg.LongRunningEvents {
		longRunning[e] = true
	}

	validationThreshold := cfg.ValidationErrorRateThreshold
	if validationThreshold == 0 {
		validationThreshold = 0.01
	}
	transientThreshold := cfg.TransientErrorRateThreshold
	if transientThreshold == 0 {
		transientThreshold = 0.10
	}

	return &Loop{
		api:                           api,
		resolver:                      resolver,
		store:                         store,
		listeners:                     listeners,
		metricsSink:                   metricsSink,
		notifier:                      notifier,
		logicalQueue:                  cfg.LogicalQueue,
		service:                       cfg.Service,
		longRunningEvents:             longRunning,
		validationErrorRateThreshold:  validationThreshold,
		transientErrorRateThreshold:   transientThreshold,
	}
}

// RunCycle executes one full cycle: resolve, long-poll receive,
// process the batch, rate-alert. A non-nil error means the queue URL
// could not be resolved or the receive call itself failed
// (fatal_loop_error), and the caller should exit non-zero so the
// supervisor restarts the process.
func (l *Loop) RunCycle(ctx context.Context) (*CycleResult, error) {
	queueURL, err := l.resolver.Resolve(ctx, l.logicalQueue)
	if err != nil {
		return nil, fmt.Errorf("consume: resolve queue %s: %w", l.logicalQueue, err)
	}

	out, err := l.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &queueURL,
		MaxNumberOfMessages:   maxReceiveMessages,
		WaitTimeSeconds:       receiveWaitSeconds,
		VisibilityTimeout:     receiveVisibilitySeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("consume: receive from %s: %w", l.logicalQueue, err)
	}

	result := l.processBatch(ctx, queueURL, out.Messages)

	l.alertOnRates(ctx, result)
	return result, nil
}

// tally holds atomically-updated per-class counters for one cycle's
// batch. Messages are independent (no shared mutable state besides
// these counters), so the batch fans out across a bounded worker pool
// sized to the batch itself. The idempotency store's Claim is advisory
// only: it does not stop two workers from dispatching the same key at
// the same time.
type tally struct {
	success          int64
	validationErrors int64
	duplicates       int64
	unmappedEvents   int64
	permanentErrors  int64
	transientErrors  int64
}

func (t *tally) add(class Class) {
	switch class {
	case ClassSuccess:
		atomic.AddInt64(&t.success, 1)
	case ClassValidationError:
		atomic.AddInt64(&t.validationErrors, 1)
	case ClassDuplicate:
		atomic.AddInt64(&t.duplicates, 1)
	case ClassUnmappedEvent:
		atomic.AddInt64(&t.unmappedEvents, 1)
	case ClassPermanentError:
		atomic.AddInt64(&t.permanentErrors, 1)
	case ClassTransientError:
		atomic.AddInt64(&t.transientErrors, 1)
	}
}

// processBatch runs processMessage for every message in the batch
// concurrently over a worker pool bounded to the batch size (batch
// size is capped at maxReceiveMessages, so the pool never exceeds
// that). Each task is independent; results are merged through t only
// via atomic adds.
func (l *Loop) processBatch(ctx context.Context, queueURL string, messages []types.Message) *CycleResult {
	var t tally
	work := make(chan types.Message, len(messages))
	for _, msg := range messages {
		work <- msg
	}
	close(work)

	var wg sync.WaitGroup
	for i := 0; i < len(messages); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := <-work
			class := l.processMessage(ctx, queueURL, msg)
			t.add(class)
		}()
	}
	wg.Wait()

	return &CycleResult{
		TotalProcessed:   len(messages),
		Success:          int(atomic.LoadInt64(&t.success)),
		ValidationErrors: int(atomic.LoadInt64(&t.validationErrors)),
		Duplicates:       int(atomic.LoadInt64(&t.duplicates)),
		UnmappedEvents:   int(atomic.LoadInt64(&t.unmappedEvents)),
		PermanentErrors:  int(atomic.LoadInt64(&t.permanentErrors)),
		TransientErrors:  int(atomic.LoadInt64(&t.transientErrors)),
	}
}

// processMessage runs the DECODE->VALIDATE->DEDUP->CLAIM->EXTEND_VIS?
// ->DISPATCH->COMMIT state machine for one message, then acks
// (deletes) or leaves it according to the resulting class.
func (l *Loop) processMessage(ctx context.Context, queueURL string, msg types.Message) Class {
	class, eventType := l.runStateMachine(ctx, queueURL, msg)

	l.emitMetric(ctx, class, eventType)

	switch class {
	case ClassUnmappedEvent, ClassPermanentError:
		l.alertImmediate(ctx, class, eventType, msg)
	}

	if class != ClassTransientError {
		l.ack(ctx, queueURL, msg)
	}
	return class
}

func (l *Loop) runStateMachine(ctx context.Context, queueURL string, msg types.Message) (Class, string) {
	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}

	// DECODE
	env, err := envelope.FromJSON([]byte(body))
	if err != nil {
		slog.Warn("consume: decode failed", "queue", l.logicalQueue, "error", err)
		return ClassValidationError, ""
	}

	// VALIDATE
	if ok, missing := env.Validate(); !ok {
		slog.Warn("consume: validation failed", "queue", l.logicalQueue, "event_type", env.EventType, "missing", missing)
		return ClassValidationError, env.EventType
	}

	// DEDUP
	processed, err := l.store.IsProcessed(ctx, env.IdempotencyKey)
	if err != nil {
		slog.Warn("consume: dedup check failed", "queue", l.logicalQueue, "error", err)
		return ClassTransientError, env.EventType
	}
	if processed {
		return ClassDuplicate, env.EventType
	}

	// CLAIM
	if err := l.store.Claim(ctx, env.IdempotencyKey); err != nil {
		slog.Warn("consume: claim failed", "queue", l.logicalQueue, "error", err)
		return ClassTransientError, env.EventType
	}

	// EXTEND_VIS
	if l.longRunningEvents[env.EventType] {
		if err := l.extendVisibility(ctx, queueURL, msg); err != nil {
			slog.Warn("consume: visibility extension failed", "queue", l.logicalQueue, "event_type", env.EventType, "error", err)
		}
	}

	// DISPATCH
	payload := envelope.Unwrap(env)
	dispatchErr := l.listeners.Dispatch(ctx, env.EventType, payload)
	if dispatchErr != nil {
		_ = l.store.Release(ctx, env.IdempotencyKey)

		if errors.Is(dispatchErr, listener.ErrUnmapped) {
			return ClassUnmappedEvent, env.EventType
		}
		return ClassifyDispatchError(dispatchErr, false), env.EventType
	}

	// COMMIT
	if err := l.store.Commit(ctx, env.IdempotencyKey, env.EventType, l.service); err != nil {
		_ = l.store.Release(ctx, env.IdempotencyKey)
		slog.Warn("consume: commit failed", "queue", l.logicalQueue, "error", err)
		return ClassTransientError, env.EventType
	}

	return ClassSuccess, env.EventType
}

func (l *Loop) extendVisibility(ctx context.Context, queueURL string, msg types.Message) error {
	timeout := int32(longRunningVisibilitySecs)
	_, err := l.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &queueURL,
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: timeout,
	})
	return err
}

func (l *Loop) ack(ctx context.Context, queueURL string, msg types.Message) {
	_, err := l.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		slog.Error("consume: ack failed", "queue", l.logicalQueue, "error", err)
	}
}

func (l *Loop) emitMetric(ctx context.Context, class Class, eventType string) {
	if l.metricsSink == nil {
		return
	}
	dims := map[string]string{"queue": l.logicalQueue}
	if eventType != "" {
		dims["event_type"] = eventType
	}
	name := string(class)
	if class == ClassUnmappedEvent {
		name = string(ClassPermanentError)
	}
	if err := l.metricsSink.Emit(ctx, name, 1, dims); err != nil {
		slog.Warn("consume: metric emit failed", "error", err)
	}
}

func (l *Loop) alertImmediate(ctx context.Context, class Class, eventType string, msg types.Message) {
	if l.notifier == nil {
		return
	}
	messageID := ""
	if msg.MessageId != nil {
		messageID = *msg.MessageId
	}
	_ = l.notifier.Notify(ctx, notify.Alert{
		Severity: notify.SeverityCritical,
		Title:    fmt.Sprintf("%s on %s", class, l.logicalQueue),
		Detail:   fmt.Sprintf("event_type=%s message_id=%s", eventType, messageID),
		Fields:   map[string]any{"queue": l.logicalQueue, "event_type": eventType, "class": string(class)},
	})
}

func (l *Loop) alertOnRates(ctx context.Context, result *CycleResult) {
	if l.notifier == nil || result.TotalProcessed == 0 {
		return
	}

	validationRate := float64(result.ValidationErrors) / float64(result.TotalProcessed)
	if validationRate > l.validationErrorRateThreshold {
		_ = l.notifier.Notify(ctx, notify.Alert{
			Severity: notify.SeverityWarning,
			Title:    fmt.Sprintf("validation error rate exceeded on %s", l.logicalQueue),
			Detail:   fmt.Sprintf("%.2f%% > %.2f%% threshold", validationRate*100, l.validationErrorRateThreshold*100),
			Fields: map[string]any{
				"queue":     l.logicalQueue,
				"count":     result.ValidationErrors,
				"total":     result.TotalProcessed,
				"rate":      validationRate,
				"threshold": l.validationErrorRateThreshold,
			},
		})
	}

	transientRate := float64(result.TransientErrors) / float64(result.TotalProcessed)
	if transientRate > l.transientErrorRateThreshold {
		_ = l.notifier.Notify(ctx, notify.Alert{
			Severity: notify.SeverityWarning,
			Title:    fmt.Sprintf("transient error rate exceeded on %s", l.logicalQueue),
			Detail:   fmt.Sprintf("%.2f%% > %.2f%% threshold", transientRate*100, l.transientErrorRateThreshold*100),
			Fields: map[string]any{
				"queue":     l.logicalQueue,
				"count":     result.TransientErrors,
				"total":     result.TotalProcessed,
				"rate":      transientRate,
				"threshold": l.transientErrorRateThreshold,
			},
		})
	}
}
