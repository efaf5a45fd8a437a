// Package dlq implements the operator-facing DLQ tools (C7): Inspect,
// Replay, and Monitor over the `{queue}-dlq` convention.
package dlq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/notify"
	"github.com/jrepp/prism-msgbus/internal/publish"
	"github.com/jrepp/prism-msgbus/internal/queue"
)

const (
	inspectWaitSeconds = 0
	maxInspectMessages  = 10
	criticalDepth       = 10
)

// API is the subset of the SQS client the DLQ tools depend on.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Tools bundles the DLQ operator commands.
type Tools struct {
	api       API
	resolver  *queue.Resolver
	publisher *publish.Publisher
	notifier  notify.Notifier
}

// New builds a Tools instance.
func New(api API, resolver *queue.Resolver, publisher *publish.Publisher, notifier notify.Notifier) *Tools {
	return &Tools{api: api, resolver: resolver, publisher: publisher, notifier: notifier}
}

// InspectedMessage is one peeked DLQ entry.
type InspectedMessage struct {
	MessageID     string
	ReceiveCount  string
	SentTimestamp string
	Envelope      *envelope.Envelope
	DecodeError   error
}

// Inspect peeks up to limit messages on logicalQueue's DLQ without
// deleting or acking them. Visibility timeout returns them shortly.
func (t *Tools) Inspect(ctx context.Context, logicalQueue string, limit int) ([]InspectedMessage, error) {
	dlqURL, err := t.resolveDLQ(ctx, logicalQueue)
	if err != nil {
		return nil, err
	}

	out, err := t.receive(ctx, dlqURL, limit)
	if err != nil {
		return nil, fmt.Errorf("dlq: inspect receive: %w", err)
	}

	inspected := make([]InspectedMessage, 0, len(out.Messages))
	for _, msg := range out.Messages {
		inspected = append(inspected, toInspectedMessage(msg))
	}
	return inspected, nil
}

func toInspectedMessage(msg types.Message) InspectedMessage {
	im := InspectedMessage{
		ReceiveCount:  msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)],
		SentTimestamp: msg.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)],
	}
	if msg.MessageId != nil {
		im.MessageID = *msg.MessageId
	}

	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}
	env, err := envelope.FromJSON([]byte(body))
	if err != nil {
		im.DecodeError = err
		return im
	}
	im.Envelope = env
	return im
}

// ReplayResult tallies a Replay invocation's outcome.
type ReplayResult struct {
	Replayed int
	Failed   int
}

// Replay decodes up to limit messages from logicalQueue's DLQ,
// republishes each to the main queue with its original event type and
// payload, and deletes it from the DLQ on success. Malformed messages
// are deleted and counted as failed.
func (t *Tools) Replay(ctx context.Context, logicalQueue string, limit int) (ReplayResult, error) {
	dlqURL, err := t.resolveDLQ(ctx, logicalQueue)
	if err != nil {
		return ReplayResult{}, err
	}

	out, err := t.receive(ctx, dlqURL, limit)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("dlq: replay receive: %w", err)
	}

	var result ReplayResult
	for _, msg := range out.Messages {
		im := toInspectedMessage(msg)
		if im.DecodeError != nil {
			t.deleteFrom(ctx, dlqURL, msg)
			result.Failed++
			continue
		}

		_, err := t.publisher.Publish(ctx, logicalQueue, im.Envelope.EventType, im.Envelope.Payload, nil)
		if err != nil {
			result.Failed++
			continue
		}

		t.deleteFrom(ctx, dlqURL, msg)
		result.Replayed++
	}
	return result, nil
}

// MonitorResult is one queue's observed DLQ depth.
type MonitorResult struct {
	LogicalQueue string
	Depth        int
	Alerted      bool
}

// Monitor reads each configured queue's DLQ approximate depth and
// raises a CRITICAL alert for any depth exceeding threshold. It returns
// true if any alert fired, matching the operator command's non-zero
// exit convention.
func (t *Tools) Monitor(ctx context.Context, logicalQueues []string, threshold int) ([]MonitorResult, bool, error) {
	if threshold <= 0 {
		threshold = criticalDepth
	}

	results := make([]MonitorResult, 0, len(logicalQueues))
	anyAlert := false

	for _, lq := range logicalQueues {
		dlqURL, err := t.resolveDLQ(ctx, lq)
		if err != nil {
			return results, anyAlert, err
		}

		out, err := t.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       &dlqURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
		})
		if err != nil {
			return results, anyAlert, fmt.Errorf("dlq: monitor %s: %w", lq, err)
		}

		depth := 0
		if raw, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]; ok {
			fmt.Sscanf(raw, "%d", &depth)
		}

		alerted := depth > threshold
		if alerted {
			anyAlert = true
			if t.notifier != nil {
				_ = t.notifier.Notify(ctx, notify.Alert{
					Severity: notify.SeverityCritical,
					Title:    fmt.Sprintf("dlq depth exceeded on %s", lq),
					Detail:   fmt.Sprintf("depth=%d threshold=%d", depth, threshold),
					Fields:   map[string]any{"queue": lq, "depth": depth, "threshold": threshold},
				})
			}
		}

		results = append(results, MonitorResult{LogicalQueue: lq, Depth: depth, Alerted: alerted})
	}

	return results, anyAlert, nil
}

func (t *Tools) resolveDLQ(ctx context.Context, logicalQueue string) (string, error) {
	return t.resolver.ResolveDLQURL(ctx, logicalQueue)
}

func (t *Tools) receive(ctx context.Context, queueURL string, limit int) (*sqs.ReceiveMessageOutput, error) {
	if limit <= 0 || limit > maxInspectMessages {
		limit = maxInspectMessages
	}
	return t.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &queueURL,
		MaxNumberOfMessages:   int32(limit),
		WaitTimeSeconds:       inspectWaitSeconds,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
}

func (t *Tools) deleteFrom(ctx context.Context, queueURL string, msg types.Message) {
	_, _ = t.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	})
}
