// Package publish implements the Publisher component (C3): it wraps a
// payload in an envelope, resolves the target queue, and sends it.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/queue"
)

// maxBatchEntries is the transport's per-request batch limit.
const maxBatchEntries = 10

// API is the subset of the SQS client the publisher depends on.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Publisher publishes envelopes onto a resolved queue.
type Publisher struct {
	api      API
	resolver *queue.Resolver
	service  string
}

// New builds a Publisher that identifies itself as the given origin
// service in every envelope it wraps.
func New(api API, resolver *queue.Resolver, service string) *Publisher {
	return &Publisher{api: api, resolver: resolver, service: service}
}

// BatchItem is one entry in a PublishBatch call.
type BatchItem struct {
	EventType string
	Payload   map[string]any
	Attrs     map[string]string
}

// BatchResult reports per-item outcomes of PublishBatch.
type BatchResult struct {
	Successful []string // message IDs
	Failed     []error
}

// Publish wraps payload in an envelope, resolves logicalQueue, and
// sends it. Returns the transport message ID.
func (p *Publisher) Publish(ctx context.Context, logicalQueue, eventType string, payload map[string]any, attrs map[string]string) (string, error) {
	env, err := envelope.Wrap(eventType, payload, p.service)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return p.PublishEnvelope(ctx, logicalQueue, env, attrs)
}

// PublishEnvelope sends an already-built envelope. Used by the driver
// router so dual-write legs share one envelope (and idempotency key)
// instead of each wrapping the payload independently.
func (p *Publisher) PublishEnvelope(ctx context.Context, logicalQueue string, env *envelope.Envelope, attrs map[string]string) (string, error) {
	url, err := p.resolver.Resolve(ctx, logicalQueue)
	if err != nil {
		return "", fmt.Errorf("publish: resolve queue %s: %w", logicalQueue, err)
	}

	body, err := env.ToJSON()
	if err != nil {
		return "", fmt.Errorf("publish: encode envelope: %w", err)
	}

	bodyStr := string(body)
	out, err := p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &url,
		MessageBody:       &bodyStr,
		MessageAttributes: messageAttributes(env.EventType, attrs),
	})
	if err != nil {
		slog.Error("publish failed", "queue", logicalQueue, "event_type", env.EventType, "error", err)
		return "", fmt.Errorf("publish: send message: %w", err)
	}

	return *out.MessageId, nil
}

// PublishBatch publishes multiple items to the same logical queue,
// splitting into requests of at most 10 entries per the transport limit.
func (p *Publisher) PublishBatch(ctx context.Context, logicalQueue string, items []BatchItem) (BatchResult, error) {
	var result BatchResult
	if len(items) == 0 {
		return result, nil
	}

	url, err := p.resolver.Resolve(ctx, logicalQueue)
	if err != nil {
		return result, fmt.Errorf("publish: resolve queue %s: %w", logicalQueue, err)
	}

	for start := 0; start < len(items); start += maxBatchEntries {
		end := start + maxBatchEntries
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		var entries []types.SendMessageBatchRequestEntry
		for i, item := range chunk {
			env, err := envelope.Wrap(item.EventType, item.Payload, p.service)
			if err != nil {
				result.Failed = append(result.Failed, err)
				continue
			}
			body, err := env.ToJSON()
			if err != nil {
				result.Failed = append(result.Failed, err)
				continue
			}

			id := fmt.Sprintf("%d", start+i)
			bodyStr := string(body)
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:                &id,
				MessageBody:       &bodyStr,
				MessageAttributes: messageAttributes(item.EventType, item.Attrs),
			})
		}

		if len(entries) == 0 {
			continue
		}

		out, err := p.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{QueueUrl: &url, Entries: entries})
		if err != nil {
			return result, fmt.Errorf("publish: send message batch: %w", err)
		}

		for _, s := range out.Successful {
			result.Successful = append(result.Successful, *s.MessageId)
		}
		for _, f := range out.Failed {
			result.Failed = append(result.Failed, fmt.Errorf("publish: batch entry %s failed: %s", *f.Id, *f.Message))
		}
	}

	return result, nil
}

// messageAttributes builds the EventType transport attribute plus any
// caller-supplied string attributes, all carried as strings.
func messageAttributes(eventType string, attrs map[string]string) map[string]types.MessageAttributeValue {
	dataType := "String"
	out := map[string]types.MessageAttributeValue{
		"EventType": {DataType: &dataType, StringValue: &eventType},
	}
	for k, v := range attrs {
		value := v
		out[k] = types.MessageAttributeValue{DataType: &dataType, StringValue: &value}
	}
	return out
}
