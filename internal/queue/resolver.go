// Package queue resolves logical queue names to transport URLs and
// creates queues (with a sibling DLQ) lazily on first use.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// cacheTTL is how long a resolved logical-name → URL mapping is trusted
// before a fresh lookup is attempted.
const cacheTTL = 30 * 24 * time.Hour

const (
	visibilityTimeoutSeconds      = "30"
	receiveWaitTimeSeconds        = "20"
	messageRetentionPeriodSeconds = "1209600" // 14 days
	maxReceiveCount               = 5
)

// API is the subset of the SQS client the resolver depends on.
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type cacheEntry struct {
	url       string
	expiresAt time.Time
}

// Resolver implements the QueueResolver component (C1).
type Resolver struct {
	api    API
	prefix string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver builds a Resolver for the given environment prefix
// (e.g. "local", "dev", "production").
func NewResolver(api API, prefix string) *Resolver {
	return &Resolver{
		api:    api,
		prefix: prefix,
		cache:  make(map[string]cacheEntry),
	}
}

// EffectiveName returns the remote queue name for a logical name.
func (r *Resolver) EffectiveName(logicalName string) string {
	return fmt.Sprintf("%s-%s", r.prefix, logicalName)
}

func dlqName(effectiveName string) string {
	return effectiveName + "-dlq"
}

// Resolve maps a logical queue name to its transport URL, creating the
// queue and its DLQ on first use. Cache-through with a 30-day TTL.
func (r *Resolver) Resolve(ctx context.Context, logicalName string) (string, error) {
	if url, ok := r.cached(logicalName); ok {
		return url, nil
	}

	effectiveName := r.EffectiveName(logicalName)

	out, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &effectiveName})
	if err == nil {
		r.store(logicalName, *out.QueueUrl)
		return *out.QueueUrl, nil
	}

	var notFound *types.QueueDoesNotExist
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("queue: resolve %s: %w", logicalName, err)
	}

	url, err := r.createQueue(ctx, effectiveName)
	if err != nil {
		return "", fmt.Errorf("queue: create %s: %w", logicalName, err)
	}

	r.store(logicalName, url)
	return url, nil
}

// ResolveDLQURL looks up the DLQ sibling of logicalName's queue. Unlike
// Resolve, it never creates anything: a DLQ is a byproduct of its main
// queue's creation, so a missing DLQ means the main queue was never
// resolved, not that one should be created here.
func (r *Resolver) ResolveDLQURL(ctx context.Context, logicalName string) (string, error) {
	cacheKey := logicalName + "-dlq"
	if url, ok := r.cached(cacheKey); ok {
		return url, nil
	}

	dlqEffectiveName := dlqName(r.EffectiveName(logicalName))
	out, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &dlqEffectiveName})
	if err != nil {
		return "", fmt.Errorf("queue: resolve dlq for %s: %w", logicalName, err)
	}

	r.store(cacheKey, *out.QueueUrl)
	return *out.QueueUrl, nil
}

// QueueExists is a pure existence check; it never creates a queue.
// Any failure, including a transport error unrelated to absence, is
// treated conservatively as "does not exist".
func (r *Resolver) QueueExists(ctx context.Context, logicalName string) bool {
	effectiveName := r.EffectiveName(logicalName)
	_, err := r.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &effectiveName})
	return err == nil
}

// createQueue creates the DLQ first, then the main queue with a redrive
// policy pointing at it. Any failed step aborts the whole resolution;
// the DLQ may be left behind, but creation is idempotent by name so a
// retry is safe.
func (r *Resolver) createQueue(ctx context.Context, effectiveName string) (string, error) {
	dlq := dlqName(effectiveName)

	dlqOut, err := r.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: &dlq,
		Attributes: map[string]string{
			"MessageRetentionPeriod": messageRetentionPeriodSeconds,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create dlq %s: %w", dlq, err)
	}

	attrs, err := r.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       dlqOut.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("read dlq arn %s: %w", dlq, err)
	}
	dlqArn, ok := attrs.Attributes[string(types.QueueAttributeNameQueueArn)]
	if !ok {
		return "", fmt.Errorf("dlq %s: queue arn not returned", dlq)
	}

	redrivePolicy, err := json.Marshal(map[string]any{
		"deadLetterTargetArn": dlqArn,
		"maxReceiveCount":     maxReceiveCount,
	})
	if err != nil {
		return "", fmt.Errorf("encode redrive policy: %w", err)
	}

	mainOut, err := r.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: &effectiveName,
		Attributes: map[string]string{
			"VisibilityTimeout":            visibilityTimeoutSeconds,
			"ReceiveMessageWaitTimeSeconds": receiveWaitTimeSeconds,
			"MessageRetentionPeriod":        messageRetentionPeriodSeconds,
			"RedrivePolicy":                 string(redrivePolicy),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create queue %s: %w", effectiveName, err)
	}

	return *mainOut.QueueUrl, nil
}

func (r *Resolver) cached(logicalName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[logicalName]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.url, true
}

func (r *Resolver) store(logicalName, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[logicalName] = cacheEntry{url: url, expiresAt: time.Now().Add(cacheTTL)}
}
