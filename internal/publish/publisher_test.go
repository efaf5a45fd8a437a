package publish

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/queue"
)

type fakeResolverAPI struct {
	url string
}

func (f *fakeResolverAPI) GetQueueUrl(_ context.Context, _ *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	url := f.url
	return &sqs.GetQueueUrlOutput{QueueUrl: &url}, nil
}
func (f *fakeResolverAPI) CreateQueue(context.Context, *sqs.CreateQueueInput, ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	panic("not used")
}
func (f *fakeResolverAPI) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	panic("not used")
}

type fakePublishAPI struct {
	sent      []*sqs.SendMessageInput
	sentBatch []*sqs.SendMessageBatchInput
	messageID string
}

func (f *fakePublishAPI) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, params)
	id := f.messageID
	if id == "" {
		id = "msg-1"
	}
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

func (f *fakePublishAPI) SendMessageBatch(_ context.Context, params *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.sentBatch = append(f.sentBatch, params)

	out := &sqs.SendMessageBatchOutput{}
	for _, e := range params.Entries {
		id := *e.Id
		msgID := "batch-" + id
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{
			Id:        &id,
			MessageId: &msgID,
		})
	}
	return out, nil
}

func TestPublishSendsEnvelopeWithEventTypeAttribute(t *testing.T) {
	resolver := queue.NewResolver(&fakeResolverAPI{url: "https://sqs.example.com/000/test-orders"}, "test")
	api := &fakePublishAPI{}
	p := New(api, resolver, "payment")

	id, err := p.Publish(context.Background(), "orders", "payment.paid", map[string]any{"student_id": float64(42)}, map[string]string{"region": "us"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, api.sent, 1)
	attr := api.sent[0].MessageAttributes["EventType"]
	require.NotNil(t, attr.StringValue)
	assert.Equal(t, "payment.paid", *attr.StringValue)
	assert.Equal(t, "us", *api.sent[0].MessageAttributes["region"].StringValue)

	var decoded envelope.Envelope
	require.NoError(t, json.Unmarshal([]byte(*api.sent[0].MessageBody), &decoded))
	assert.Equal(t, "payment.paid", decoded.EventType)
}

func TestPublishBatchSplitsAtTransportLimit(t *testing.T) {
	resolver := queue.NewResolver(&fakeResolverAPI{url: "https://sqs.example.com/000/test-orders"}, "test")
	api := &fakePublishAPI{}
	p := New(api, resolver, "payment")

	items := make([]BatchItem, 25)
	for i := range items {
		items[i] = BatchItem{EventType: "payment.paid", Payload: map[string]any{"i": float64(i)}}
	}

	result, err := p.PublishBatch(context.Background(), "orders", items)
	require.NoError(t, err)

	assert.Len(t, result.Successful, 25)
	assert.Empty(t, result.Failed)
	// 25 items at <=10 per request => 3 batch calls
	assert.Len(t, api.sentBatch, 3)
	assert.Len(t, api.sentBatch[0].Entries, 10)
	assert.Len(t, api.sentBatch[1].Entries, 10)
	assert.Len(t, api.sentBatch[2].Entries, 5)
}
