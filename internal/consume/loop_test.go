package consume

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-msgbus/internal/envelope"
	"github.com/jrepp/prism-msgbus/internal/idempotency"
	"github.com/jrepp/prism-msgbus/internal/listener"
	"github.com/jrepp/prism-msgbus/internal/notify"
	"github.com/jrepp/prism-msgbus/internal/queue"
)

// --- fakes ---

type memCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemCache() *memCache { return &memCache{keys: make(map[string]bool)} }

func (c *memCache) SetTTL(_ context.Context, key string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = true
	return nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

type fakeRow struct{ exists bool }

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*bool) = r.exists
	return nil
}

type memDB struct {
	mu   sync.Mutex
	rows map[string]bool
}

func newMemDB() *memDB { return &memDB{rows: make(map[string]bool)} }

func (d *memDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.Contains(sql, "INSERT INTO processed_events") {
		d.rows[args[0].(string)] = true
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *memDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fakeRow{exists: d.rows[args[0].(string)]}
}

type fakeQueueAPI struct{ url string }

func (f *fakeQueueAPI) GetQueueUrl(context.Context, *sqs.GetQueueUrlInput, ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: &f.url}, nil
}
func (f *fakeQueueAPI) CreateQueue(context.Context, *sqs.CreateQueueInput, ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	panic("not used")
}
func (f *fakeQueueAPI) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	panic("not used")
}

type fakeConsumeAPI struct {
	mu       sync.Mutex
	messages []types.Message
	deleted  []string
	extended []string
	recvErr  error
}

func (f *fakeConsumeAPI) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeConsumeAPI) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeConsumeAPI) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, *params.ReceiptHandle)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (c *captureNotifier) Notify(_ context.Context, alert notify.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func envelopeMessage(t *testing.T, eventType string, payload map[string]any, receiptHandle, messageID string) types.Message {
	t.Helper()
	env, err := envelope.Wrap(eventType, payload, "payment")
	require.NoError(t, err)
	body, err := env.ToJSON()
	require.NoError(t, err)
	s := string(body)
	return types.Message{Body: &s, ReceiptHandle: &receiptHandle, MessageId: &messageID}
}

func newTestLoop(t *testing.T, api *fakeConsumeAPI, reg *listener.Registry, notifier *captureNotifier, cfg Config) *Loop {
	t.Helper()
	resolver := queue.NewResolver(&fakeQueueAPI{url: "https://sqs.local/queue/payments"}, "local")
	store := idempotency.New(newMemCache(), newMemDB())
	return New(api, resolver, store, reg, nil, notifier, cfg)
}

func TestRunCycleAcksSuccessfulDispatch(t *testing.T) {
	reg := listener.NewRegistry()
	var handled map[string]any
	reg.Register("payment.paid", func(_ context.Context, p map[string]any) error {
		handled = p
		return nil
	})

	api := &fakeConsumeAPI{messages: []types.Message{
		envelopeMessage(t, "payment.paid", map[string]any{"amount": float64(500)}, "rh-1", "m-1"),
	}}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments", Service: "payment"})

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, []string{"rh-1"}, api.deleted)
	assert.Equal(t, float64(500), handled["amount"])
}

func TestRunCycleDiscardsValidationError(t *testing.T) {
	reg := listener.NewRegistry()
	body := `{"not":"an envelope"}`
	api := &fakeConsumeAPI{messages: []types.Message{
		{Body: &body, ReceiptHandle: strPtr("rh-2"), MessageId: strPtr("m-2")},
	}}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments"})

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ValidationErrors)
	assert.Equal(t, []string{"rh-2"}, api.deleted)
}

func TestRunCycleLeavesMessageOnTransientDispatchError(t *testing.T) {
	reg := listener.NewRegistry()
	reg.Register("payment.paid", func(context.Context, map[string]any) error {
		return errors.New("connection refused")
	})

	api := &fakeConsumeAPI{messages: []types.Message{
		envelopeMessage(t, "payment.paid", map[string]any{"x": float64(1)}, "rh-3", "m-3"),
	}}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments"})

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransientErrors)
	assert.Empty(t, api.deleted)
}

func TestRunCycleAlertsAndDiscardsOnUnmappedEvent(t *testing.T) {
	reg := listener.NewRegistry()
	api := &fakeConsumeAPI{messages: []types.Message{
		envelopeMessage(t, "unknown.event", map[string]any{}, "rh-4", "m-4"),
	}}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments"})

	result, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnmappedEvents)
	assert.Equal(t, []string{"rh-4"}, api.deleted)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, notify.SeverityCritical, notifier.alerts[0].Severity)
}

func TestRunCycleExtendsVisibilityForLongRunningEvents(t *testing.T) {
	reg := listener.NewRegistry()
	reg.Register("report.generate", func(context.Context, map[string]any) error { return nil })

	api := &fakeConsumeAPI{messages: []types.Message{
		envelopeMessage(t, "report.generate", map[string]any{}, "rh-5", "m-5"),
	}}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments", LongRunningEvents: []string{"report.generate"}})

	_, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rh-5"}, api.extended)
}

func TestRunCycleReturnsErrorOnFatalReceiveFailure(t *testing.T) {
	reg := listener.NewRegistry()
	api := &fakeConsumeAPI{recvErr: errors.New("network unreachable")}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments"})

	_, err := loop.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestRunCycleAlertsOnValidationErrorRateExceeded(t *testing.T) {
	reg := listener.NewRegistry()
	reg.Register("payment.paid", func(context.Context, map[string]any) error { return nil })

	bad := `{"broken":true}`
	msgs := []types.Message{
		{Body: &bad, ReceiptHandle: strPtr("rh-bad"), MessageId: strPtr("m-bad")},
		envelopeMessage(t, "payment.paid", map[string]any{}, "rh-good", "m-good"),
	}
	api := &fakeConsumeAPI{messages: msgs}
	notifier := &captureNotifier{}
	loop := newTestLoop(t, api, reg, notifier, Config{LogicalQueue: "payments", ValidationErrorRateThreshold: 0.01})

	_, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, notifier.alerts)
}

func strPtr(s string) *string { return &s }
