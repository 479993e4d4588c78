package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	fail   int
	calls  int
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// gatedSink blocks every Push until release is closed.
type gatedSink struct {
	release chan struct{}
	mu      sync.Mutex
	failed  []FailedEvent
}

func (s *gatedSink) Push(ctx context.Context, failed FailedEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failed)
	return nil
}

func newDeadLetters(t *testing.T) *DeadLetters {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDeadLetters(client, "test:dlq")
}

func mustEvent(t *testing.T, eventType, key string) Event {
	t.Helper()
	event, err := NewEvent(eventType, key, testAt, map[string]string{"trip_id": key})
	require.NoError(t, err)
	return event
}

func TestNewEvent(t *testing.T) {
	event := mustEvent(t, "hold.created", "trip-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "hold.created", event.Type)
	assert.Equal(t, "trip-1", event.Key)
	assert.JSONEq(t, `{"trip_id":"trip-1"}`, string(event.Payload))
}

func TestKafkaMessage(t *testing.T) {
	event := mustEvent(t, "booking.confirmed", "trip-7")

	msg, err := kafkaMessage(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("trip-7"), msg.Key)
	assert.Equal(t, testAt, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("booking.confirmed"), msg.Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
}

func TestRabbitPublishing(t *testing.T) {
	event := mustEvent(t, "refund.requested", "trip-2")

	pub, err := rabbitPublishing(event)
	require.NoError(t, err)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, event.ID, pub.MessageId)
	assert.Equal(t, "refund.requested", pub.Type)
}

func TestDispatcherRetriesThenDelivers(t *testing.T) {
	pub := &recordingPublisher{fail: 2}
	dlq := newDeadLetters(t)
	d := NewDispatcher(pub, retry.New(3, time.Millisecond), dlq, 8)
	go d.Run(context.Background())

	require.NoError(t, d.Emit(mustEvent(t, "hold.created", "trip-1")))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, pub.events, 1)
	stats, err := dlq.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.QueueSize)
}

func TestDispatcherDeadLettersAfterRetries(t *testing.T) {
	pub := &recordingPublisher{fail: 100}
	dlq := newDeadLetters(t)
	d := NewDispatcher(pub, retry.New(2, time.Millisecond), dlq, 8)
	go d.Run(context.Background())

	event := mustEvent(t, "hold.expired", "trip-1")
	require.NoError(t, d.Emit(event))
	require.NoError(t, d.Close(context.Background()))

	failed, err := dlq.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, event.ID, failed[0].Event.ID)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.Equal(t, "broker unavailable", failed[0].Error)

	taken, err := dlq.Take(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.Type, taken.Event.Type)

	_, err = dlq.Take(context.Background(), event.ID)
	assert.ErrorIs(t, err, ErrNotInDLQ)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, retry.New(1, time.Millisecond), nil, 16)
	go d.Run(context.Background())

	types := []string{"hold.created", "booking.confirmed", "booking.cancelled", "refund.requested"}
	for _, eventType := range types {
		require.NoError(t, d.Emit(mustEvent(t, eventType, "trip-1")))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, pub.events, len(types))
	for i, eventType := range types {
		assert.Equal(t, eventType, pub.events[i].Type)
	}
	assert.ErrorIs(t, d.Emit(mustEvent(t, "late", "trip-1")), ErrDispatcherClosed)
}

func TestDispatcherEmitDoesNotWaitOnOverflow(t *testing.T) {
	pub := &recordingPublisher{}
	sink := &gatedSink{release: make(chan struct{})}
	d := NewDispatcher(pub, retry.New(1, time.Millisecond), sink, 1)

	queued := mustEvent(t, "hold.created", "trip-1")
	overflow := mustEvent(t, "hold.expired", "trip-1")
	require.NoError(t, d.Emit(queued))

	start := time.Now()
	require.NoError(t, d.Emit(overflow))
	assert.Less(t, time.Since(start), time.Second)

	close(sink.release)
	go d.Run(context.Background())
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, pub.events, 1)
	assert.Equal(t, queued.ID, pub.events[0].ID)
	require.Len(t, sink.failed, 1)
	assert.Equal(t, overflow.ID, sink.failed[0].Event.ID)
	assert.Equal(t, "dispatch queue is full", sink.failed[0].Error)
}

func TestDeadLettersStats(t *testing.T) {
	dlq := newDeadLetters(t)
	ctx := context.Background()

	require.NoError(t, dlq.Push(ctx, FailedEvent{Event: mustEvent(t, "a", "t"), Error: "x", FailedAt: testAt}))
	require.NoError(t, dlq.Push(ctx, FailedEvent{Event: mustEvent(t, "b", "t"), Error: "y", FailedAt: testAt.Add(time.Minute)}))

	stats, err := dlq.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.QueueSize)
	assert.WithinDuration(t, testAt, stats.OldestFailure, time.Millisecond)
	assert.WithinDuration(t, testAt.Add(time.Minute), stats.NewestFailure, time.Millisecond)

	failed, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Event.Type)
}
