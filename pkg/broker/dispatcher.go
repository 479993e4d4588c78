package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/sirupsen/logrus"
)

var (
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrNotInDLQ         = errors.New("event not found in DLQ")
)

// DeadLetterSink receives events the dispatcher gave up on.
type DeadLetterSink interface {
	Push(ctx context.Context, failed FailedEvent) error
}

// Dispatcher publishes events in the background so request handling never waits on a broker.
// Events are delivered in emit order by a single worker.
type Dispatcher struct {
	publisher Publisher
	policy    *retry.Policy
	dlq       DeadLetterSink
	queue     chan Event

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	overflow sync.WaitGroup
}

// NewDispatcher creates a dispatcher. dlq may be nil, failed events are then only logged.
func NewDispatcher(publisher Publisher, policy *retry.Policy, dlq DeadLetterSink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		publisher: publisher,
		policy:    policy,
		dlq:       dlq,
		queue:     make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Emit queues an event and never waits. A full queue sends the event to the DLQ
// from a separate goroutine.
func (d *Dispatcher) Emit(event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.deadLetter(event, errors.New("dispatch queue is full"), 0)
		}()
		return nil
	}
}

// Run delivers queued events until Close is called and the queue is drained.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for event := range d.queue {
		d.deliver(ctx, event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	attempts := 0
	err := d.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return d.publisher.Publish(publishCtx, event)
	})
	if err != nil {
		d.deadLetter(event, err, attempts)
	}
}

func (d *Dispatcher) deadLetter(event Event, cause error, attempts int) {
	if d.dlq == nil {
		logrus.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).WithError(cause).Error("Event dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.dlq.Push(ctx, FailedEvent{
		Event:    event,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
		Attempts: attempts,
	})
	if err != nil {
		logrus.WithError(err).WithField("event_id", event.ID).Error("Failed to store event in DLQ")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	// no Emit can add overflow work once closed is set
	overflowDone := make(chan struct{})
	go func() {
		d.overflow.Wait()
		close(overflowDone)
	}()

	for _, wait := range []chan struct{}{d.done, overflowDone} {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
