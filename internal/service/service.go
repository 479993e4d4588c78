package service

import (
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/pkg/broker"
	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/sirupsen/logrus"
)

// Domain event types
const (
	EventHoldCreated      = "hold.created"
	EventHoldExpired      = "hold.expired"
	EventHoldReleased     = "hold.released"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventRefundRequested  = "refund.requested"
	EventRefundConfirmed  = "refund.confirmed"
	EventRefundRefunded   = "refund.refunded"
)

// SeatPublisher pushes a seat count change to trip subscribers. It must not block.
type SeatPublisher interface {
	PublishSeats(update entity.SeatUpdate)
}

// EventEmitter hands a domain event to the broker. It must not block.
type EventEmitter interface {
	Emit(event broker.Event) error
}

// Notifier fans out every committed inventory change. Both collaborators are optional.
type Notifier struct {
	seats  SeatPublisher
	events EventEmitter
}

func NewNotifier(seats SeatPublisher, events EventEmitter) *Notifier {
	return &Notifier{seats: seats, events: events}
}

func (n *Notifier) seatsChanged(inv entity.Inventory) {
	if n == nil || n.seats == nil {
		return
	}
	n.seats.PublishSeats(inv.SeatUpdate())
}

func (n *Notifier) emit(eventType, tripID string, at time.Time, payload interface{}) {
	if n == nil || n.events == nil {
		return
	}

	event, err := broker.NewEvent(eventType, tripID, at, payload)
	if err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Error("Failed to build event")
		return
	}
	if err := n.events.Emit(event); err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Warn("Failed to emit event")
	}
}

// NewStorePolicy returns the retry policy for store calls: business outcomes are final,
// everything else is retried with backoff.
func NewStorePolicy(attempts int, baseDelay, maxDelay time.Duration) *retry.Policy {
	return retry.New(attempts, baseDelay,
		retry.WithMaxDelay(maxDelay),
		retry.WithRetryable(func(err error) bool {
			return err != nil && !entity.IsBusiness(err)
		}),
	)
}
