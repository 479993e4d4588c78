package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/pkg/clock"
	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/sirupsen/logrus"
)

// RefundService moves refund requests of cancelled bookings through
// pending -> confirmed -> refunded. Only staff may do that.
type RefundService struct {
	store  database.Store
	policy *retry.Policy
	clock  clock.Clock
	notify *Notifier
}

func NewRefundService(store database.Store, policy *retry.Policy, clk clock.Clock, notify *Notifier) *RefundService {
	return &RefundService{store: store, policy: policy, clock: clk, notify: notify}
}

func (s *RefundService) ListRefunds(ctx context.Context, who entity.Identity, status entity.RefundStatus) ([]entity.RefundRequest, error) {
	if !who.IsStaff() {
		return nil, entity.ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown refund status %q", entity.ErrInvalidInput, status)
	}

	var refunds []entity.RefundRequest
	err := runWithRetry(ctx, s.policy, "list refunds", func(ctx context.Context) error {
		var err error
		refunds, err = s.store.ListRefunds(ctx, status)
		return err
	})
	return refunds, err
}

// ConfirmRefund подтверждает заявку на возврат
func (s *RefundService) ConfirmRefund(ctx context.Context, who entity.Identity, refundID string) (entity.RefundRequest, error) {
	return s.transition(ctx, who, refundID, entity.RefundStatusPending, entity.RefundStatusConfirmed, EventRefundConfirmed)
}

// MarkRefunded отмечает возврат выплаченным
func (s *RefundService) MarkRefunded(ctx context.Context, who entity.Identity, refundID string) (entity.RefundRequest, error) {
	return s.transition(ctx, who, refundID, entity.RefundStatusConfirmed, entity.RefundStatusRefunded, EventRefundRefunded)
}

func (s *RefundService) transition(
	ctx context.Context,
	who entity.Identity,
	refundID string,
	from, to entity.RefundStatus,
	eventType string,
) (entity.RefundRequest, error) {
	if !who.IsStaff() {
		return entity.RefundRequest{}, entity.ErrForbidden
	}

	now := s.clock.Now()
	var refund entity.RefundRequest
	err := runWithRetry(ctx, s.policy, "transition refund", func(ctx context.Context) error {
		var err error
		refund, err = s.store.TransitionRefund(ctx, database.RefundTransition{
			RefundID: refundID,
			From:     from,
			To:       to,
			At:       now,
			Actor:    who.ID,
		})
		return err
	})
	if errors.Is(err, entity.ErrAlreadyResolved) {
		if refund.Status.Reached(to) {
			return refund, nil
		}
		return refund, fmt.Errorf("%w: refund is %s, expected %s", entity.ErrInvalidRefundState, refund.Status, from)
	}
	if err != nil {
		return entity.RefundRequest{}, err
	}

	s.notify.emit(eventType, s.eventKey(ctx, refund), now, refund)
	logrus.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"status":    refund.Status,
		"actor":     who.ID,
	}).Info("Refund updated")
	return refund, nil
}

// eventKey returns the trip of the refunded booking so refund events share the
// partition of the trip's other events.
func (s *RefundService) eventKey(ctx context.Context, refund entity.RefundRequest) string {
	var booking entity.Booking
	err := runWithRetry(ctx, s.policy, "load refunded booking", func(ctx context.Context) error {
		var err error
		booking, err = s.store.GetBooking(ctx, refund.BookingID)
		return err
	})
	if err != nil {
		logrus.WithError(err).WithField("booking_id", refund.BookingID).Warn("Refund event keyed by booking")
		return refund.BookingID
	}
	return booking.TripID
}
