package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/pkg/payment"
	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HoldRequest представляет данные для резервирования мест
type HoldRequest struct {
	TripID     string            `json:"trip_id" binding:"required"`
	SeatCount  int               `json:"seat_count" binding:"required,min=1"`
	Passengers entity.Passengers `json:"passengers"`
}

type ConfirmRequest struct {
	HoldID  string       `json:"hold_id" binding:"required"`
	Payment payment.Info `json:"payment"`
}

type CancelRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	Reason    string `json:"reason"`
}

type CreateTripRequest struct {
	TripID     string `json:"trip_id" binding:"required"`
	TotalSeats int    `json:"total_seats" binding:"required,min=1"`
	Fare       int64  `json:"fare" binding:"min=0"`
}

// HoldReceipt is what the client gets for a successful hold.
type HoldReceipt struct {
	Hold      entity.Hold      `json:"hold"`
	Deadline  time.Time        `json:"deadline"`
	Inventory entity.Inventory `json:"inventory"`
}

// BookingService coordinates hold, confirm and cancel on top of the seat store.
type BookingService struct {
	store    database.Store
	holds    *HoldManager
	payments payment.Gateway
	policy   *retry.Policy
	notify   *Notifier
	maxSeats int
}

func NewBookingService(
	store database.Store,
	holds *HoldManager,
	payments payment.Gateway,
	policy *retry.Policy,
	notify *Notifier,
	maxSeatsPerHold int,
) *BookingService {
	return &BookingService{
		store:    store,
		holds:    holds,
		payments: payments,
		policy:   policy,
		notify:   notify,
		maxSeats: maxSeatsPerHold,
	}
}

// CreateTrip заводит инвентарь мест для нового рейса
func (s *BookingService) CreateTrip(ctx context.Context, who entity.Identity, req CreateTripRequest) (entity.Inventory, error) {
	if !who.IsStaff() {
		return entity.Inventory{}, entity.ErrForbidden
	}
	if req.TripID == "" || req.TotalSeats < 1 || req.Fare < 0 {
		return entity.Inventory{}, fmt.Errorf("%w: trip id, positive seat count and non-negative fare required", entity.ErrInvalidInput)
	}

	var inv entity.Inventory
	err := s.withRetry(ctx, "create trip", func(ctx context.Context) error {
		var err error
		inv, err = s.store.CreateTrip(ctx, entity.NewInventory(req.TripID, req.TotalSeats, req.Fare, s.holds.Now()))
		return err
	})
	if err != nil {
		return entity.Inventory{}, err
	}

	logrus.WithFields(logrus.Fields{
		"trip_id": inv.TripID,
		"seats":   inv.TotalSeats,
	}).Info("Trip created")
	s.notify.seatsChanged(inv)
	return inv, nil
}

// RequestBooking резервирует места на время TTL
func (s *BookingService) RequestBooking(ctx context.Context, who entity.Identity, req HoldRequest) (HoldReceipt, error) {
	if req.TripID == "" {
		return HoldReceipt{}, fmt.Errorf("%w: trip id required", entity.ErrInvalidInput)
	}
	if req.SeatCount < 1 || (s.maxSeats > 0 && req.SeatCount > s.maxSeats) {
		return HoldReceipt{}, fmt.Errorf("%w: seat count must be between 1 and %d", entity.ErrInvalidInput, s.maxSeats)
	}
	if err := req.Passengers.Validate(req.SeatCount); err != nil {
		return HoldReceipt{}, err
	}

	hold := s.holds.NewHold(req.TripID, who.ID, req.SeatCount, req.Passengers)

	var inv entity.Inventory
	err := s.withRetry(ctx, "hold seats", func(ctx context.Context) error {
		var err error
		inv, err = s.store.TryHold(ctx, hold)
		return err
	})
	if err != nil {
		return HoldReceipt{}, err
	}

	s.holds.Track(hold)
	s.notify.seatsChanged(inv)
	s.notify.emit(EventHoldCreated, hold.TripID, hold.CreatedAt, hold)

	logrus.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"trip_id":    hold.TripID,
		"owner_id":   hold.OwnerID,
		"seats":      hold.SeatCount,
		"expires_at": hold.ExpiresAt,
	}).Info("Seats held")

	return HoldReceipt{Hold: hold, Deadline: hold.ExpiresAt, Inventory: inv}, nil
}

// ConfirmBooking оплачивает резерв и превращает его в бронирование.
// Confirming an already confirmed hold returns the existing booking.
func (s *BookingService) ConfirmBooking(ctx context.Context, who entity.Identity, req ConfirmRequest) (entity.Booking, error) {
	hold, err := s.loadHold(ctx, who, req.HoldID)
	if err != nil {
		return entity.Booking{}, err
	}

	now := s.holds.Now()
	switch {
	case hold.State == entity.HoldStateConfirmed:
		return s.bookingByHold(ctx, hold.ID)
	case hold.State != entity.HoldStateActive, hold.ExpiredAt(now):
		return entity.Booking{}, entity.ErrHoldExpired
	}

	var inv entity.Inventory
	err = s.withRetry(ctx, "load trip", func(ctx context.Context) error {
		var err error
		inv, err = s.store.GetInventory(ctx, hold.TripID)
		return err
	})
	if err != nil {
		return entity.Booking{}, err
	}

	receipt, err := s.payments.Charge(ctx, payment.Charge{
		Reference: hold.ID,
		Amount:    inv.Fare * int64(hold.SeatCount),
		Info:      req.Payment,
	})
	if err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			return entity.Booking{}, fmt.Errorf("%w: %v", entity.ErrPaymentDeclined, err)
		}
		return entity.Booking{}, fmt.Errorf("failed to charge payment: %w", err)
	}

	// оплата может идти долго, срок резерва проверяем по времени после неё
	at := s.holds.Now()
	booking := &entity.Booking{
		ID:            uuid.NewString(),
		OwnerID:       hold.OwnerID,
		Passengers:    hold.Passengers,
		AmountPaid:    receipt.Amount,
		Status:        entity.BookingStatusConfirmed,
		TransactionID: receipt.TransactionID,
		CreatedAt:     at,
	}

	var res database.HoldResolution
	err = s.withRetry(ctx, "confirm hold", func(ctx context.Context) error {
		var err error
		res, err = s.store.ResolveHold(ctx, database.ResolveHoldInput{
			HoldID:  hold.ID,
			To:      entity.HoldStateConfirmed,
			At:      at,
			Booking: booking,
		})
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrAlreadyResolved) && res.Hold.State == entity.HoldStateConfirmed:
		existing, getErr := s.bookingByHold(ctx, hold.ID)
		if getErr != nil {
			return entity.Booking{}, getErr
		}
		if existing.TransactionID != receipt.TransactionID {
			s.void(ctx, receipt)
		}
		return existing, nil
	case errors.Is(err, entity.ErrAlreadyResolved), errors.Is(err, entity.ErrHoldExpired):
		s.void(ctx, receipt)
		return entity.Booking{}, entity.ErrHoldExpired
	default:
		// Outcome unknown: the charge stays and a retry with the same hold reuses it.
		return entity.Booking{}, err
	}

	s.holds.Untrack(hold.ID)
	s.notify.seatsChanged(res.Inventory)
	s.notify.emit(EventBookingConfirmed, res.Booking.TripID, at, res.Booking)

	logrus.WithFields(logrus.Fields{
		"booking_id": res.Booking.ID,
		"hold_id":    hold.ID,
		"trip_id":    res.Booking.TripID,
		"amount":     res.Booking.AmountPaid,
	}).Info("Booking confirmed")

	return *res.Booking, nil
}

// ReleaseHold возвращает места резерва до истечения TTL. Releasing twice is a no-op.
func (s *BookingService) ReleaseHold(ctx context.Context, who entity.Identity, holdID string) (entity.Hold, error) {
	hold, err := s.loadHold(ctx, who, holdID)
	if err != nil {
		return entity.Hold{}, err
	}
	if hold.State.Terminal() {
		return hold, nil
	}

	now := s.holds.Now()
	var res database.HoldResolution
	err = s.withRetry(ctx, "release hold", func(ctx context.Context) error {
		var err error
		res, err = s.store.ResolveHold(ctx, database.ResolveHoldInput{
			HoldID: holdID,
			To:     entity.HoldStateReleased,
			At:     now,
		})
		return err
	})
	if errors.Is(err, entity.ErrAlreadyResolved) {
		return res.Hold, nil
	}
	if err != nil {
		return entity.Hold{}, err
	}

	s.holds.Untrack(holdID)
	s.notify.seatsChanged(res.Inventory)
	s.notify.emit(EventHoldReleased, res.Hold.TripID, now, res.Hold)
	return res.Hold, nil
}

// CancelBooking отменяет бронирование и создает заявку на возврат.
// Cancelling again returns the refund request created the first time.
func (s *BookingService) CancelBooking(ctx context.Context, who entity.Identity, req CancelRequest) (entity.RefundRequest, error) {
	booking, err := s.GetBooking(ctx, who, req.BookingID)
	if err != nil {
		return entity.RefundRequest{}, err
	}
	if booking.Status == entity.BookingStatusCancelled {
		return s.refundByBooking(ctx, booking.ID)
	}

	now := s.holds.Now()
	var res database.BookingCancellation
	err = s.withRetry(ctx, "cancel booking", func(ctx context.Context) error {
		var err error
		res, err = s.store.CancelBooking(ctx, database.CancelBookingInput{
			BookingID: booking.ID,
			Reason:    req.Reason,
			At:        now,
			Refund:    entity.RefundRequest{ID: uuid.NewString()},
		})
		return err
	})
	if errors.Is(err, entity.ErrAlreadyResolved) {
		return s.refundByBooking(ctx, booking.ID)
	}
	if err != nil {
		return entity.RefundRequest{}, err
	}

	s.notify.seatsChanged(res.Inventory)
	s.notify.emit(EventBookingCancelled, res.Booking.TripID, now, res.Booking)
	s.notify.emit(EventRefundRequested, res.Booking.TripID, now, res.Refund)

	logrus.WithFields(logrus.Fields{
		"booking_id": res.Booking.ID,
		"refund_id":  res.Refund.ID,
		"amount":     res.Refund.Amount,
	}).Info("Booking cancelled")

	return res.Refund, nil
}

func (s *BookingService) GetHold(ctx context.Context, who entity.Identity, holdID string) (entity.Hold, error) {
	return s.loadHold(ctx, who, holdID)
}

func (s *BookingService) GetBooking(ctx context.Context, who entity.Identity, bookingID string) (entity.Booking, error) {
	var booking entity.Booking
	err := s.withRetry(ctx, "load booking", func(ctx context.Context) error {
		var err error
		booking, err = s.store.GetBooking(ctx, bookingID)
		return err
	})
	if err != nil {
		return entity.Booking{}, err
	}
	if !canAccess(who, booking.OwnerID) {
		return entity.Booking{}, entity.ErrForbidden
	}
	return booking, nil
}

// Snapshot returns the current seat counts of a trip.
func (s *BookingService) Snapshot(ctx context.Context, tripID string) (entity.Inventory, error) {
	var inv entity.Inventory
	err := s.withRetry(ctx, "load trip", func(ctx context.Context) error {
		var err error
		inv, err = s.store.GetInventory(ctx, tripID)
		return err
	})
	return inv, err
}

func (s *BookingService) loadHold(ctx context.Context, who entity.Identity, holdID string) (entity.Hold, error) {
	var hold entity.Hold
	err := s.withRetry(ctx, "load hold", func(ctx context.Context) error {
		var err error
		hold, err = s.store.GetHold(ctx, holdID)
		return err
	})
	if err != nil {
		return entity.Hold{}, err
	}
	if !canAccess(who, hold.OwnerID) {
		return entity.Hold{}, entity.ErrForbidden
	}
	return hold, nil
}

func (s *BookingService) bookingByHold(ctx context.Context, holdID string) (entity.Booking, error) {
	var booking entity.Booking
	err := s.withRetry(ctx, "load booking", func(ctx context.Context) error {
		var err error
		booking, err = s.store.GetBookingByHold(ctx, holdID)
		return err
	})
	return booking, err
}

func (s *BookingService) refundByBooking(ctx context.Context, bookingID string) (entity.RefundRequest, error) {
	var refund entity.RefundRequest
	err := s.withRetry(ctx, "load refund", func(ctx context.Context) error {
		var err error
		refund, err = s.store.GetRefundByBooking(ctx, bookingID)
		return err
	})
	return refund, err
}

func (s *BookingService) void(ctx context.Context, receipt payment.Receipt) {
	if err := s.payments.Void(ctx, receipt.TransactionID); err != nil {
		logrus.WithError(err).WithField("transaction_id", receipt.TransactionID).Error("Failed to void payment")
	}
}

func (s *BookingService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return runWithRetry(ctx, s.policy, op, fn)
}

// runWithRetry retries transient store failures; once attempts run out the caller
// sees ErrInventoryUnavailable instead of the infrastructure error.
func runWithRetry(ctx context.Context, policy *retry.Policy, op string, fn func(ctx context.Context) error) error {
	err := policy.Do(ctx, fn)
	if err == nil || entity.IsBusiness(err) {
		return err
	}

	logrus.WithError(err).WithField("operation", op).Error("Seat store unavailable")
	return fmt.Errorf("%w: %s: %v", entity.ErrInventoryUnavailable, op, err)
}

func canAccess(who entity.Identity, ownerID string) bool {
	return who.IsStaff() || who.ID == ownerID
}
