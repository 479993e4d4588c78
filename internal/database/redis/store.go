package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/redis/go-redis/v9"
)

// SeatStore keeps seat inventory in Redis hashes. Counter changes and the
// records they belong to are written by Lua scripts, one script per transition.
type SeatStore struct {
	client redis.UniversalClient
	prefix string
}

var _ database.Store = (*SeatStore)(nil)

func NewSeatStore(client redis.UniversalClient, prefix string) *SeatStore {
	return &SeatStore{client: client, prefix: prefix}
}

func (s *SeatStore) tripKey(id string) string {
	return s.prefix + "trip:" + id
}

func (s *SeatStore) holdKey(id string) string {
	return s.prefix + "hold:" + id
}

func (s *SeatStore) activeHoldsKey() string {
	return s.prefix + "holds:active"
}

func (s *SeatStore) bookingKey(id string) string {
	return s.prefix + "booking:" + id
}

func (s *SeatStore) bookingByHoldKey(id string) string {
	return s.prefix + "booking-by-hold:" + id
}

func (s *SeatStore) refundKey(id string) string {
	return s.prefix + "refund:" + id
}

func (s *SeatStore) refundByBookingKey(id string) string {
	return s.prefix + "refund-by-booking:" + id
}

func (s *SeatStore) refundsKey(status entity.RefundStatus) string {
	return s.prefix + "refunds:" + string(status)
}

func (s *SeatStore) CreateTrip(ctx context.Context, inv entity.Inventory) (entity.Inventory, error) {
	if err := inv.Validate(); err != nil {
		return entity.Inventory{}, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}

	args := []interface{}{
		"trip_id", inv.TripID,
		"total", inv.TotalSeats,
		"available", inv.SeatsAvailable,
		"held", inv.SeatsHeld,
		"booked", inv.SeatsBooked,
		"fare", inv.Fare,
		"version", inv.Version,
		"updated_at", inv.UpdatedAt.UnixMilli(),
	}
	reply, err := createTripScript.Run(ctx, s.client, []string{s.tripKey(inv.TripID)}, args...).StringSlice()
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to create trip: %w", err)
	}
	if reply[0] == statusExists {
		return entity.Inventory{}, entity.ErrTripExists
	}
	return parseInventory(pairs(reply[1:]))
}

func (s *SeatStore) GetInventory(ctx context.Context, tripID string) (entity.Inventory, error) {
	fields, err := s.client.HGetAll(ctx, s.tripKey(tripID)).Result()
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to get inventory: %w", err)
	}
	if len(fields) == 0 {
		return entity.Inventory{}, entity.ErrTripNotFound
	}
	return parseInventory(fields)
}

func (s *SeatStore) TryHold(ctx context.Context, hold entity.Hold) (entity.Inventory, error) {
	// total seats never change, so checking requested seats outside the script is safe
	if hold.Passengers.HighestSeat() > 0 {
		inv, err := s.GetInventory(ctx, hold.TripID)
		if err != nil {
			return entity.Inventory{}, err
		}
		if err := hold.Passengers.FitTrip(inv.TotalSeats); err != nil {
			return entity.Inventory{}, err
		}
	}

	passengers, err := json.Marshal(hold.Passengers)
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to marshal passengers: %w", err)
	}

	keys := []string{s.tripKey(hold.TripID), s.holdKey(hold.ID), s.activeHoldsKey()}
	args := []interface{}{
		hold.SeatCount,
		hold.ExpiresAt.UnixMilli(),
		hold.ID,
		hold.CreatedAt.UnixMilli(),
		"id", hold.ID,
		"trip_id", hold.TripID,
		"owner_id", hold.OwnerID,
		"seat_count", hold.SeatCount,
		"passengers", string(passengers),
		"state", string(entity.HoldStateActive),
		"created_at", hold.CreatedAt.UnixMilli(),
		"expires_at", hold.ExpiresAt.UnixMilli(),
	}

	reply, err := tryHoldScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to hold seats: %w", err)
	}
	switch reply[0] {
	case statusNotFound:
		return entity.Inventory{}, entity.ErrTripNotFound
	case statusInsufficient:
		return entity.Inventory{}, entity.ErrInsufficientSeats
	}
	return parseInventory(pairs(reply[1:]))
}

func (s *SeatStore) ResolveHold(ctx context.Context, in database.ResolveHoldInput) (database.HoldResolution, error) {
	if in.To == entity.HoldStateActive || (in.To == entity.HoldStateConfirmed && in.Booking == nil) {
		return database.HoldResolution{}, fmt.Errorf("%w: cannot resolve hold to %s", entity.ErrInvalidInput, in.To)
	}

	// trip id never changes, so reading it outside the script is safe
	hold, err := s.GetHold(ctx, in.HoldID)
	if err != nil {
		return database.HoldResolution{}, err
	}

	bookingID := ""
	args := []interface{}{string(in.To), in.At.UnixMilli(), hold.ID}
	if in.Booking != nil {
		bookingID = in.Booking.ID
		fields, err := bookingFields(*in.Booking, hold)
		if err != nil {
			return database.HoldResolution{}, err
		}
		args = append(args, bookingID)
		args = append(args, fields...)
	} else {
		args = append(args, "")
	}

	keys := []string{
		s.holdKey(hold.ID),
		s.activeHoldsKey(),
		s.tripKey(hold.TripID),
		s.bookingKey(bookingID),
		s.bookingByHoldKey(hold.ID),
	}
	reply, err := resolveHoldScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return database.HoldResolution{}, fmt.Errorf("failed to resolve hold: %w", err)
	}

	switch reply[0] {
	case statusNotFound:
		return database.HoldResolution{}, entity.ErrHoldNotFound
	case statusResolved, statusExpired:
		current, err := s.GetHold(ctx, hold.ID)
		if err != nil {
			return database.HoldResolution{}, err
		}
		if reply[0] == statusExpired {
			return database.HoldResolution{Hold: current}, entity.ErrHoldExpired
		}
		return database.HoldResolution{Hold: current}, entity.ErrAlreadyResolved
	}

	inv, err := parseInventory(pairs(reply[1:]))
	if err != nil {
		return database.HoldResolution{}, err
	}

	at := in.At.UTC()
	hold.State = in.To
	hold.ResolvedAt = &at
	res := database.HoldResolution{Hold: hold, Inventory: inv}
	if in.Booking != nil {
		booking, err := s.GetBooking(ctx, bookingID)
		if err != nil {
			return database.HoldResolution{}, err
		}
		res.Booking = &booking
	}
	return res, nil
}

func (s *SeatStore) GetHold(ctx context.Context, holdID string) (entity.Hold, error) {
	fields, err := s.client.HGetAll(ctx, s.holdKey(holdID)).Result()
	if err != nil {
		return entity.Hold{}, fmt.Errorf("failed to get hold: %w", err)
	}
	if len(fields) == 0 {
		return entity.Hold{}, entity.ErrHoldNotFound
	}
	return parseHold(fields)
}

func (s *SeatStore) ListActiveHolds(ctx context.Context) ([]entity.Hold, error) {
	ids, err := s.client.ZRange(ctx, s.activeHoldsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active holds: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.holdKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to load active holds: %w", err)
		}
	}

	holds := make([]entity.Hold, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		hold, err := parseHold(fields)
		if err != nil {
			return nil, err
		}
		if hold.State == entity.HoldStateActive {
			holds = append(holds, hold)
		}
	}
	return holds, nil
}

func (s *SeatStore) GetBooking(ctx context.Context, bookingID string) (entity.Booking, error) {
	fields, err := s.client.HGetAll(ctx, s.bookingKey(bookingID)).Result()
	if err != nil {
		return entity.Booking{}, fmt.Errorf("failed to get booking: %w", err)
	}
	if len(fields) == 0 {
		return entity.Booking{}, entity.ErrBookingNotFound
	}
	return parseBooking(fields)
}

func (s *SeatStore) GetBookingByHold(ctx context.Context, holdID string) (entity.Booking, error) {
	bookingID, err := s.client.Get(ctx, s.bookingByHoldKey(holdID)).Result()
	if errors.Is(err, redis.Nil) {
		return entity.Booking{}, entity.ErrBookingNotFound
	}
	if err != nil {
		return entity.Booking{}, fmt.Errorf("failed to get booking by hold: %w", err)
	}
	return s.GetBooking(ctx, bookingID)
}

func (s *SeatStore) CancelBooking(ctx context.Context, in database.CancelBookingInput) (database.BookingCancellation, error) {
	booking, err := s.GetBooking(ctx, in.BookingID)
	if err != nil {
		return database.BookingCancellation{}, err
	}

	refund := in.Refund
	keys := []string{
		s.bookingKey(booking.ID),
		s.tripKey(booking.TripID),
		s.refundKey(refund.ID),
		s.refundByBookingKey(booking.ID),
		s.refundsKey(entity.RefundStatusPending),
	}
	args := []interface{}{
		in.At.UnixMilli(),
		in.Reason,
		refund.ID,
		"id", refund.ID,
		"booking_id", booking.ID,
		"reason", in.Reason,
		"created_at", in.At.UnixMilli(),
	}

	reply, err := cancelBookingScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to cancel booking: %w", err)
	}
	switch reply[0] {
	case statusNotFound:
		return database.BookingCancellation{}, entity.ErrBookingNotFound
	case statusResolved:
		current, err := s.GetBooking(ctx, booking.ID)
		if err != nil {
			return database.BookingCancellation{}, err
		}
		return database.BookingCancellation{Booking: current}, entity.ErrAlreadyResolved
	}

	inv, err := parseInventory(pairs(reply[1:]))
	if err != nil {
		return database.BookingCancellation{}, err
	}

	at := in.At.UTC()
	booking.Status = entity.BookingStatusCancelled
	booking.CancelledAt = &at
	booking.CancelReason = in.Reason

	refund.BookingID = booking.ID
	refund.Amount = booking.AmountPaid
	refund.Status = entity.RefundStatusPending
	refund.Reason = in.Reason
	refund.CreatedAt = at

	return database.BookingCancellation{Booking: booking, Inventory: inv, Refund: refund}, nil
}

func (s *SeatStore) GetRefund(ctx context.Context, refundID string) (entity.RefundRequest, error) {
	fields, err := s.client.HGetAll(ctx, s.refundKey(refundID)).Result()
	if err != nil {
		return entity.RefundRequest{}, fmt.Errorf("failed to get refund: %w", err)
	}
	if len(fields) == 0 {
		return entity.RefundRequest{}, entity.ErrRefundNotFound
	}
	return parseRefund(fields)
}

func (s *SeatStore) GetRefundByBooking(ctx context.Context, bookingID string) (entity.RefundRequest, error) {
	refundID, err := s.client.Get(ctx, s.refundByBookingKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return entity.RefundRequest{}, entity.ErrRefundNotFound
	}
	if err != nil {
		return entity.RefundRequest{}, fmt.Errorf("failed to get refund by booking: %w", err)
	}
	return s.GetRefund(ctx, refundID)
}

func (s *SeatStore) ListRefunds(ctx context.Context, status entity.RefundStatus) ([]entity.RefundRequest, error) {
	statuses := []entity.RefundStatus{status}
	if status == "" {
		statuses = []entity.RefundStatus{entity.RefundStatusPending, entity.RefundStatusConfirmed, entity.RefundStatusRefunded}
	}

	refunds := []entity.RefundRequest{}
	for _, st := range statuses {
		ids, err := s.client.ZRange(ctx, s.refundsKey(st), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list refunds: %w", err)
		}
		for _, id := range ids {
			refund, err := s.GetRefund(ctx, id)
			if errors.Is(err, entity.ErrRefundNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			refunds = append(refunds, refund)
		}
	}
	return refunds, nil
}

func (s *SeatStore) TransitionRefund(ctx context.Context, in database.RefundTransition) (entity.RefundRequest, error) {
	keys := []string{s.refundKey(in.RefundID), s.refundsKey(in.From), s.refundsKey(in.To)}
	args := []interface{}{string(in.From), string(in.To), in.At.UnixMilli(), in.RefundID, in.Actor}

	reply, err := transitionRefundScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		return entity.RefundRequest{}, fmt.Errorf("failed to transition refund: %w", err)
	}
	if reply[0] == statusNotFound {
		return entity.RefundRequest{}, entity.ErrRefundNotFound
	}

	refund, err := s.GetRefund(ctx, in.RefundID)
	if err != nil {
		return entity.RefundRequest{}, err
	}
	if reply[0] == statusResolved {
		return refund, entity.ErrAlreadyResolved
	}
	return refund, nil
}

func bookingFields(b entity.Booking, hold entity.Hold) ([]interface{}, error) {
	passengers, err := json.Marshal(b.Passengers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal passengers: %w", err)
	}
	return []interface{}{
		"id", b.ID,
		"trip_id", hold.TripID,
		"hold_id", hold.ID,
		"owner_id", b.OwnerID,
		"passengers", string(passengers),
		"amount_paid", b.AmountPaid,
		"transaction_id", b.TransactionID,
		"created_at", b.CreatedAt.UnixMilli(),
	}, nil
}

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}
