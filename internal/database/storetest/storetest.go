// Package storetest holds behaviour checks shared by every database.Store backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) database.Store) {
	t.Run("no oversell under contention", func(t *testing.T) { testNoOversell(t, newStore(t)) })
	t.Run("insufficient seats leaves counters", func(t *testing.T) { testInsufficient(t, newStore(t)) })
	t.Run("resolution is idempotent", func(t *testing.T) { testIdempotentResolve(t, newStore(t)) })
	t.Run("confirm after deadline fails", func(t *testing.T) { testConfirmExpired(t, newStore(t)) })
	t.Run("cancel creates refund", func(t *testing.T) { testCancel(t, newStore(t)) })
	t.Run("refund transitions", func(t *testing.T) { testRefundTransitions(t, newStore(t)) })
	t.Run("seats outside the trip are rejected", func(t *testing.T) { testSeatOutsideTrip(t, newStore(t)) })
	t.Run("unknown records", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

func createTrip(t *testing.T, s database.Store, seats int) entity.Inventory {
	t.Helper()
	inv, err := s.CreateTrip(context.Background(), entity.NewInventory(uuid.NewString(), seats, 2500, base))
	require.NoError(t, err)
	return inv
}

func newHold(tripID string, seats int) entity.Hold {
	return entity.Hold{
		ID:        uuid.NewString(),
		TripID:    tripID,
		OwnerID:   "user-1",
		SeatCount: seats,
		State:     entity.HoldStateActive,
		CreatedAt: base,
		ExpiresAt: base.Add(10 * time.Minute),
	}
}

func requireInvariant(t *testing.T, s database.Store, tripID string) entity.Inventory {
	t.Helper()
	inv, err := s.GetInventory(context.Background(), tripID)
	require.NoError(t, err)
	require.NoError(t, inv.Validate())
	return inv
}

func testNoOversell(t *testing.T, s database.Store) {
	inv := createTrip(t, s, 10)

	var wg sync.WaitGroup
	var ok, rejected int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TryHold(context.Background(), newHold(inv.TripID, 1))
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case assert.ErrorIs(t, err, entity.ErrInsufficientSeats):
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok)
	assert.Equal(t, int64(40), rejected)

	final := requireInvariant(t, s, inv.TripID)
	assert.Equal(t, 0, final.SeatsAvailable)
	assert.Equal(t, 10, final.SeatsHeld)
	assert.Equal(t, inv.Version+10, final.Version)

	holds, err := s.ListActiveHolds(context.Background())
	require.NoError(t, err)
	assert.Len(t, holds, 10)
}

func testInsufficient(t *testing.T, s database.Store) {
	inv := createTrip(t, s, 3)
	_, err := s.TryHold(context.Background(), newHold(inv.TripID, 4))
	assert.ErrorIs(t, err, entity.ErrInsufficientSeats)

	after := requireInvariant(t, s, inv.TripID)
	assert.Equal(t, inv.Version, after.Version)
	assert.Equal(t, 3, after.SeatsAvailable)
}

func testIdempotentResolve(t *testing.T, s database.Store) {
	ctx := context.Background()
	inv := createTrip(t, s, 10)
	hold := newHold(inv.TripID, 3)
	_, err := s.TryHold(ctx, hold)
	require.NoError(t, err)

	res, err := s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateReleased, At: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, entity.HoldStateReleased, res.Hold.State)
	assert.Equal(t, 10, res.Inventory.SeatsAvailable)

	res, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateReleased, At: base.Add(2 * time.Minute)})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
	assert.Equal(t, entity.HoldStateReleased, res.Hold.State)

	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateExpired, At: base.Add(time.Hour)})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)

	after := requireInvariant(t, s, inv.TripID)
	assert.Equal(t, 10, after.SeatsAvailable)
	assert.Equal(t, 0, after.SeatsHeld)

	// confirm twice: the second call must not move seats again
	hold = newHold(inv.TripID, 2)
	_, err = s.TryHold(ctx, hold)
	require.NoError(t, err)
	booking := &entity.Booking{ID: uuid.NewString(), OwnerID: "user-1", AmountPaid: 5000, CreatedAt: base}
	res, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateConfirmed, At: base.Add(time.Minute), Booking: booking})
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	assert.Equal(t, 2, res.Booking.NoOfSeats)
	assert.Equal(t, entity.BookingStatusConfirmed, res.Booking.Status)

	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateConfirmed, At: base.Add(time.Minute), Booking: booking})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)

	after = requireInvariant(t, s, inv.TripID)
	assert.Equal(t, 2, after.SeatsBooked)
	assert.Equal(t, 8, after.SeatsAvailable)

	stored, err := s.GetBookingByHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, stored.ID)
	assert.Equal(t, int64(5000), stored.AmountPaid)
}

func testConfirmExpired(t *testing.T, s database.Store) {
	ctx := context.Background()
	inv := createTrip(t, s, 5)
	hold := newHold(inv.TripID, 2)
	_, err := s.TryHold(ctx, hold)
	require.NoError(t, err)

	booking := &entity.Booking{ID: uuid.NewString(), OwnerID: "user-1", CreatedAt: base}
	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateConfirmed, At: hold.ExpiresAt, Booking: booking})
	assert.ErrorIs(t, err, entity.ErrHoldExpired)

	stored, err := s.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.HoldStateActive, stored.State)

	res, err := s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateExpired, At: hold.ExpiresAt})
	require.NoError(t, err)
	assert.Equal(t, entity.HoldStateExpired, res.Hold.State)
	assert.Equal(t, 5, res.Inventory.SeatsAvailable)
	requireInvariant(t, s, inv.TripID)
}

func testCancel(t *testing.T, s database.Store) {
	ctx := context.Background()
	inv := createTrip(t, s, 10)
	hold := newHold(inv.TripID, 5)
	_, err := s.TryHold(ctx, hold)
	require.NoError(t, err)

	booking := &entity.Booking{ID: uuid.NewString(), OwnerID: "user-1", AmountPaid: 12500, CreatedAt: base}
	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateConfirmed, At: base.Add(time.Minute), Booking: booking})
	require.NoError(t, err)

	in := database.CancelBookingInput{
		BookingID: booking.ID,
		Reason:    "plans changed",
		At:        base.Add(time.Hour),
		Refund:    entity.RefundRequest{ID: uuid.NewString()},
	}
	res, err := s.CancelBooking(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCancelled, res.Booking.Status)
	assert.Equal(t, int64(12500), res.Refund.Amount)
	assert.Equal(t, entity.RefundStatusPending, res.Refund.Status)
	assert.Equal(t, "plans changed", res.Refund.Reason)
	assert.Equal(t, 10, res.Inventory.SeatsAvailable)
	assert.Equal(t, 0, res.Inventory.SeatsBooked)

	_, err = s.CancelBooking(ctx, database.CancelBookingInput{BookingID: booking.ID, At: base.Add(2 * time.Hour), Refund: entity.RefundRequest{ID: uuid.NewString()}})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)

	refund, err := s.GetRefundByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Refund.ID, refund.ID)
	assert.Equal(t, "plans changed", refund.Reason)

	after := requireInvariant(t, s, inv.TripID)
	assert.Equal(t, 10, after.SeatsAvailable)
}

func testRefundTransitions(t *testing.T, s database.Store) {
	ctx := context.Background()
	inv := createTrip(t, s, 4)
	hold := newHold(inv.TripID, 1)
	_, err := s.TryHold(ctx, hold)
	require.NoError(t, err)
	booking := &entity.Booking{ID: uuid.NewString(), OwnerID: "user-1", AmountPaid: 2500, CreatedAt: base}
	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: hold.ID, To: entity.HoldStateConfirmed, At: base, Booking: booking})
	require.NoError(t, err)
	cancelled, err := s.CancelBooking(ctx, database.CancelBookingInput{BookingID: booking.ID, At: base, Refund: entity.RefundRequest{ID: uuid.NewString()}})
	require.NoError(t, err)

	pending, err := s.ListRefunds(ctx, entity.RefundStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	refund, err := s.TransitionRefund(ctx, database.RefundTransition{
		RefundID: cancelled.Refund.ID, From: entity.RefundStatusPending, To: entity.RefundStatusConfirmed, At: base, Actor: "staff-1",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RefundStatusConfirmed, refund.Status)
	assert.Equal(t, "staff-1", refund.ConfirmedBy)

	refund, err = s.TransitionRefund(ctx, database.RefundTransition{
		RefundID: cancelled.Refund.ID, From: entity.RefundStatusPending, To: entity.RefundStatusConfirmed, At: base, Actor: "staff-2",
	})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
	assert.Equal(t, "staff-1", refund.ConfirmedBy)

	refund, err = s.TransitionRefund(ctx, database.RefundTransition{
		RefundID: cancelled.Refund.ID, From: entity.RefundStatusConfirmed, To: entity.RefundStatusRefunded, At: base,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RefundStatusRefunded, refund.Status)
	require.NotNil(t, refund.RefundedAt)

	pending, err = s.ListRefunds(ctx, entity.RefundStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testSeatOutsideTrip(t *testing.T, s database.Store) {
	ctx := context.Background()
	inv := createTrip(t, s, 10)

	hold := newHold(inv.TripID, 1)
	hold.Passengers = entity.Passengers{{FirstName: "Ana", LastName: "Diaz", SeatNumber: 999}}
	_, err := s.TryHold(ctx, hold)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = s.GetHold(ctx, hold.ID)
	assert.ErrorIs(t, err, entity.ErrHoldNotFound)
	after := requireInvariant(t, s, inv.TripID)
	assert.Equal(t, 10, after.SeatsAvailable)

	hold = newHold(inv.TripID, 1)
	hold.Passengers = entity.Passengers{{FirstName: "Ana", LastName: "Diaz", SeatNumber: 10}}
	held, err := s.TryHold(ctx, hold)
	require.NoError(t, err)
	assert.Equal(t, 9, held.SeatsAvailable)
}

func testNotFound(t *testing.T, s database.Store) {
	ctx := context.Background()
	_, err := s.GetInventory(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrTripNotFound)

	_, err = s.TryHold(ctx, newHold("missing", 1))
	assert.ErrorIs(t, err, entity.ErrTripNotFound)

	_, err = s.ResolveHold(ctx, database.ResolveHoldInput{HoldID: uuid.NewString(), To: entity.HoldStateReleased, At: base})
	assert.ErrorIs(t, err, entity.ErrHoldNotFound)

	_, err = s.GetBooking(ctx, uuid.NewString())
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)

	_, err = s.GetRefund(ctx, uuid.NewString())
	assert.ErrorIs(t, err, entity.ErrRefundNotFound)

	inv := createTrip(t, s, 1)
	_, err = s.CreateTrip(ctx, entity.NewInventory(inv.TripID, 1, 0, base))
	assert.ErrorIs(t, err, entity.ErrTripExists)
}
