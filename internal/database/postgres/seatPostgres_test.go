package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invCols    = []string{"trip_id", "total_seats", "seats_available", "seats_held", "seats_booked", "fare", "version", "updated_at"}
	holdCols   = []string{"id", "trip_id", "owner_id", "seat_count", "passengers", "state", "created_at", "expires_at", "resolved_at"}
	bookCols   = []string{"id", "trip_id", "hold_id", "owner_id", "passengers", "no_of_seats", "amount_paid", "status", "transaction_id", "created_at", "cancelled_at", "cancel_reason"}
	refundCols = []string{"id", "booking_id", "amount", "status", "reason", "created_at", "confirmed_at", "confirmed_by", "refunded_at"}
)

func newMock(t *testing.T) (*SeatRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSeatRepository(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestTryHold(t *testing.T) {
	repo, mock := newMock(t)
	hold := entity.Hold{ID: "h1", TripID: "trip-1", OwnerID: "u1", SeatCount: 2, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute)}

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE trip_inventory")).
		WithArgs("trip-1", 2, now).
		WillReturnRows(sqlmock.NewRows(invCols).AddRow("trip-1", 10, 8, 2, 0, 2500, 2, now))
	mock.ExpectExec(q("INSERT INTO holds")).
		WithArgs("h1", "trip-1", "u1", 2, sqlmock.AnyArg(), "active", now, hold.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inv, err := repo.TryHold(context.Background(), hold)
	require.NoError(t, err)
	assert.Equal(t, 8, inv.SeatsAvailable)
	assert.Equal(t, 2, inv.SeatsHeld)
	assert.Equal(t, int64(2), inv.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryHoldRejected(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		wantErr error
	}{
		{name: "not enough seats", exists: true, wantErr: entity.ErrInsufficientSeats},
		{name: "unknown trip", exists: false, wantErr: entity.ErrTripNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)

			mock.ExpectBegin()
			mock.ExpectQuery(q("UPDATE trip_inventory")).
				WithArgs("trip-1", 5, now).
				WillReturnRows(sqlmock.NewRows(invCols))
			mock.ExpectQuery(q("SELECT EXISTS")).
				WithArgs("trip-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			mock.ExpectRollback()

			_, err := repo.TryHold(context.Background(), entity.Hold{ID: "h1", TripID: "trip-1", SeatCount: 5, CreatedAt: now})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTryHoldSeatOutsideTrip(t *testing.T) {
	repo, mock := newMock(t)
	hold := entity.Hold{
		ID: "h1", TripID: "trip-1", OwnerID: "u1", SeatCount: 1, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
		Passengers: entity.Passengers{{FirstName: "Ana", LastName: "Diaz", SeatNumber: 11}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE trip_inventory")).
		WithArgs("trip-1", 1, now).
		WillReturnRows(sqlmock.NewRows(invCols).AddRow("trip-1", 10, 9, 1, 0, 2500, 2, now))
	mock.ExpectRollback()

	_, err := repo.TryHold(context.Background(), hold)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveHoldConfirm(t *testing.T) {
	repo, mock := newMock(t)
	expires := now.Add(10 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM holds WHERE id = $1 FOR UPDATE")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(holdCols).AddRow("h1", "trip-1", "u1", 2, []byte("[]"), "active", now, expires, nil))
	mock.ExpectExec(q("UPDATE holds SET state")).
		WithArgs("h1", entity.HoldStateConfirmed, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("UPDATE trip_inventory")).
		WithArgs("trip-1", 0, -2, 2, now.Add(time.Minute)).
		WillReturnRows(sqlmock.NewRows(invCols).AddRow("trip-1", 10, 8, 0, 2, 2500, 3, now))
	mock.ExpectExec(q("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.ResolveHold(context.Background(), database.ResolveHoldInput{
		HoldID:  "h1",
		To:      entity.HoldStateConfirmed,
		At:      now.Add(time.Minute),
		Booking: &entity.Booking{ID: "b1", OwnerID: "u1", AmountPaid: 5000, TransactionID: "tx-1", CreatedAt: now},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	assert.Equal(t, 2, res.Booking.NoOfSeats)
	assert.Equal(t, "trip-1", res.Booking.TripID)
	assert.Equal(t, entity.HoldStateConfirmed, res.Hold.State)
	assert.Equal(t, 2, res.Inventory.SeatsBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveHoldAlreadyResolved(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM holds WHERE id = $1 FOR UPDATE")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(holdCols).AddRow("h1", "trip-1", "u1", 2, []byte("[]"), "expired", now, now, now))
	mock.ExpectRollback()

	res, err := repo.ResolveHold(context.Background(), database.ResolveHoldInput{HoldID: "h1", To: entity.HoldStateReleased, At: now})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
	assert.Equal(t, entity.HoldStateExpired, res.Hold.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveHoldPastDeadline(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM holds WHERE id = $1 FOR UPDATE")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(holdCols).AddRow("h1", "trip-1", "u1", 2, []byte("[]"), "active", now, now.Add(time.Second), nil))
	mock.ExpectRollback()

	_, err := repo.ResolveHold(context.Background(), database.ResolveHoldInput{
		HoldID: "h1", To: entity.HoldStateConfirmed, At: now.Add(time.Minute), Booking: &entity.Booking{ID: "b1"},
	})
	assert.ErrorIs(t, err, entity.ErrHoldExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBooking(t *testing.T) {
	repo, mock := newMock(t)
	at := now.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM bookings WHERE id = $1 FOR UPDATE")).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow("b1", "trip-1", "h1", "u1", []byte("[]"), 5, 12500, "confirmed", "tx-1", now, nil, ""))
	mock.ExpectExec(q("UPDATE bookings SET status = 'cancelled'")).
		WithArgs("b1", at, "plans changed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("UPDATE trip_inventory")).
		WithArgs("trip-1", 5, 0, -5, at).
		WillReturnRows(sqlmock.NewRows(invCols).AddRow("trip-1", 10, 10, 0, 0, 2500, 5, at))
	mock.ExpectExec(q("INSERT INTO refund_requests")).
		WithArgs("r1", "b1", int64(12500), entity.RefundStatusPending, "plans changed", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := repo.CancelBooking(context.Background(), database.CancelBookingInput{
		BookingID: "b1", Reason: "plans changed", At: at, Refund: entity.RefundRequest{ID: "r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12500), res.Refund.Amount)
	assert.Equal(t, entity.BookingStatusCancelled, res.Booking.Status)
	assert.Equal(t, 10, res.Inventory.SeatsAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRefundIdempotent(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(q("UPDATE refund_requests SET status = 'confirmed'")).
		WithArgs("r1", entity.RefundStatusPending, now, "staff-2").
		WillReturnRows(sqlmock.NewRows(refundCols))
	mock.ExpectQuery(q("FROM refund_requests WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(refundCols).AddRow("r1", "b1", 12500, "confirmed", "", now, now, "staff-1", nil))

	refund, err := repo.TransitionRefund(context.Background(), database.RefundTransition{
		RefundID: "r1", From: entity.RefundStatusPending, To: entity.RefundStatusConfirmed, At: now, Actor: "staff-2",
	})
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
	assert.Equal(t, "staff-1", refund.ConfirmedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTripDuplicate(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(q("INSERT INTO trip_inventory")).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := repo.CreateTrip(context.Background(), entity.NewInventory("trip-1", 10, 2500, now))
	assert.ErrorIs(t, err, entity.ErrTripExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInventoryNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(q("FROM trip_inventory WHERE trip_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(invCols))

	_, err := repo.GetInventory(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrTripNotFound)
}
