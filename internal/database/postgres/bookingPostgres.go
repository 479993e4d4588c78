package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
)

func (r *SeatRepository) GetBooking(ctx context.Context, bookingID string) (entity.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
}

func (r *SeatRepository) GetBookingByHold(ctx context.Context, holdID string) (entity.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE hold_id = $1`, holdID)
}

func (r *SeatRepository) getBooking(ctx context.Context, query string, arg string) (entity.Booking, error) {
	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Booking{}, entity.ErrBookingNotFound
	}
	if err != nil {
		return entity.Booking{}, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// CancelBooking returns the booked seats to the pool and opens a pending refund
// for the full amount paid, all in one transaction.
func (r *SeatRepository) CancelBooking(ctx context.Context, in database.CancelBookingInput) (database.BookingCancellation, error) {
	tx, err := r.db.BeginTx(ctx, txOptions)
	if err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	booking, err := scanBooking(tx.QueryRowContext(ctx, query, in.BookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return database.BookingCancellation{}, entity.ErrBookingNotFound
	}
	if err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to lock booking: %w", err)
	}
	if booking.Status != entity.BookingStatusConfirmed {
		return database.BookingCancellation{Booking: booking}, entity.ErrAlreadyResolved
	}

	query = `UPDATE bookings SET status = 'cancelled', cancelled_at = $2, cancel_reason = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, booking.ID, in.At, in.Reason); err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to cancel booking: %w", err)
	}

	inv, err := moveSeats(ctx, tx, booking.TripID, booking.NoOfSeats, 0, -booking.NoOfSeats, in.At)
	if err != nil {
		return database.BookingCancellation{}, err
	}

	refund := in.Refund
	refund.BookingID = booking.ID
	refund.Amount = booking.AmountPaid
	refund.Status = entity.RefundStatusPending
	refund.Reason = in.Reason
	refund.CreatedAt = in.At

	query = `
		INSERT INTO refund_requests (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, '', NULL)`
	_, err = tx.ExecContext(ctx, query,
		refund.ID,
		refund.BookingID,
		refund.Amount,
		refund.Status,
		refund.Reason,
		refund.CreatedAt,
	)
	if err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to create refund request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return database.BookingCancellation{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	at := in.At
	booking.Status = entity.BookingStatusCancelled
	booking.CancelledAt = &at
	booking.CancelReason = in.Reason
	return database.BookingCancellation{Booking: booking, Inventory: inv, Refund: refund}, nil
}
