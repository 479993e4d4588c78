package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
)

// ResolveHold locks the hold row, checks it is still active and moves its seats
// to booked (confirm) or back to available (release, expire).
func (r *SeatRepository) ResolveHold(ctx context.Context, in database.ResolveHoldInput) (database.HoldResolution, error) {
	if in.To == entity.HoldStateActive || (in.To == entity.HoldStateConfirmed && in.Booking == nil) {
		return database.HoldResolution{}, fmt.Errorf("%w: cannot resolve hold to %s", entity.ErrInvalidInput, in.To)
	}

	tx, err := r.db.BeginTx(ctx, txOptions)
	if err != nil {
		return database.HoldResolution{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1 FOR UPDATE`
	hold, err := scanHold(tx.QueryRowContext(ctx, query, in.HoldID))
	if errors.Is(err, sql.ErrNoRows) {
		return database.HoldResolution{}, entity.ErrHoldNotFound
	}
	if err != nil {
		return database.HoldResolution{}, fmt.Errorf("failed to lock hold: %w", err)
	}

	if hold.State != entity.HoldStateActive {
		return database.HoldResolution{Hold: hold}, entity.ErrAlreadyResolved
	}
	if in.To == entity.HoldStateConfirmed && hold.ExpiredAt(in.At) {
		return database.HoldResolution{Hold: hold}, entity.ErrHoldExpired
	}

	_, err = tx.ExecContext(ctx, `UPDATE holds SET state = $2, resolved_at = $3 WHERE id = $1`, hold.ID, in.To, in.At)
	if err != nil {
		return database.HoldResolution{}, fmt.Errorf("failed to update hold: %w", err)
	}

	res := database.HoldResolution{}
	if in.To == entity.HoldStateConfirmed {
		res.Inventory, err = moveSeats(ctx, tx, hold.TripID, 0, -hold.SeatCount, hold.SeatCount, in.At)
		if err != nil {
			return database.HoldResolution{}, err
		}

		booking := *in.Booking
		booking.TripID = hold.TripID
		booking.HoldID = &hold.ID
		booking.NoOfSeats = hold.SeatCount
		booking.Status = entity.BookingStatusConfirmed

		query = `
			INSERT INTO bookings (` + bookingColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, '')`
		_, err = tx.ExecContext(ctx, query,
			booking.ID,
			booking.TripID,
			hold.ID,
			booking.OwnerID,
			booking.Passengers,
			booking.NoOfSeats,
			booking.AmountPaid,
			booking.Status,
			booking.TransactionID,
			booking.CreatedAt,
		)
		if err != nil {
			return database.HoldResolution{}, fmt.Errorf("failed to create booking: %w", err)
		}
		res.Booking = &booking
	} else {
		res.Inventory, err = moveSeats(ctx, tx, hold.TripID, hold.SeatCount, -hold.SeatCount, 0, in.At)
		if err != nil {
			return database.HoldResolution{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return database.HoldResolution{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	at := in.At
	hold.State = in.To
	hold.ResolvedAt = &at
	res.Hold = hold
	return res, nil
}

func (r *SeatRepository) GetHold(ctx context.Context, holdID string) (entity.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE id = $1`

	hold, err := scanHold(r.db.QueryRowContext(ctx, query, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Hold{}, entity.ErrHoldNotFound
	}
	if err != nil {
		return entity.Hold{}, fmt.Errorf("failed to get hold: %w", err)
	}
	return hold, nil
}

// ListActiveHolds returns active holds ordered by deadline.
func (r *SeatRepository) ListActiveHolds(ctx context.Context) ([]entity.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE state = 'active' ORDER BY expires_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active holds: %w", err)
	}
	defer rows.Close()

	var holds []entity.Hold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hold: %w", err)
		}
		holds = append(holds, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holds: %w", err)
	}
	return holds, nil
}
