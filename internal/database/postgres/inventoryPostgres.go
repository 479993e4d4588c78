package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// CreateTrip inserts a new trip inventory row
func (r *SeatRepository) CreateTrip(ctx context.Context, inv entity.Inventory) (entity.Inventory, error) {
	if err := inv.Validate(); err != nil {
		return entity.Inventory{}, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO trip_inventory (` + inventoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + inventoryColumns

	created, err := scanInventory(r.db.QueryRowContext(ctx, query,
		inv.TripID,
		inv.TotalSeats,
		inv.SeatsAvailable,
		inv.SeatsHeld,
		inv.SeatsBooked,
		inv.Fare,
		inv.Version,
		inv.UpdatedAt,
	))

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return entity.Inventory{}, entity.ErrTripExists
	}
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to create trip: %w", err)
	}
	return created, nil
}

func (r *SeatRepository) GetInventory(ctx context.Context, tripID string) (entity.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM trip_inventory WHERE trip_id = $1`

	inv, err := scanInventory(r.db.QueryRowContext(ctx, query, tripID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Inventory{}, entity.ErrTripNotFound
	}
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to get inventory: %w", err)
	}
	return inv, nil
}

// TryHold moves seats from available to held with one conditional UPDATE and
// records the hold in the same transaction.
func (r *SeatRepository) TryHold(ctx context.Context, hold entity.Hold) (entity.Inventory, error) {
	tx, err := r.db.BeginTx(ctx, txOptions)
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE trip_inventory
		SET seats_available = seats_available - $2,
			seats_held = seats_held + $2,
			version = version + 1,
			updated_at = $3
		WHERE trip_id = $1 AND seats_available >= $2
		RETURNING ` + inventoryColumns

	inv, err := scanInventory(tx.QueryRowContext(ctx, query, hold.TripID, hold.SeatCount, hold.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM trip_inventory WHERE trip_id = $1)`, hold.TripID).Scan(&exists)
		if err != nil {
			return entity.Inventory{}, fmt.Errorf("failed to check trip: %w", err)
		}
		if !exists {
			return entity.Inventory{}, entity.ErrTripNotFound
		}
		return entity.Inventory{}, entity.ErrInsufficientSeats
	}
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to hold seats: %w", err)
	}
	if err := hold.Passengers.FitTrip(inv.TotalSeats); err != nil {
		return entity.Inventory{}, err
	}

	query = `
		INSERT INTO holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)`

	_, err = tx.ExecContext(ctx, query,
		hold.ID,
		hold.TripID,
		hold.OwnerID,
		hold.SeatCount,
		hold.Passengers,
		entity.HoldStateActive,
		hold.CreatedAt,
		hold.ExpiresAt,
	)
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to create hold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inv, nil
}

// moveSeats applies a counter delta to one trip row and returns the new state.
func moveSeats(ctx context.Context, tx *sql.Tx, tripID string, available, held, booked int, at time.Time) (entity.Inventory, error) {
	query := `
		UPDATE trip_inventory
		SET seats_available = seats_available + $2,
			seats_held = seats_held + $3,
			seats_booked = seats_booked + $4,
			version = version + 1,
			updated_at = $5
		WHERE trip_id = $1
		RETURNING ` + inventoryColumns

	inv, err := scanInventory(tx.QueryRowContext(ctx, query, tripID, available, held, booked, at))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Inventory{}, entity.ErrTripNotFound
	}
	if err != nil {
		return entity.Inventory{}, fmt.Errorf("failed to update inventory: %w", err)
	}
	return inv, nil
}
