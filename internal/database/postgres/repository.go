package repository

import (
	"database/sql"

	"github.com/ds124wfegd/tripseats/internal/database"
)

// SeatRepository is the PostgreSQL seat inventory. Every counter change runs in a
// READ COMMITTED transaction that locks the affected hold or booking row first;
// the trip row itself is only ever changed by a single conditional UPDATE.
type SeatRepository struct {
	db *sql.DB
}

var _ database.Store = (*SeatRepository)(nil)

func NewSeatRepository(db *sql.DB) *SeatRepository {
	return &SeatRepository{db: db}
}

var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

const inventoryColumns = `trip_id, total_seats, seats_available, seats_held, seats_booked, fare, version, updated_at`

const holdColumns = `id, trip_id, owner_id, seat_count, passengers, state, created_at, expires_at, resolved_at`

const bookingColumns = `id, trip_id, hold_id, owner_id, passengers, no_of_seats, amount_paid, status,
	transaction_id, created_at, cancelled_at, cancel_reason`

const refundColumns = `id, booking_id, amount, status, reason, created_at, confirmed_at, confirmed_by, refunded_at`
