package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ds124wfegd/tripseats/config"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("host", cfg.Host).Info("Successfully connected to PostgreSQL")
	return db, nil
}

// Migrations is the schema of the seat inventory. The CHECK constraints keep the
// seat counters consistent even if a statement outside the store touches them.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS trip_inventory (
		trip_id TEXT PRIMARY KEY,
		total_seats INTEGER NOT NULL CHECK (total_seats >= 0),
		seats_available INTEGER NOT NULL CHECK (seats_available >= 0),
		seats_held INTEGER NOT NULL DEFAULT 0 CHECK (seats_held >= 0),
		seats_booked INTEGER NOT NULL DEFAULT 0 CHECK (seats_booked >= 0),
		fare BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (seats_available + seats_held + seats_booked = total_seats)
	)`,

	`CREATE TABLE IF NOT EXISTS holds (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL REFERENCES trip_inventory(trip_id),
		owner_id TEXT NOT NULL,
		seat_count INTEGER NOT NULL CHECK (seat_count > 0),
		passengers JSONB NOT NULL DEFAULT '[]',
		state VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL REFERENCES trip_inventory(trip_id),
		hold_id TEXT UNIQUE REFERENCES holds(id),
		owner_id TEXT NOT NULL,
		passengers JSONB NOT NULL DEFAULT '[]',
		no_of_seats INTEGER NOT NULL CHECK (no_of_seats > 0),
		amount_paid BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'confirmed',
		transaction_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		cancelled_at TIMESTAMPTZ,
		cancel_reason TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS refund_requests (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
		amount BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		confirmed_at TIMESTAMPTZ,
		confirmed_by TEXT NOT NULL DEFAULT '',
		refunded_at TIMESTAMPTZ
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_holds_active_expires_at ON holds(expires_at) WHERE state = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_holds_trip_id ON holds(trip_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_trip_id ON bookings(trip_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner_id ON bookings(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refund_requests_status ON refund_requests(status, created_at)`,
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	for _, migration := range Migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}
