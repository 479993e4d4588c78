package entity

import "time"

type HoldState string

const (
	HoldStateActive    HoldState = "active"
	HoldStateConfirmed HoldState = "confirmed"
	HoldStateExpired   HoldState = "expired"
	HoldStateReleased  HoldState = "released"
)

func (s HoldState) Terminal() bool {
	return s == HoldStateConfirmed || s == HoldStateExpired || s == HoldStateReleased
}

// Hold is a time-limited reservation of seats. It leaves the active state exactly once.
type Hold struct {
	ID         string     `json:"id" db:"id"`
	TripID     string     `json:"trip_id" db:"trip_id"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	SeatCount  int        `json:"seat_count" db:"seat_count"`
	Passengers Passengers `json:"passengers,omitempty" db:"passengers"`
	State      HoldState  `json:"state" db:"state"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ExpiredAt reports whether the hold deadline has passed at the given instant.
func (h Hold) ExpiredAt(at time.Time) bool {
	return !at.Before(h.ExpiresAt)
}
