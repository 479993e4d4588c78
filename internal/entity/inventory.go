package entity

import (
	"fmt"
	"time"
)

// Inventory is the authoritative seat counter record of one trip.
// SeatsAvailable + SeatsHeld + SeatsBooked == TotalSeats at every observable point.
type Inventory struct {
	TripID         string    `json:"trip_id" db:"trip_id"`
	TotalSeats     int       `json:"total_seats" db:"total_seats"`
	SeatsAvailable int       `json:"seats_available" db:"seats_available"`
	SeatsHeld      int       `json:"seats_held" db:"seats_held"`
	SeatsBooked    int       `json:"seats_booked" db:"seats_booked"`
	Fare           int64     `json:"fare" db:"fare"`
	Version        int64     `json:"version" db:"version"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// NewInventory returns a fresh trip record with every seat available.
func NewInventory(tripID string, totalSeats int, fare int64, at time.Time) Inventory {
	return Inventory{
		TripID:         tripID,
		TotalSeats:     totalSeats,
		SeatsAvailable: totalSeats,
		Fare:           fare,
		Version:        1,
		UpdatedAt:      at,
	}
}

func (i Inventory) Validate() error {
	if i.SeatsAvailable < 0 || i.SeatsHeld < 0 || i.SeatsBooked < 0 {
		return fmt.Errorf("trip %s: negative seat counter (%d/%d/%d)", i.TripID, i.SeatsAvailable, i.SeatsHeld, i.SeatsBooked)
	}
	if i.SeatsAvailable+i.SeatsHeld+i.SeatsBooked != i.TotalSeats {
		return fmt.Errorf("trip %s: counters %d+%d+%d do not add up to %d",
			i.TripID, i.SeatsAvailable, i.SeatsHeld, i.SeatsBooked, i.TotalSeats)
	}
	return nil
}

// SeatUpdate converts the record into the payload pushed to trip rooms.
func (i Inventory) SeatUpdate() SeatUpdate {
	return SeatUpdate{
		TripID:    i.TripID,
		Total:     i.TotalSeats,
		Available: i.SeatsAvailable,
		Held:      i.SeatsHeld,
		Booked:    i.SeatsBooked,
		Version:   i.Version,
	}
}
