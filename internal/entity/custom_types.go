package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type Passenger struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Gender     string `json:"gender,omitempty"`
	Phone      string `json:"phone,omitempty"`
	SeatNumber int    `json:"seat_number,omitempty"`
}

// Passengers is stored as a JSON document column.
type Passengers []Passenger

func (p Passengers) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *Passengers) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("cannot scan type %T into Passengers", value)
	}
}

// Validate checks the passenger list against the number of seats being held.
// An empty list is allowed: passengers can be attached to the hold later by the client.
func (p Passengers) Validate(seatCount int) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) != seatCount {
		return fmt.Errorf("%w: %d passengers for %d seats", ErrInvalidInput, len(p), seatCount)
	}

	seats := make(map[int]struct{}, len(p))
	for i, passenger := range p {
		if strings.TrimSpace(passenger.FirstName) == "" || strings.TrimSpace(passenger.LastName) == "" {
			return fmt.Errorf("%w: passenger %d has no name", ErrInvalidInput, i+1)
		}
		if passenger.SeatNumber < 0 {
			return fmt.Errorf("%w: passenger %d has seat %d", ErrInvalidInput, i+1, passenger.SeatNumber)
		}
		if passenger.SeatNumber == 0 {
			continue
		}
		if _, dup := seats[passenger.SeatNumber]; dup {
			return fmt.Errorf("%w: seat %d assigned twice", ErrInvalidInput, passenger.SeatNumber)
		}
		seats[passenger.SeatNumber] = struct{}{}
	}
	return nil
}

// HighestSeat returns the largest requested seat number, 0 when none is requested.
func (p Passengers) HighestSeat() int {
	highest := 0
	for _, passenger := range p {
		if passenger.SeatNumber > highest {
			highest = passenger.SeatNumber
		}
	}
	return highest
}

// FitTrip checks that every requested seat exists on a trip with totalSeats seats.
func (p Passengers) FitTrip(totalSeats int) error {
	if highest := p.HighestSeat(); highest > totalSeats {
		return fmt.Errorf("%w: seat %d does not exist, trip has %d seats", ErrInvalidInput, highest, totalSeats)
	}
	return nil
}
