package entity

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID            string        `json:"id" db:"id"`
	TripID        string        `json:"trip_id" db:"trip_id"`
	HoldID        *string       `json:"hold_id,omitempty" db:"hold_id"`
	OwnerID       string        `json:"owner_id" db:"owner_id"`
	Passengers    Passengers    `json:"passengers" db:"passengers"`
	NoOfSeats     int           `json:"no_of_seats" db:"no_of_seats"`
	AmountPaid    int64         `json:"amount_paid" db:"amount_paid"`
	Status        BookingStatus `json:"status" db:"status"`
	TransactionID string        `json:"transaction_id" db:"transaction_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason  string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusConfirmed RefundStatus = "confirmed"
	RefundStatusRefunded  RefundStatus = "refunded"
)

// rank orders refund statuses along their only allowed path.
func (s RefundStatus) rank() int {
	switch s {
	case RefundStatusPending:
		return 0
	case RefundStatusConfirmed:
		return 1
	case RefundStatusRefunded:
		return 2
	}
	return -1
}

func (s RefundStatus) Valid() bool { return s.rank() >= 0 }

// Reached reports whether the refund already is at or past target.
func (s RefundStatus) Reached(target RefundStatus) bool {
	return s.rank() >= target.rank()
}

type RefundRequest struct {
	ID          string       `json:"id" db:"id"`
	BookingID   string       `json:"booking_id" db:"booking_id"`
	Amount      int64        `json:"amount" db:"amount"`
	Status      RefundStatus `json:"status" db:"status"`
	Reason      string       `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ConfirmedBy string       `json:"confirmed_by,omitempty" db:"confirmed_by"`
	RefundedAt  *time.Time   `json:"refunded_at,omitempty" db:"refunded_at"`
}
