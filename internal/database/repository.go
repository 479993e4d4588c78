package database

import (
	"context"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
)

// ResolveHoldInput moves an active hold to To. Booking must be set when To is confirmed.
type ResolveHoldInput struct {
	HoldID  string
	To      entity.HoldState
	At      time.Time
	Booking *entity.Booking
}

// HoldResolution is the state after a hold transition. When the store returns
// ErrAlreadyResolved, Hold carries the current record and nothing else is set.
type HoldResolution struct {
	Hold      entity.Hold
	Inventory entity.Inventory
	Booking   *entity.Booking
}

type CancelBookingInput struct {
	BookingID string
	Reason    string
	At        time.Time
	// Refund is inserted as pending; its Amount is taken from the booking.
	Refund entity.RefundRequest
}

type BookingCancellation struct {
	Booking   entity.Booking
	Inventory entity.Inventory
	Refund    entity.RefundRequest
}

type RefundTransition struct {
	RefundID string
	From     entity.RefundStatus
	To       entity.RefundStatus
	At       time.Time
	Actor    string
}

// Store is the authoritative seat inventory. Every method that changes counters
// does so in one indivisible step together with the record it affects.
type Store interface {
	// Inventory operations
	CreateTrip(ctx context.Context, inv entity.Inventory) (entity.Inventory, error)
	GetInventory(ctx context.Context, tripID string) (entity.Inventory, error)

	// TryHold decrements available and increments held by hold.SeatCount only if enough
	// seats are available, writing the hold record in the same step.
	TryHold(ctx context.Context, hold entity.Hold) (entity.Inventory, error)
	ResolveHold(ctx context.Context, in ResolveHoldInput) (HoldResolution, error)

	// Hold queries
	GetHold(ctx context.Context, holdID string) (entity.Hold, error)
	ListActiveHolds(ctx context.Context) ([]entity.Hold, error)

	// Booking operations
	GetBooking(ctx context.Context, bookingID string) (entity.Booking, error)
	GetBookingByHold(ctx context.Context, holdID string) (entity.Booking, error)
	CancelBooking(ctx context.Context, in CancelBookingInput) (BookingCancellation, error)

	// Refund operations
	GetRefund(ctx context.Context, refundID string) (entity.RefundRequest, error)
	GetRefundByBooking(ctx context.Context, bookingID string) (entity.RefundRequest, error)
	ListRefunds(ctx context.Context, status entity.RefundStatus) ([]entity.RefundRequest, error)
	TransitionRefund(ctx context.Context, in RefundTransition) (entity.RefundRequest, error)
}
