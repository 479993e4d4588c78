package entity

import "errors"

var (
	// Inventory errors
	ErrTripNotFound         = errors.New("trip not found")
	ErrTripExists           = errors.New("trip already exists")
	ErrInsufficientSeats    = errors.New("not enough available seats")
	ErrInventoryUnavailable = errors.New("seat inventory is temporarily unavailable")

	// Hold errors
	ErrHoldNotFound    = errors.New("hold not found")
	ErrHoldExpired     = errors.New("hold has expired")
	ErrAlreadyResolved = errors.New("already resolved")

	// Booking errors
	ErrBookingNotFound    = errors.New("booking not found")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrRefundNotFound     = errors.New("refund request not found")
	ErrInvalidRefundState = errors.New("invalid refund status transition")

	// Connection errors
	ErrInvalidToken            = errors.New("invalid token")
	ErrConnectionLimitExceeded = errors.New("connection limit exceeded")
	ErrRateLimited             = errors.New("too many connection attempts")
	ErrRoomLimitExceeded       = errors.New("room limit exceeded")

	// General errors
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden operation")
)

var businessErrors = []error{
	ErrTripNotFound,
	ErrTripExists,
	ErrInsufficientSeats,
	ErrInventoryUnavailable,
	ErrHoldNotFound,
	ErrHoldExpired,
	ErrAlreadyResolved,
	ErrBookingNotFound,
	ErrPaymentDeclined,
	ErrRefundNotFound,
	ErrInvalidRefundState,
	ErrInvalidToken,
	ErrConnectionLimitExceeded,
	ErrRateLimited,
	ErrRoomLimitExceeded,
	ErrInvalidInput,
	ErrForbidden,
}

// IsBusiness reports whether err is a domain outcome rather than an infrastructure failure.
// Only non-business errors are worth retrying.
func IsBusiness(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
