package repository

import (
	"database/sql"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInventory(row rowScanner) (entity.Inventory, error) {
	var inv entity.Inventory
	err := row.Scan(
		&inv.TripID,
		&inv.TotalSeats,
		&inv.SeatsAvailable,
		&inv.SeatsHeld,
		&inv.SeatsBooked,
		&inv.Fare,
		&inv.Version,
		&inv.UpdatedAt,
	)
	return inv, err
}

func scanHold(row rowScanner) (entity.Hold, error) {
	var (
		hold       entity.Hold
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&hold.ID,
		&hold.TripID,
		&hold.OwnerID,
		&hold.SeatCount,
		&hold.Passengers,
		&hold.State,
		&hold.CreatedAt,
		&hold.ExpiresAt,
		&resolvedAt,
	)
	hold.ResolvedAt = nullTime(resolvedAt)
	return hold, err
}

func scanBooking(row rowScanner) (entity.Booking, error) {
	var (
		booking     entity.Booking
		holdID      sql.NullString
		cancelledAt sql.NullTime
	)
	err := row.Scan(
		&booking.ID,
		&booking.TripID,
		&holdID,
		&booking.OwnerID,
		&booking.Passengers,
		&booking.NoOfSeats,
		&booking.AmountPaid,
		&booking.Status,
		&booking.TransactionID,
		&booking.CreatedAt,
		&cancelledAt,
		&booking.CancelReason,
	)
	if holdID.Valid {
		booking.HoldID = &holdID.String
	}
	booking.CancelledAt = nullTime(cancelledAt)
	return booking, err
}

func scanRefund(row rowScanner) (entity.RefundRequest, error) {
	var (
		refund      entity.RefundRequest
		confirmedAt sql.NullTime
		refundedAt  sql.NullTime
	)
	err := row.Scan(
		&refund.ID,
		&refund.BookingID,
		&refund.Amount,
		&refund.Status,
		&refund.Reason,
		&refund.CreatedAt,
		&confirmedAt,
		&refund.ConfirmedBy,
		&refundedAt,
	)
	refund.ConfirmedAt = nullTime(confirmedAt)
	refund.RefundedAt = nullTime(refundedAt)
	return refund, err
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
