package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
)

func parseInventory(f map[string]string) (entity.Inventory, error) {
	var (
		inv entity.Inventory
		err error
	)
	inv.TripID = f["trip_id"]
	if inv.TotalSeats, err = atoi(f, "total"); err != nil {
		return entity.Inventory{}, err
	}
	if inv.SeatsAvailable, err = atoi(f, "available"); err != nil {
		return entity.Inventory{}, err
	}
	if inv.SeatsHeld, err = atoi(f, "held"); err != nil {
		return entity.Inventory{}, err
	}
	if inv.SeatsBooked, err = atoi(f, "booked"); err != nil {
		return entity.Inventory{}, err
	}
	if inv.Fare, err = atoi64(f, "fare"); err != nil {
		return entity.Inventory{}, err
	}
	if inv.Version, err = atoi64(f, "version"); err != nil {
		return entity.Inventory{}, err
	}
	inv.UpdatedAt = millis(f["updated_at"])
	return inv, nil
}

func parseHold(f map[string]string) (entity.Hold, error) {
	seats, err := atoi(f, "seat_count")
	if err != nil {
		return entity.Hold{}, err
	}
	hold := entity.Hold{
		ID:         f["id"],
		TripID:     f["trip_id"],
		OwnerID:    f["owner_id"],
		SeatCount:  seats,
		State:      entity.HoldState(f["state"]),
		CreatedAt:  millis(f["created_at"]),
		ExpiresAt:  millis(f["expires_at"]),
		ResolvedAt: optionalMillis(f["resolved_at"]),
	}
	if raw := f["passengers"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &hold.Passengers); err != nil {
			return entity.Hold{}, fmt.Errorf("failed to decode hold passengers: %w", err)
		}
	}
	return hold, nil
}

func parseBooking(f map[string]string) (entity.Booking, error) {
	seats, err := atoi(f, "no_of_seats")
	if err != nil {
		return entity.Booking{}, err
	}
	amount, err := atoi64(f, "amount_paid")
	if err != nil {
		return entity.Booking{}, err
	}
	b := entity.Booking{
		ID:            f["id"],
		TripID:        f["trip_id"],
		OwnerID:       f["owner_id"],
		NoOfSeats:     seats,
		AmountPaid:    amount,
		Status:        entity.BookingStatus(f["status"]),
		TransactionID: f["transaction_id"],
		CreatedAt:     millis(f["created_at"]),
		CancelledAt:   optionalMillis(f["cancelled_at"]),
		CancelReason:  f["cancel_reason"],
	}
	if holdID := f["hold_id"]; holdID != "" {
		b.HoldID = &holdID
	}
	if raw := f["passengers"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &b.Passengers); err != nil {
			return entity.Booking{}, fmt.Errorf("failed to decode booking passengers: %w", err)
		}
	}
	return b, nil
}

func parseRefund(f map[string]string) (entity.RefundRequest, error) {
	amount, err := atoi64(f, "amount")
	if err != nil {
		return entity.RefundRequest{}, err
	}
	return entity.RefundRequest{
		ID:          f["id"],
		BookingID:   f["booking_id"],
		Amount:      amount,
		Status:      entity.RefundStatus(f["status"]),
		Reason:      f["reason"],
		CreatedAt:   millis(f["created_at"]),
		ConfirmedAt: optionalMillis(f["confirmed_at"]),
		ConfirmedBy: f["confirmed_by"],
		RefundedAt:  optionalMillis(f["refunded_at"]),
	}, nil
}

func atoi(f map[string]string, field string) (int, error) {
	v, err := strconv.Atoi(f[field])
	if err != nil {
		return 0, fmt.Errorf("corrupt field %q: %w", field, err)
	}
	return v, nil
}

func atoi64(f map[string]string, field string) (int64, error) {
	v, err := strconv.ParseInt(f[field], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt field %q: %w", field, err)
	}
	return v, nil
}

func millis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t := millis(raw)
	return &t
}
