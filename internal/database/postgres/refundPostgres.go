package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
)

func (r *SeatRepository) GetRefund(ctx context.Context, refundID string) (entity.RefundRequest, error) {
	return r.getRefund(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, refundID)
}

func (r *SeatRepository) GetRefundByBooking(ctx context.Context, bookingID string) (entity.RefundRequest, error) {
	return r.getRefund(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE booking_id = $1`, bookingID)
}

func (r *SeatRepository) getRefund(ctx context.Context, query string, arg string) (entity.RefundRequest, error) {
	refund, err := scanRefund(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.RefundRequest{}, entity.ErrRefundNotFound
	}
	if err != nil {
		return entity.RefundRequest{}, fmt.Errorf("failed to get refund: %w", err)
	}
	return refund, nil
}

// ListRefunds returns refunds in the given status, or all of them for an empty status.
func (r *SeatRepository) ListRefunds(ctx context.Context, status entity.RefundStatus) ([]entity.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE ($1 = '' OR status = $1) ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	refunds := []entity.RefundRequest{}
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refunds: %w", err)
	}
	return refunds, nil
}

// TransitionRefund moves a refund from in.From to in.To. A refund that is no
// longer in in.From is returned as is together with ErrAlreadyResolved.
func (r *SeatRepository) TransitionRefund(ctx context.Context, in database.RefundTransition) (entity.RefundRequest, error) {
	var query string
	args := []interface{}{in.RefundID, in.From, in.At}

	switch in.To {
	case entity.RefundStatusConfirmed:
		query = `UPDATE refund_requests SET status = 'confirmed', confirmed_at = $3, confirmed_by = $4
			WHERE id = $1 AND status = $2 RETURNING ` + refundColumns
		args = append(args, in.Actor)
	case entity.RefundStatusRefunded:
		query = `UPDATE refund_requests SET status = 'refunded', refunded_at = $3
			WHERE id = $1 AND status = $2 RETURNING ` + refundColumns
	default:
		return entity.RefundRequest{}, fmt.Errorf("%w: refund cannot move to %q", entity.ErrInvalidInput, in.To)
	}

	refund, err := scanRefund(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		current, err := r.GetRefund(ctx, in.RefundID)
		if err != nil {
			return entity.RefundRequest{}, err
		}
		return current, entity.ErrAlreadyResolved
	}
	if err != nil {
		return entity.RefundRequest{}, fmt.Errorf("failed to update refund: %w", err)
	}
	return refund, nil
}
