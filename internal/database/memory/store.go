package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
)

// trip groups everything whose state moves together with one trip's counters.
// All of it is guarded by mu, so operations on different trips never contend.
type trip struct {
	mu       sync.Mutex
	inv      entity.Inventory
	holds    map[string]*entity.Hold
	bookings map[string]*entity.Booking
	refunds  map[string]*entity.RefundRequest
}

// Store keeps seat inventory in process memory.
type Store struct {
	mu    sync.RWMutex
	trips map[string]*trip

	// id -> trip id lookups; entries are never removed
	holdTrip    map[string]string
	bookingTrip map[string]string
	bookingHold map[string]string
	refundTrip  map[string]string
	refundByBkg map[string]string
}

var _ database.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		trips:       make(map[string]*trip),
		holdTrip:    make(map[string]string),
		bookingTrip: make(map[string]string),
		bookingHold: make(map[string]string),
		refundTrip:  make(map[string]string),
		refundByBkg: make(map[string]string),
	}
}

func (s *Store) CreateTrip(ctx context.Context, inv entity.Inventory) (entity.Inventory, error) {
	if err := inv.Validate(); err != nil {
		return entity.Inventory{}, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[inv.TripID]; ok {
		return entity.Inventory{}, entity.ErrTripExists
	}
	s.trips[inv.TripID] = &trip{
		inv:      inv,
		holds:    make(map[string]*entity.Hold),
		bookings: make(map[string]*entity.Booking),
		refunds:  make(map[string]*entity.RefundRequest),
	}
	return inv, nil
}

func (s *Store) GetInventory(ctx context.Context, tripID string) (entity.Inventory, error) {
	t, err := s.trip(tripID)
	if err != nil {
		return entity.Inventory{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv, nil
}

func (s *Store) TryHold(ctx context.Context, hold entity.Hold) (entity.Inventory, error) {
	t, err := s.trip(hold.TripID)
	if err != nil {
		return entity.Inventory{}, err
	}

	t.mu.Lock()
	if err := hold.Passengers.FitTrip(t.inv.TotalSeats); err != nil {
		t.mu.Unlock()
		return entity.Inventory{}, err
	}
	if t.inv.SeatsAvailable < hold.SeatCount {
		t.mu.Unlock()
		return entity.Inventory{}, entity.ErrInsufficientSeats
	}
	t.inv.SeatsAvailable -= hold.SeatCount
	t.inv.SeatsHeld += hold.SeatCount
	t.inv.Version++
	t.inv.UpdatedAt = hold.CreatedAt

	hold.State = entity.HoldStateActive
	t.holds[hold.ID] = &hold
	inv := t.inv
	t.mu.Unlock()

	s.mu.Lock()
	s.holdTrip[hold.ID] = hold.TripID
	s.mu.Unlock()

	return inv, nil
}

func (s *Store) ResolveHold(ctx context.Context, in database.ResolveHoldInput) (database.HoldResolution, error) {
	if in.To == entity.HoldStateActive || (in.To == entity.HoldStateConfirmed && in.Booking == nil) {
		return database.HoldResolution{}, fmt.Errorf("%w: cannot resolve hold to %s", entity.ErrInvalidInput, in.To)
	}

	t, err := s.tripOf(s.holdTrip, in.HoldID, entity.ErrHoldNotFound)
	if err != nil {
		return database.HoldResolution{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hold := t.holds[in.HoldID]
	if hold.State != entity.HoldStateActive {
		return database.HoldResolution{Hold: *hold}, entity.ErrAlreadyResolved
	}
	if in.To == entity.HoldStateConfirmed && hold.ExpiredAt(in.At) {
		return database.HoldResolution{Hold: *hold}, entity.ErrHoldExpired
	}

	at := in.At
	hold.State = in.To
	hold.ResolvedAt = &at

	t.inv.SeatsHeld -= hold.SeatCount
	res := database.HoldResolution{}
	if in.To == entity.HoldStateConfirmed {
		t.inv.SeatsBooked += hold.SeatCount

		booking := *in.Booking
		booking.TripID = hold.TripID
		holdID := hold.ID
		booking.HoldID = &holdID
		booking.NoOfSeats = hold.SeatCount
		booking.Status = entity.BookingStatusConfirmed
		t.bookings[booking.ID] = &booking
		stored := booking
		res.Booking = &stored

		s.mu.Lock()
		s.bookingTrip[booking.ID] = hold.TripID
		s.bookingHold[hold.ID] = booking.ID
		s.mu.Unlock()
	} else {
		t.inv.SeatsAvailable += hold.SeatCount
	}
	t.inv.Version++
	t.inv.UpdatedAt = at

	res.Hold = *hold
	res.Inventory = t.inv
	return res, nil
}

func (s *Store) GetHold(ctx context.Context, holdID string) (entity.Hold, error) {
	t, err := s.tripOf(s.holdTrip, holdID, entity.ErrHoldNotFound)
	if err != nil {
		return entity.Hold{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.holds[holdID], nil
}

func (s *Store) ListActiveHolds(ctx context.Context) ([]entity.Hold, error) {
	s.mu.RLock()
	trips := make([]*trip, 0, len(s.trips))
	for _, t := range s.trips {
		trips = append(trips, t)
	}
	s.mu.RUnlock()

	var holds []entity.Hold
	for _, t := range trips {
		t.mu.Lock()
		for _, h := range t.holds {
			if h.State == entity.HoldStateActive {
				holds = append(holds, *h)
			}
		}
		t.mu.Unlock()
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].ExpiresAt.Before(holds[j].ExpiresAt) })
	return holds, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (entity.Booking, error) {
	t, err := s.tripOf(s.bookingTrip, bookingID, entity.ErrBookingNotFound)
	if err != nil {
		return entity.Booking{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.bookings[bookingID], nil
}

func (s *Store) GetBookingByHold(ctx context.Context, holdID string) (entity.Booking, error) {
	s.mu.RLock()
	bookingID, ok := s.bookingHold[holdID]
	s.mu.RUnlock()
	if !ok {
		return entity.Booking{}, entity.ErrBookingNotFound
	}
	return s.GetBooking(ctx, bookingID)
}

func (s *Store) CancelBooking(ctx context.Context, in database.CancelBookingInput) (database.BookingCancellation, error) {
	t, err := s.tripOf(s.bookingTrip, in.BookingID, entity.ErrBookingNotFound)
	if err != nil {
		return database.BookingCancellation{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	booking := t.bookings[in.BookingID]
	if booking.Status != entity.BookingStatusConfirmed {
		return database.BookingCancellation{Booking: *booking}, entity.ErrAlreadyResolved
	}

	at := in.At
	booking.Status = entity.BookingStatusCancelled
	booking.CancelledAt = &at
	booking.CancelReason = in.Reason

	t.inv.SeatsBooked -= booking.NoOfSeats
	t.inv.SeatsAvailable += booking.NoOfSeats
	t.inv.Version++
	t.inv.UpdatedAt = at

	refund := in.Refund
	refund.BookingID = booking.ID
	refund.Amount = booking.AmountPaid
	refund.Reason = in.Reason
	refund.Status = entity.RefundStatusPending
	refund.CreatedAt = at
	t.refunds[refund.ID] = &refund

	s.mu.Lock()
	s.refundTrip[refund.ID] = booking.TripID
	s.refundByBkg[booking.ID] = refund.ID
	s.mu.Unlock()

	return database.BookingCancellation{Booking: *booking, Inventory: t.inv, Refund: refund}, nil
}

func (s *Store) GetRefund(ctx context.Context, refundID string) (entity.RefundRequest, error) {
	t, err := s.tripOf(s.refundTrip, refundID, entity.ErrRefundNotFound)
	if err != nil {
		return entity.RefundRequest{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.refunds[refundID], nil
}

func (s *Store) GetRefundByBooking(ctx context.Context, bookingID string) (entity.RefundRequest, error) {
	s.mu.RLock()
	refundID, ok := s.refundByBkg[bookingID]
	s.mu.RUnlock()
	if !ok {
		return entity.RefundRequest{}, entity.ErrRefundNotFound
	}
	return s.GetRefund(ctx, refundID)
}

func (s *Store) ListRefunds(ctx context.Context, status entity.RefundStatus) ([]entity.RefundRequest, error) {
	s.mu.RLock()
	trips := make([]*trip, 0, len(s.trips))
	for _, t := range s.trips {
		trips = append(trips, t)
	}
	s.mu.RUnlock()

	refunds := []entity.RefundRequest{}
	for _, t := range trips {
		t.mu.Lock()
		for _, r := range t.refunds {
			if status == "" || r.Status == status {
				refunds = append(refunds, *r)
			}
		}
		t.mu.Unlock()
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].CreatedAt.Before(refunds[j].CreatedAt) })
	return refunds, nil
}

func (s *Store) TransitionRefund(ctx context.Context, in database.RefundTransition) (entity.RefundRequest, error) {
	t, err := s.tripOf(s.refundTrip, in.RefundID, entity.ErrRefundNotFound)
	if err != nil {
		return entity.RefundRequest{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	refund := t.refunds[in.RefundID]
	if refund.Status != in.From {
		return *refund, entity.ErrAlreadyResolved
	}

	at := in.At
	refund.Status = in.To
	switch in.To {
	case entity.RefundStatusConfirmed:
		refund.ConfirmedAt = &at
		refund.ConfirmedBy = in.Actor
	case entity.RefundStatusRefunded:
		refund.RefundedAt = &at
	}
	return *refund, nil
}

func (s *Store) trip(tripID string) (*trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[tripID]
	if !ok {
		return nil, entity.ErrTripNotFound
	}
	return t, nil
}

func (s *Store) tripOf(index map[string]string, id string, notFound error) (*trip, error) {
	s.mu.RLock()
	tripID, ok := index[id]
	var t *trip
	if ok {
		t = s.trips[tripID]
	}
	s.mu.RUnlock()

	if t == nil {
		return nil, notFound
	}
	return t, nil
}
