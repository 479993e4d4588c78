package service

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/pkg/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HoldManager issues holds and expires them once their TTL passes.
// The index only decides when to look at a hold; the store CAS decides what happens.
type HoldManager struct {
	store  database.Store
	clock  clock.Clock
	ttl    time.Duration
	notify *Notifier

	mu      sync.Mutex
	index   holdIndex
	entries map[string]*indexEntry
}

func NewHoldManager(store database.Store, clk clock.Clock, ttl time.Duration, notify *Notifier) *HoldManager {
	return &HoldManager{
		store:   store,
		clock:   clk,
		ttl:     ttl,
		notify:  notify,
		entries: make(map[string]*indexEntry),
	}
}

func (m *HoldManager) TTL() time.Duration {
	return m.ttl
}

func (m *HoldManager) Now() time.Time {
	return m.clock.Now()
}

// NewHold builds an active hold that expires one TTL from now.
func (m *HoldManager) NewHold(tripID, ownerID string, seatCount int, passengers entity.Passengers) entity.Hold {
	now := m.clock.Now()
	return entity.Hold{
		ID:         uuid.NewString(),
		TripID:     tripID,
		OwnerID:    ownerID,
		SeatCount:  seatCount,
		Passengers: passengers,
		State:      entity.HoldStateActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
}

// Track indexes an active hold by its deadline. Tracking the same hold again is a no-op.
func (m *HoldManager) Track(hold entity.Hold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(hold.ID, hold.ExpiresAt)
}

func (m *HoldManager) track(holdID string, expiresAt time.Time) {
	if _, ok := m.entries[holdID]; ok {
		return
	}
	e := &indexEntry{holdID: holdID, expiresAt: expiresAt}
	heap.Push(&m.index, e)
	m.entries[holdID] = e
}

// Untrack drops a hold resolved by someone else than the sweep.
func (m *HoldManager) Untrack(holdID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[holdID]; ok {
		m.index.remove(e)
		delete(m.entries, holdID)
	}
}

// Pending returns the number of indexed holds.
func (m *HoldManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep expires every indexed hold whose deadline has passed and returns how many
// holds it expired. Holds that hit a transient store error stay indexed for the next run.
func (m *HoldManager) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	due := m.index.popDue(now)
	for _, e := range due {
		delete(m.entries, e.holdID)
	}
	m.mu.Unlock()

	var (
		expired int
		errs    []error
	)
	for i, e := range due {
		if err := ctx.Err(); err != nil {
			m.requeue(due[i:])
			errs = append(errs, err)
			break
		}

		res, err := m.store.ResolveHold(ctx, database.ResolveHoldInput{
			HoldID: e.holdID,
			To:     entity.HoldStateExpired,
			At:     now,
		})
		switch {
		case err == nil:
			expired++
			m.notify.seatsChanged(res.Inventory)
			m.notify.emit(EventHoldExpired, res.Hold.TripID, now, res.Hold)
			logrus.WithFields(logrus.Fields{
				"hold_id": e.holdID,
				"trip_id": res.Hold.TripID,
				"seats":   res.Hold.SeatCount,
			}).Info("Hold expired")
		case errors.Is(err, entity.ErrAlreadyResolved), errors.Is(err, entity.ErrHoldNotFound):
			// confirmed or released concurrently
		default:
			m.requeue([]*indexEntry{e})
			errs = append(errs, fmt.Errorf("expire hold %s: %w", e.holdID, err))
		}
	}

	return expired, errors.Join(errs...)
}

func (m *HoldManager) requeue(entries []*indexEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.track(e.holdID, e.expiresAt)
	}
}

// Rebuild merges every active hold of the store into the index. Called at startup
// and periodically so holds created by other instances are expired too.
func (m *HoldManager) Rebuild(ctx context.Context) (int, error) {
	holds, err := m.store.ListActiveHolds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active holds: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, hold := range holds {
		if _, ok := m.entries[hold.ID]; ok {
			continue
		}
		m.track(hold.ID, hold.ExpiresAt)
		added++
	}
	return added, nil
}
