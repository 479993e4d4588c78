package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/sirupsen/logrus"
)

// Subscriber receives seat updates of the trips it joined. Deliver must not block;
// it returns false when the update was dropped.
type Subscriber interface {
	ID() string
	Deliver(update entity.SeatUpdate) bool
}

// Hub keeps one room per trip and pushes seat updates to the room members.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room

	published atomic.Int64
	stale     atomic.Int64
	dropped   atomic.Int64
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join adds sub to the trip room, creating the room on first join.
func (h *Hub) Join(tripID string, sub Subscriber) {
	h.mu.Lock()
	r, ok := h.rooms[tripID]
	if !ok {
		r = newRoom(tripID)
		h.rooms[tripID] = r
	}
	r.join(sub)
	h.mu.Unlock()
}

// Leave removes sub from the trip room. Empty rooms are dropped.
func (h *Hub) Leave(tripID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[tripID]
	if !ok {
		return
	}
	if r.leave(sub.ID()) {
		delete(h.rooms, tripID)
	}
}

// PublishSeats delivers update to every member of its trip room without blocking.
// Updates not newer than the last one seen by the room are dropped.
func (h *Hub) PublishSeats(update entity.SeatUpdate) {
	h.published.Add(1)

	r := h.room(update.TripID)
	if r == nil {
		return
	}

	stale, dropped := r.broadcast(update)
	if stale {
		h.stale.Add(1)
		return
	}
	if dropped > 0 {
		h.dropped.Add(int64(dropped))
		logrus.WithFields(logrus.Fields{
			"trip_id": update.TripID,
			"version": update.Version,
			"dropped": dropped,
		}).Debug("Seat update dropped for slow subscribers")
	}
}

// offer delivers update to a single member, applying the same version filter.
func (h *Hub) offer(tripID string, sub Subscriber, update entity.SeatUpdate) bool {
	r := h.room(tripID)
	if r == nil {
		return false
	}
	return r.offer(sub.ID(), update)
}

func (h *Hub) room(tripID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[tripID]
}

// Members returns the number of subscribers of a trip room.
func (h *Hub) Members(tripID string) int {
	r := h.room(tripID)
	if r == nil {
		return 0
	}
	return r.size()
}

type HubStats struct {
	Rooms     int   `json:"rooms"`
	Members   int   `json:"members"`
	Published int64 `json:"published"`
	Stale     int64 `json:"stale"`
	Dropped   int64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	stats := HubStats{Rooms: len(h.rooms)}
	for _, r := range h.rooms {
		stats.Members += r.size()
	}
	h.mu.Unlock()

	stats.Published = h.published.Load()
	stats.Stale = h.stale.Load()
	stats.Dropped = h.dropped.Load()
	return stats
}

type member struct {
	sub         Subscriber
	lastVersion int64
}

type room struct {
	mu      sync.Mutex
	tripID  string
	version int64
	members map[string]*member
}

func newRoom(tripID string) *room {
	return &room{tripID: tripID, members: make(map[string]*member)}
}

func (r *room) join(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sub.ID()]; !ok {
		r.members[sub.ID()] = &member{sub: sub}
	}
}

func (r *room) leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	return len(r.members) == 0
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// broadcast runs under the room lock so members see versions in increasing order.
func (r *room) broadcast(update entity.SeatUpdate) (stale bool, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if update.Version <= r.version {
		return true, 0
	}
	r.version = update.Version

	for _, m := range r.members {
		if update.Version <= m.lastVersion {
			continue
		}
		if m.sub.Deliver(update) {
			m.lastVersion = update.Version
		} else {
			dropped++
		}
	}
	return false, dropped
}

func (r *room) offer(id string, update entity.SeatUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok || update.Version <= m.lastVersion {
		return false
	}
	if !m.sub.Deliver(update) {
		return false
	}
	m.lastVersion = update.Version
	return true
}
