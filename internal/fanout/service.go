package fanout

import (
	"context"
	"fmt"

	"github.com/ds124wfegd/tripseats/internal/entity"
)

// SnapshotSource reads the current seat counts of a trip.
type SnapshotSource interface {
	Snapshot(ctx context.Context, tripID string) (entity.Inventory, error)
}

// Service subscribes clients to trip rooms.
type Service struct {
	hub    *Hub
	source SnapshotSource
}

func NewService(hub *Hub, source SnapshotSource) *Service {
	return &Service{hub: hub, source: source}
}

// Subscribe joins sub to the trip room and then delivers the current snapshot.
// Joining first means no committed change can fall between snapshot and stream.
// announce, when set, runs once the trip is known to exist and before anything is
// delivered to sub.
func (s *Service) Subscribe(ctx context.Context, sub Subscriber, tripID string, announce func()) (entity.SeatUpdate, error) {
	if announce != nil {
		if _, err := s.source.Snapshot(ctx, tripID); err != nil {
			return entity.SeatUpdate{}, fmt.Errorf("failed to load seats of trip %s: %w", tripID, err)
		}
		announce()
	}

	s.hub.Join(tripID, sub)

	inv, err := s.source.Snapshot(ctx, tripID)
	if err != nil {
		s.hub.Leave(tripID, sub)
		return entity.SeatUpdate{}, fmt.Errorf("failed to load seats of trip %s: %w", tripID, err)
	}

	update := inv.SeatUpdate()
	s.hub.offer(tripID, sub, update)
	return update, nil
}

func (s *Service) Unsubscribe(sub Subscriber, tripID string) {
	s.hub.Leave(tripID, sub)
}

func (s *Service) Hub() *Hub {
	return s.hub
}
