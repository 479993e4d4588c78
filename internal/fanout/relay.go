package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRelay shares seat updates between service instances over a Redis channel.
// Every instance, the publishing one included, feeds its hub from the subscription.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	out     chan entity.SeatUpdate
}

func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, buffer int) *RedisRelay {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		out:     make(chan entity.SeatUpdate, buffer),
	}
}

// PublishSeats queues update for the relay. A full queue drops it.
func (r *RedisRelay) PublishSeats(update entity.SeatUpdate) {
	select {
	case r.out <- update:
	default:
		logrus.WithFields(logrus.Fields{
			"trip_id": update.TripID,
			"version": update.Version,
		}).Warn("Relay queue full, seat update dropped")
	}
}

// Run subscribes to the channel and pumps updates both ways until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	logrus.WithField("channel", r.channel).Info("Seat update relay started")

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Seat update relay stopped")
			return nil
		case msg, ok := <-incoming:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.receive(msg.Payload)
		case update := <-r.out:
			r.send(ctx, update)
		}
	}
}

func (r *RedisRelay) receive(payload string) {
	var update entity.SeatUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		logrus.WithError(err).Warn("Malformed seat update on relay")
		return
	}
	if err := update.Validate(); err != nil {
		logrus.WithError(err).Warn("Invalid seat update on relay")
		return
	}
	r.hub.PublishSeats(update)
}

func (r *RedisRelay) send(ctx context.Context, update entity.SeatUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal seat update")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		// The relay is the only path to the hub here, so deliver locally at least.
		logrus.WithError(err).WithField("trip_id", update.TripID).Warn("Failed to relay seat update")
		r.hub.PublishSeats(update)
	}
}
