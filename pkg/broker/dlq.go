package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// FailedEvent is an event that could not be published after all retries.
type FailedEvent struct {
	Event    Event     `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Attempts int       `json:"attempts"`
}

type DLQStats struct {
	QueueSize     int64     `json:"queue_size"`
	OldestFailure time.Time `json:"oldest_failure,omitempty"`
	NewestFailure time.Time `json:"newest_failure,omitempty"`
}

// DeadLetters keeps failed events in a sorted set scored by failure time.
type DeadLetters struct {
	client redis.UniversalClient
	key    string
}

func NewDeadLetters(client redis.UniversalClient, key string) *DeadLetters {
	return &DeadLetters{client: client, key: key}
}

func (d *DeadLetters) Push(ctx context.Context, failed FailedEvent) error {
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to marshal failed event: %w", err)
	}

	score := float64(failed.FailedAt.UnixNano()) / 1e9
	if err := d.client.ZAdd(ctx, d.key, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to send event to DLQ: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"event_id":   failed.Event.ID,
		"event_type": failed.Event.Type,
		"error":      failed.Error,
	}).Warn("Event moved to DLQ")
	return nil
}

// List returns up to limit failed events, newest first.
func (d *DeadLetters) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	members, err := d.client.ZRevRange(ctx, d.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed events: %w", err)
	}

	failed := make([]FailedEvent, 0, len(members))
	for _, member := range members {
		var fe FailedEvent
		if err := json.Unmarshal([]byte(member), &fe); err != nil {
			logrus.WithError(err).Warn("Skipping malformed DLQ entry")
			continue
		}
		failed = append(failed, fe)
	}
	return failed, nil
}

// Take removes the failed event with the given event id and returns it.
func (d *DeadLetters) Take(ctx context.Context, eventID string) (FailedEvent, error) {
	members, err := d.client.ZRange(ctx, d.key, 0, -1).Result()
	if err != nil {
		return FailedEvent{}, fmt.Errorf("failed to scan DLQ: %w", err)
	}

	for _, member := range members {
		var fe FailedEvent
		if err := json.Unmarshal([]byte(member), &fe); err != nil {
			continue
		}
		if fe.Event.ID != eventID {
			continue
		}
		if err := d.client.ZRem(ctx, d.key, member).Err(); err != nil {
			return FailedEvent{}, fmt.Errorf("failed to remove event from DLQ: %w", err)
		}
		return fe, nil
	}
	return FailedEvent{}, ErrNotInDLQ
}

func (d *DeadLetters) Stats(ctx context.Context) (DLQStats, error) {
	var stats DLQStats

	size, err := d.client.ZCard(ctx, d.key).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get DLQ size: %w", err)
	}
	stats.QueueSize = size
	if size == 0 {
		return stats, nil
	}

	oldest, err := d.client.ZRangeWithScores(ctx, d.key, 0, 0).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get oldest failure: %w", err)
	}
	newest, err := d.client.ZRevRangeWithScores(ctx, d.key, 0, 0).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get newest failure: %w", err)
	}
	if len(oldest) > 0 {
		stats.OldestFailure = scoreTime(oldest[0].Score)
	}
	if len(newest) > 0 {
		stats.NewestFailure = scoreTime(newest[0].Score)
	}
	return stats, nil
}

func scoreTime(score float64) time.Time {
	sec := int64(score)
	nsec := int64((score - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
