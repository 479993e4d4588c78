package fanout

import (
	"sync/atomic"

	"github.com/ds124wfegd/tripseats/internal/entity"
)

// Queue is a Subscriber backed by a bounded channel. A full queue drops updates.
type Queue struct {
	id      string
	ch      chan entity.SeatUpdate
	dropped atomic.Int64
}

func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{id: id, ch: make(chan entity.SeatUpdate, size)}
}

func (q *Queue) ID() string { return q.id }

func (q *Queue) Deliver(update entity.SeatUpdate) bool {
	select {
	case q.ch <- update:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) C() <-chan entity.SeatUpdate { return q.ch }

func (q *Queue) Dropped() int64 { return q.dropped.Load() }
