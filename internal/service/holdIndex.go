package service

import (
	"container/heap"
	"time"
)

type indexEntry struct {
	holdID    string
	expiresAt time.Time
	pos       int
}

// holdIndex is a min-heap of active holds ordered by deadline.
type holdIndex []*indexEntry

func (h holdIndex) Len() int { return len(h) }

func (h holdIndex) Less(i, j int) bool {
	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h holdIndex) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *holdIndex) Push(x interface{}) {
	e := x.(*indexEntry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *holdIndex) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.pos = -1
	*h = old[:n-1]
	return e
}

// popDue removes and returns every entry whose deadline is at or before now.
func (h *holdIndex) popDue(now time.Time) []*indexEntry {
	var due []*indexEntry
	for h.Len() > 0 && !now.Before((*h)[0].expiresAt) {
		due = append(due, heap.Pop(h).(*indexEntry))
	}
	return due
}

func (h *holdIndex) remove(e *indexEntry) {
	if e.pos >= 0 && e.pos < h.Len() && (*h)[e.pos] == e {
		heap.Remove(h, e.pos)
	}
}
