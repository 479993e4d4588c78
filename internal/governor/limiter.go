package governor

import (
	"sync"
	"time"
)

// SlidingWindow allows at most max attempts per key within any window-long interval.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	calls    int
}

func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:      max,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for key at now and reports whether it is within the limit.
// Rejected attempts are not recorded.
func (s *SlidingWindow) Allow(key string, now time.Time) bool {
	if s.max <= 0 || s.window <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%256 == 0 {
		s.pruneLocked(now)
	}

	recent := trim(s.attempts[key], now.Add(-s.window))
	if len(recent) >= s.max {
		s.attempts[key] = recent
		return false
	}
	s.attempts[key] = append(recent, now)
	return true
}

// Prune forgets keys with no attempt inside the window.
func (s *SlidingWindow) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
}

func (s *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	for key, times := range s.attempts {
		if recent := trim(times, cutoff); len(recent) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = recent
		}
	}
}

func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// trim drops attempts at or before cutoff; times is sorted.
func trim(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
