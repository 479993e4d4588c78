package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu       sync.Mutex
	sweeps   int
	rebuilds int
	sweepErr error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, f.sweepErr
}

func (f *fakeSweeper) Rebuild(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return 0, nil
}

func (f *fakeSweeper) Pending() int { return 0 }

func (f *fakeSweeper) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps, f.rebuilds
}

func TestHoldSweepWorker(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := NewHoldSweepWorker(sweeper, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sweeps, _ := sweeper.counts()
		return sweeps >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, "running", w.GetStats()["status"])

	cancel()
	<-done

	_, rebuilds := sweeper.counts()
	assert.Equal(t, 1, rebuilds)

	stats := w.GetStats()
	assert.Equal(t, "stopped", stats["status"])
	assert.GreaterOrEqual(t, stats["holds_expired"].(int64), int64(3))
}

func TestHoldSweepWorkerRecordsErrors(t *testing.T) {
	sweeper := &fakeSweeper{sweepErr: errors.New("store down")}
	w := NewHoldSweepWorker(sweeper, time.Millisecond, 0)

	w.sweep(context.Background())

	stats := w.GetStats()
	assert.Equal(t, "store down", stats["last_error"])
	assert.Equal(t, int64(1), stats["sweeps"])
}
