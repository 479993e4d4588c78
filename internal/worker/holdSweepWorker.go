package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HoldSweeper is the part of the hold manager the worker drives.
type HoldSweeper interface {
	Sweep(ctx context.Context) (int, error)
	Rebuild(ctx context.Context) (int, error)
	Pending() int
}

// HoldSweepWorker expires due holds on every tick and periodically reloads
// the expiry index from the store.
type HoldSweepWorker struct {
	holds          HoldSweeper
	interval       time.Duration
	resyncInterval time.Duration

	mu      sync.Mutex
	running bool
	sweeps  int64
	expired int64
	lastErr string
}

func NewHoldSweepWorker(holds HoldSweeper, interval, resyncInterval time.Duration) *HoldSweepWorker {
	return &HoldSweepWorker{
		holds:          holds,
		interval:       interval,
		resyncInterval: resyncInterval,
	}
}

// Start blocks until ctx is cancelled.
func (w *HoldSweepWorker) Start(ctx context.Context) {
	w.setRunning(true)
	defer w.setRunning(false)

	w.rebuild(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var resync <-chan time.Time
	if w.resyncInterval > 0 {
		resyncTicker := time.NewTicker(w.resyncInterval)
		defer resyncTicker.Stop()
		resync = resyncTicker.C
	}

	logrus.WithField("interval", w.interval.String()).Info("Hold sweep worker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Hold sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-resync:
			w.rebuild(ctx)
		}
	}
}

// sweep выполняет истечение просроченных резервов
func (w *HoldSweepWorker) sweep(ctx context.Context) {
	expired, err := w.holds.Sweep(ctx)

	w.mu.Lock()
	w.sweeps++
	w.expired += int64(expired)
	if err != nil {
		w.lastErr = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		logrus.WithError(err).WithField("expired", expired).Warn("Hold sweep finished with errors")
		return
	}
	if expired > 0 {
		logrus.WithFields(logrus.Fields{
			"expired": expired,
			"pending": w.holds.Pending(),
		}).Info("Hold sweep completed")
	}
}

func (w *HoldSweepWorker) rebuild(ctx context.Context) {
	added, err := w.holds.Rebuild(ctx)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err.Error()
		w.mu.Unlock()
		logrus.WithError(err).Error("Failed to rebuild hold index")
		return
	}
	if added > 0 {
		logrus.WithField("added", added).Info("Hold index resynced from store")
	}
}

func (w *HoldSweepWorker) setRunning(running bool) {
	w.mu.Lock()
	w.running = running
	w.mu.Unlock()
}

// GetStats возвращает статистику работы воркера
func (w *HoldSweepWorker) GetStats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := "stopped"
	if w.running {
		status = "running"
	}
	return map[string]interface{}{
		"worker_type":   "hold_sweep",
		"interval":      w.interval.String(),
		"status":        status,
		"sweeps":        w.sweeps,
		"holds_expired": w.expired,
		"holds_pending": w.holds.Pending(),
		"last_error":    w.lastErr,
	}
}
