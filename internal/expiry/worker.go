// Package expiry runs the manual-override expiry tick (spec §4.6) as
// a PeriodicTask: idempotent, crash-safe (a missed tick only postpones
// expiry by one period), logging the per-tick count.
package expiry

import (
	"context"
	"log"
	"time"

	"github.com/richowen/battery-controller/internal/task"
)

// Store is the seam the worker depends on; internal/override.Store
// satisfies it.
type Store interface {
	ExpireDue(ctx context.Context) (int, error)
}

// Worker periodically deactivates manual overrides whose expires_at
// has passed.
type Worker struct {
	task *task.PeriodicTask
}

// New builds a Worker ticking at period, logging through logger.
func New(store Store, period time.Duration, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	w := &Worker{}
	w.task = task.New("expiry-worker", period, period, func(ctx context.Context) {
		n, err := store.ExpireDue(ctx)
		if err != nil {
			logger.Printf("expiry: tick failed: %v", err)
			return
		}
		logger.Printf("expiry: tick expired %d override(s)", n)
	}, logger)
	return w
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.task.Run(ctx)
}

// Stop signals Run to exit at the next opportunity.
func (w *Worker) Stop() {
	w.task.Stop()
}
