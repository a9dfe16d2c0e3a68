// Package task provides the periodic-task primitive shared by every
// background job in the controller: price refresh, recompute, expiry,
// and solar forecast refresh all run as a PeriodicTask.
package task

import (
	"context"
	"log"
	"time"
)

// PeriodicTask runs runFunc once after initialDelay, then on every
// tick of interval, until the context is cancelled or Stop is called.
type PeriodicTask struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	runFunc      func(ctx context.Context)
	logger       *log.Logger
	stopChan     chan struct{}
}

// New builds a PeriodicTask. A zero initialDelay runs the first
// iteration immediately.
func New(name string, initialDelay, interval time.Duration, runFunc func(ctx context.Context), logger *log.Logger) *PeriodicTask {
	if logger == nil {
		logger = log.Default()
	}
	return &PeriodicTask{
		name:         name,
		initialDelay: initialDelay,
		interval:     interval,
		runFunc:      runFunc,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Stop signals Run to exit at the next opportunity. Safe to call once;
// a second call panics on the closed channel, matching this stack's
// single-owner task lifecycle.
func (t *PeriodicTask) Stop() {
	close(t.stopChan)
}

// Run blocks until ctx is cancelled or Stop is called.
func (t *PeriodicTask) Run(ctx context.Context) {
	if t.initialDelay > 0 {
		t.logger.Printf("[%s] waiting for initial delay: %v", t.name, t.initialDelay)
		select {
		case <-time.After(t.initialDelay):
			t.runFunc(ctx)
		case <-ctx.Done():
			t.logger.Printf("[%s] stopped during initial delay: %v", t.name, ctx.Err())
			return
		case <-t.stopChan:
			t.logger.Printf("[%s] stopped during initial delay by stop signal", t.name)
			return
		}
	} else {
		t.runFunc(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Printf("[%s] started with interval %v", t.name, t.interval)

	for {
		select {
		case <-ticker.C:
			t.runFunc(ctx)
		case <-ctx.Done():
			t.logger.Printf("[%s] stopped: %v", t.name, ctx.Err())
			return
		case <-t.stopChan:
			t.logger.Printf("[%s] stopped by stop signal", t.name)
			return
		}
	}
}
