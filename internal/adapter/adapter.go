// Package adapter is the single place the core talks to the
// smart-home bridge (spec §4.2). It owns the bounded-latency read, the
// last-good-snapshot cache, and the degraded-confidence fallback when
// the bridge is unreachable or returns an unexpected value.
package adapter

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/richowen/battery-controller/internal/bridge"
)

// ErrStale is returned when the bridge is unreachable and no cached
// snapshot is fresh enough to serve: the returned SystemState carries
// conservative defaults, not a live or recently-live reading, and
// callers must treat the recommendation they derive from it as a
// fallback (spec §4.2/§7).
var ErrStale = errors.New("adapter: no fresh snapshot available")

// SystemState mirrors spec §3's SystemState record.
type SystemState struct {
	Timestamp               time.Time
	BatterySoCPercent        float64
	SolarPowerKW             float64
	SolarRemainingTodayKWh   float64
	SolarNextHourKWh         float64
	DegradedConfidence       bool
	Stale                    bool
}

// Adapter performs one bounded-latency read per Snapshot call and
// falls back to the last good snapshot when the bridge read fails or
// exceeds readTimeout, as long as that snapshot is still within
// staleThreshold (spec §4.2 "Error conditions").
type Adapter struct {
	bridge         bridge.HomeBridge
	readTimeout    time.Duration
	staleThreshold time.Duration
	logger         *log.Logger
	now            func() time.Time

	mu   sync.Mutex
	last *SystemState
}

func New(b bridge.HomeBridge, readTimeout, staleThreshold time.Duration, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		bridge:         b,
		readTimeout:    readTimeout,
		staleThreshold: staleThreshold,
		logger:         logger,
		now:            time.Now,
	}
}

// SetClock overrides the adapter's notion of "now" for deterministic
// staleness tests.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// Snapshot performs one bounded-latency read of the bridge. On
// success it becomes the new last-good snapshot. On failure (error or
// deadline exceeded) it returns the last good snapshot, with nil
// error, if it is still fresh; otherwise it returns a degraded/stale
// snapshot with conservative defaults (solar=0, soc=50, spec §4.2)
// alongside ErrStale, so callers know this reading cannot back a real
// recommendation.
func (a *Adapter) Snapshot(ctx context.Context) (SystemState, error) {
	readCtx, cancel := context.WithTimeout(ctx, a.readTimeout)
	defer cancel()

	state, err := a.read(readCtx)
	now := a.now()
	if err == nil {
		state.Timestamp = now
		a.mu.Lock()
		a.last = &state
		a.mu.Unlock()
		return state, nil
	}

	a.logger.Printf("adapter: bridge read failed: %v", err)

	a.mu.Lock()
	last := a.last
	a.mu.Unlock()

	if last != nil && now.Sub(last.Timestamp) <= a.staleThreshold {
		degraded := *last
		degraded.DegradedConfidence = true
		return degraded, nil
	}

	return SystemState{
		Timestamp:              now,
		BatterySoCPercent:       50,
		SolarPowerKW:            0,
		SolarRemainingTodayKWh:  0,
		SolarNextHourKWh:        0,
		DegradedConfidence:      true,
		Stale:                   true,
	}, ErrStale
}

func (a *Adapter) read(ctx context.Context) (SystemState, error) {
	type result struct {
		state SystemState
		err   error
	}
	done := make(chan result, 1)

	go func() {
		soc, err := a.bridge.BatterySoC(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		solar, err := a.bridge.SolarPowerKW(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		remaining, err := a.bridge.SolarRemainingTodayKWh(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		nextHour, err := a.bridge.SolarNextHourKWh(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{state: SystemState{
			BatterySoCPercent:      soc,
			SolarPowerKW:           solar,
			SolarRemainingTodayKWh: remaining,
			SolarNextHourKWh:       nextHour,
		}}
	}()

	select {
	case r := <-done:
		return r.state, r.err
	case <-ctx.Done():
		return SystemState{}, ctx.Err()
	}
}
