package override

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ManualRepo is the persistence seam for manual overrides. Set
// implements the atomic "deactivate prior active row, then insert"
// sequence (spec §4.3) inside a single transaction; callers never see
// an intermediate state with zero or two active rows for a device.
type ManualRepo interface {
	Set(ctx context.Context, deviceID DeviceID, desiredState bool, source string, createdAt, expiresAt time.Time) (ManualOverride, error)
	Clear(ctx context.Context, deviceID DeviceID, clearedBy string, now time.Time) (int, error)
	ClearAll(ctx context.Context, clearedBy string, now time.Time) (int, error)
	ActiveRow(ctx context.Context, deviceID DeviceID, now time.Time) (*ManualOverride, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// ScheduleRepo is the persistence seam for the single heartbeat row
// per device plus its transition history.
type ScheduleRepo interface {
	Report(ctx context.Context, deviceID DeviceID, isActive bool, reason string, at time.Time) error
	Get(ctx context.Context, deviceID DeviceID) (*ScheduleOverride, error)
	History(ctx context.Context, deviceID DeviceID, start, end time.Time, limit int) ([]ScheduleOverride, error)
}

// Store is the single entry point for both override kinds, matching
// the thin-wrapper-over-a-repo shape used elsewhere in this stack
// (internal/tariff.Store).
type Store struct {
	manual   ManualRepo
	schedule ScheduleRepo
	logger   *log.Logger
	now      func() time.Time

	defaultDuration time.Duration
	maxDuration     time.Duration
	staleThreshold  time.Duration
}

// New builds a Store. defaultDuration/maxDuration govern manual
// override creation (spec §6 override.manual_default_hours /
// manual_max_hours); staleThreshold governs schedule heartbeat
// freshness (override.schedule_stale_threshold_s).
func New(manual ManualRepo, schedule ScheduleRepo, defaultDuration, maxDuration, staleThreshold time.Duration, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		manual:          manual,
		schedule:        schedule,
		logger:          logger,
		now:             time.Now,
		defaultDuration: defaultDuration,
		maxDuration:     maxDuration,
		staleThreshold:  staleThreshold,
	}
}

// SetClock overrides the store's notion of "now"; tests use this to
// advance time deterministically rather than sleeping real time.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetManualOverride creates a new active manual override for a device,
// atomically superseding any prior active row (spec §4.3 step 1-4). A
// zero duration selects the configured default; durations beyond the
// configured maximum are clamped rather than rejected.
func (s *Store) SetManualOverride(ctx context.Context, deviceID DeviceID, desiredState bool, duration time.Duration, source string) (ManualOverride, error) {
	if duration <= 0 {
		duration = s.defaultDuration
	}
	if s.maxDuration > 0 && duration > s.maxDuration {
		duration = s.maxDuration
	}
	if source == "" {
		source = "api"
	}

	now := s.now()
	row, err := s.manual.Set(ctx, deviceID, desiredState, source, now, now.Add(duration))
	if err != nil {
		return ManualOverride{}, fmt.Errorf("override: set manual override for %s: %w", deviceID, err)
	}
	return row, nil
}

// ClearManualOverride deactivates any active override for a device.
// Idempotent: clearing with nothing active returns 0, nil.
func (s *Store) ClearManualOverride(ctx context.Context, deviceID DeviceID, clearedBy string) (int, error) {
	n, err := s.manual.Clear(ctx, deviceID, clearedBy, s.now())
	if err != nil {
		return 0, fmt.Errorf("override: clear manual override for %s: %w", deviceID, err)
	}
	return n, nil
}

// ClearAllManualOverrides deactivates every device's active override.
func (s *Store) ClearAllManualOverrides(ctx context.Context, clearedBy string) (int, error) {
	n, err := s.manual.ClearAll(ctx, clearedBy, s.now())
	if err != nil {
		return 0, fmt.Errorf("override: clear all manual overrides: %w", err)
	}
	return n, nil
}

// ManualStatus resolves the current manual override state for a
// device (spec §4.3 "Manual overrides — query").
func (s *Store) ManualStatus(ctx context.Context, deviceID DeviceID) (ManualStatus, error) {
	now := s.now()
	row, err := s.manual.ActiveRow(ctx, deviceID, now)
	if err != nil {
		return ManualStatus{}, fmt.Errorf("override: manual status for %s: %w", deviceID, err)
	}
	if row == nil {
		return ManualStatus{DeviceID: deviceID, IsActive: false}, nil
	}
	remaining := row.ExpiresAt.Sub(now).Minutes()
	if remaining < 0 {
		remaining = 0
	}
	return ManualStatus{
		DeviceID:             deviceID,
		IsActive:             true,
		DesiredState:         row.DesiredState,
		Source:               row.Source,
		ExpiresAt:            row.ExpiresAt,
		TimeRemainingMinutes: remaining,
	}, nil
}

// ExpireDue deactivates every manual override whose expires_at has
// passed (spec §4.6 expiry worker step 2-3), returning the count for
// the worker's per-tick log line.
func (s *Store) ExpireDue(ctx context.Context) (int, error) {
	n, err := s.manual.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("override: expire due manual overrides: %w", err)
	}
	if n > 0 {
		s.logger.Printf("override: expired %d manual override(s)", n)
	}
	return n, nil
}

// ReportSchedule records a heartbeat from the external schedule source
// (spec §4.3 "Schedule overrides — mutators").
func (s *Store) ReportSchedule(ctx context.Context, deviceID DeviceID, isActive bool, reason string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	if err := s.schedule.Report(ctx, deviceID, isActive, reason, at); err != nil {
		return fmt.Errorf("override: report schedule for %s: %w", deviceID, err)
	}
	return nil
}

// ScheduleStatus resolves heartbeat-aware schedule status (spec §4.3
// "Schedule overrides — query"): a row marked active in storage still
// reports inactive once its heartbeat has gone stale.
func (s *Store) ScheduleStatus(ctx context.Context, deviceID DeviceID) (ScheduleStatus, error) {
	row, err := s.schedule.Get(ctx, deviceID)
	if err != nil {
		return ScheduleStatus{}, fmt.Errorf("override: schedule status for %s: %w", deviceID, err)
	}
	if row == nil || !row.IsActive {
		return ScheduleStatus{DeviceID: deviceID, IsActive: false}, nil
	}

	now := s.now()
	fresh := now.Sub(row.UpdatedAt) <= s.staleThreshold
	return ScheduleStatus{
		DeviceID:        deviceID,
		IsActive:        fresh,
		Reason:          row.Reason,
		ActivatedAt:     row.UpdatedAt,
		DurationMinutes: now.Sub(row.UpdatedAt).Minutes(),
	}, nil
}

// ScheduleHistory returns recent schedule transitions for a device.
func (s *Store) ScheduleHistory(ctx context.Context, deviceID DeviceID, start, end time.Time, limit int) ([]ScheduleOverride, error) {
	rows, err := s.schedule.History(ctx, deviceID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("override: schedule history for %s: %w", deviceID, err)
	}
	return rows, nil
}
