package override

import (
	"context"
	"testing"
	"time"
)

// fakeManualRepo mimics the atomic deactivate-then-insert transaction
// described in spec §4.3 in plain memory, for unit-testing the Store
// without a database.
type fakeManualRepo struct {
	nextID int64
	rows   []ManualOverride
}

func (f *fakeManualRepo) Set(ctx context.Context, deviceID DeviceID, desiredState bool, source string, createdAt, expiresAt time.Time) (ManualOverride, error) {
	for i := range f.rows {
		if f.rows[i].DeviceID == deviceID && f.rows[i].IsActive {
			f.rows[i].IsActive = false
			cleared := createdAt
			clearedBy := "system_replaced"
			f.rows[i].ClearedAt = &cleared
			f.rows[i].ClearedBy = &clearedBy
		}
	}
	f.nextID++
	row := ManualOverride{
		ID:           f.nextID,
		DeviceID:     deviceID,
		IsActive:     true,
		DesiredState: desiredState,
		Source:       source,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeManualRepo) Clear(ctx context.Context, deviceID DeviceID, clearedBy string, now time.Time) (int, error) {
	n := 0
	for i := range f.rows {
		if f.rows[i].DeviceID == deviceID && f.rows[i].IsActive {
			f.rows[i].IsActive = false
			cleared := now
			by := clearedBy
			f.rows[i].ClearedAt = &cleared
			f.rows[i].ClearedBy = &by
			n++
		}
	}
	return n, nil
}

func (f *fakeManualRepo) ClearAll(ctx context.Context, clearedBy string, now time.Time) (int, error) {
	n := 0
	for i := range f.rows {
		if f.rows[i].IsActive {
			f.rows[i].IsActive = false
			cleared := now
			by := clearedBy
			f.rows[i].ClearedAt = &cleared
			f.rows[i].ClearedBy = &by
			n++
		}
	}
	return n, nil
}

func (f *fakeManualRepo) ActiveRow(ctx context.Context, deviceID DeviceID, now time.Time) (*ManualOverride, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		row := f.rows[i]
		if row.DeviceID == deviceID && row.IsActive && row.ExpiresAt.After(now) {
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeManualRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for i := range f.rows {
		if f.rows[i].IsActive && !f.rows[i].ExpiresAt.After(now) {
			f.rows[i].IsActive = false
			cleared := now
			by := "system_expiry"
			f.rows[i].ClearedAt = &cleared
			f.rows[i].ClearedBy = &by
			n++
		}
	}
	return n, nil
}

type fakeScheduleRepo struct {
	rows map[DeviceID]ScheduleOverride
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{rows: make(map[DeviceID]ScheduleOverride)}
}

func (f *fakeScheduleRepo) Report(ctx context.Context, deviceID DeviceID, isActive bool, reason string, at time.Time) error {
	row := f.rows[deviceID]
	row.DeviceID = deviceID
	row.IsActive = isActive
	row.Reason = reason
	row.UpdatedAt = at
	if !isActive {
		deactivated := at
		row.DeactivatedAt = &deactivated
	}
	f.rows[deviceID] = row
	return nil
}

func (f *fakeScheduleRepo) Get(ctx context.Context, deviceID DeviceID) (*ScheduleOverride, error) {
	row, ok := f.rows[deviceID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeScheduleRepo) History(ctx context.Context, deviceID DeviceID, start, end time.Time, limit int) ([]ScheduleOverride, error) {
	row, ok := f.rows[deviceID]
	if !ok {
		return nil, nil
	}
	return []ScheduleOverride{row}, nil
}

func TestSetManualOverrideSupersedesPriorActive(t *testing.T) {
	repo := &fakeManualRepo{}
	store := New(repo, newFakeScheduleRepo(), 2*time.Hour, 24*time.Hour, 5*time.Minute, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	if _, err := store.SetManualOverride(context.Background(), DeviceMain, true, 0, "user"); err != nil {
		t.Fatalf("SetManualOverride: %v", err)
	}
	if _, err := store.SetManualOverride(context.Background(), DeviceMain, false, 0, "dashboard"); err != nil {
		t.Fatalf("SetManualOverride: %v", err)
	}

	active := 0
	for _, row := range repo.rows {
		if row.DeviceID == DeviceMain && row.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active row for device, got %d", active)
	}

	status, err := store.ManualStatus(context.Background(), DeviceMain)
	if err != nil {
		t.Fatalf("ManualStatus: %v", err)
	}
	if !status.IsActive || status.DesiredState != false || status.Source != "dashboard" {
		t.Fatalf("unexpected status after supersede: %+v", status)
	}
}

func TestManualOverrideDurationClampedToMax(t *testing.T) {
	repo := &fakeManualRepo{}
	store := New(repo, newFakeScheduleRepo(), 2*time.Hour, 6*time.Hour, 5*time.Minute, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	row, err := store.SetManualOverride(context.Background(), DeviceLucy, true, 48*time.Hour, "user")
	if err != nil {
		t.Fatalf("SetManualOverride: %v", err)
	}
	if row.ExpiresAt.Sub(base) != 6*time.Hour {
		t.Fatalf("expected duration clamped to 6h, got %s", row.ExpiresAt.Sub(base))
	}
}

func TestClearManualOverrideIsIdempotent(t *testing.T) {
	repo := &fakeManualRepo{}
	store := New(repo, newFakeScheduleRepo(), 2*time.Hour, 24*time.Hour, 5*time.Minute, nil)

	n, err := store.ClearManualOverride(context.Background(), DeviceMain, "user")
	if err != nil {
		t.Fatalf("ClearManualOverride: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 cleared when nothing active, got %d", n)
	}
}

func TestExpiryWorkerDeactivatesDueOverrides(t *testing.T) {
	repo := &fakeManualRepo{}
	store := New(repo, newFakeScheduleRepo(), 2*time.Hour, 24*time.Hour, 5*time.Minute, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	if _, err := store.SetManualOverride(context.Background(), DeviceMain, true, time.Minute, "user"); err != nil {
		t.Fatalf("SetManualOverride: %v", err)
	}

	store.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	n, err := store.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired override, got %d", n)
	}

	status, err := store.ManualStatus(context.Background(), DeviceMain)
	if err != nil {
		t.Fatalf("ManualStatus: %v", err)
	}
	if status.IsActive {
		t.Fatalf("expected override to be inactive after expiry tick")
	}
}

func TestScheduleStatusGoesStaleWithoutHeartbeat(t *testing.T) {
	repo := newFakeScheduleRepo()
	store := New(&fakeManualRepo{}, repo, 2*time.Hour, 24*time.Hour, 5*time.Minute, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	if err := store.ReportSchedule(context.Background(), DeviceMain, true, "heat now", base); err != nil {
		t.Fatalf("ReportSchedule: %v", err)
	}

	status, err := store.ScheduleStatus(context.Background(), DeviceMain)
	if err != nil {
		t.Fatalf("ScheduleStatus: %v", err)
	}
	if !status.IsActive {
		t.Fatalf("expected active schedule status right after heartbeat")
	}

	store.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	status, err = store.ScheduleStatus(context.Background(), DeviceMain)
	if err != nil {
		t.Fatalf("ScheduleStatus: %v", err)
	}
	if status.IsActive {
		t.Fatalf("expected stale schedule status to report inactive")
	}
}
