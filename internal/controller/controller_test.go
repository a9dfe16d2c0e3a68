package controller

import (
	"context"
	"testing"
	"time"

	"github.com/richowen/battery-controller/internal/adapter"
	"github.com/richowen/battery-controller/internal/api"
	"github.com/richowen/battery-controller/internal/bridge"
	"github.com/richowen/battery-controller/internal/config"
	"github.com/richowen/battery-controller/internal/override"
	"github.com/richowen/battery-controller/internal/solarforecast"
	"github.com/richowen/battery-controller/internal/storage"
	"github.com/richowen/battery-controller/internal/tariff"
)

type fakeTariffRepo struct {
	points map[time.Time]tariff.PricePoint
}

func newFakeTariffRepo() *fakeTariffRepo {
	return &fakeTariffRepo{points: make(map[time.Time]tariff.PricePoint)}
}

func (f *fakeTariffRepo) UpsertPoints(ctx context.Context, points []tariff.PricePoint) error {
	for _, p := range points {
		f.points[p.ValidFrom.UTC()] = p
	}
	return nil
}

func (f *fakeTariffRepo) GetWindow(ctx context.Context, start, end time.Time) ([]tariff.PricePoint, error) {
	var out []tariff.PricePoint
	for _, p := range f.points {
		if !p.ValidFrom.Before(start) && !p.ValidFrom.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeTariffRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeManualRepo struct{ rows []override.ManualOverride }

func (f *fakeManualRepo) Set(ctx context.Context, deviceID override.DeviceID, desiredState bool, source string, createdAt, expiresAt time.Time) (override.ManualOverride, error) {
	for i := range f.rows {
		if f.rows[i].DeviceID == deviceID {
			f.rows[i].IsActive = false
		}
	}
	row := override.ManualOverride{DeviceID: deviceID, IsActive: true, DesiredState: desiredState, Source: source, CreatedAt: createdAt, ExpiresAt: expiresAt}
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeManualRepo) Clear(ctx context.Context, deviceID override.DeviceID, clearedBy string, now time.Time) (int, error) {
	n := 0
	for i := range f.rows {
		if f.rows[i].DeviceID == deviceID && f.rows[i].IsActive {
			f.rows[i].IsActive = false
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
			n++
		}
	}
	return n, nil
}

func (f *fakeManualRepo) ActiveRow(ctx context.Context, deviceID override.DeviceID, now time.Time) (*override.ManualOverride, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].DeviceID == deviceID && f.rows[i].IsActive && f.rows[i].ExpiresAt.After(now) {
			row := f.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeManualRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) { return 0, nil }

type fakeScheduleRepo struct{ rows map[override.DeviceID]override.ScheduleOverride }

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{rows: make(map[override.DeviceID]override.ScheduleOverride)}
}

func (f *fakeScheduleRepo) Report(ctx context.Context, deviceID override.DeviceID, isActive bool, reason string, at time.Time) error {
	f.rows[deviceID] = override.ScheduleOverride{DeviceID: deviceID, IsActive: isActive, Reason: reason, UpdatedAt: at}
	return nil
}

func (f *fakeScheduleRepo) Get(ctx context.Context, deviceID override.DeviceID) (*override.ScheduleOverride, error) {
	row, ok := f.rows[deviceID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeScheduleRepo) History(ctx context.Context, deviceID override.DeviceID, start, end time.Time, limit int) ([]override.ScheduleOverride, error) {
	return nil, nil
}

type fakeRecommendationRepo struct{ saved []storage.RecommendationRecord }

func (f *fakeRecommendationRepo) Save(ctx context.Context, rec storage.RecommendationRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeRecommendationRepo) Latest(ctx context.Context) (*storage.RecommendationRecord, error) {
	if len(f.saved) == 0 {
		return nil, nil
	}
	rec := f.saved[len(f.saved)-1]
	return &rec, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.HorizonSteps = 4
	cfg.SOCGridSteps = 20
	cfg.ChargeLevels = 2
	cfg.DischargeLevels = 2
	cfg.SolverTimeout = 200 * time.Millisecond
	return cfg
}

func newTestController(t *testing.T) (*Controller, *fakeTariffRepo, *fakeManualRepo) {
	t.Helper()
	cfg := testConfig()

	tariffRepo := newFakeTariffRepo()
	manualRepo := &fakeManualRepo{}
	scheduleRepo := newFakeScheduleRepo()

	tariffStore := tariff.New(tariffRepo, cfg.TariffRetentionDays, nil)
	overrideStore := override.New(manualRepo, scheduleRepo, cfg.ManualDefaultDuration, cfg.ManualMaxDuration, cfg.ScheduleStaleThreshold, nil)
	adapterInstance := adapter.New(&bridge.StaticBridge{SoC: 60, SolarKW: 1.5}, cfg.AdapterReadTimeout, cfg.AdapterStaleSnapshot, nil)

	base := time.Now().UTC().Truncate(30 * time.Minute)
	now := base
	tariffStore.SetClock(func() time.Time { return now })
	overrideStore.SetClock(func() time.Time { return now })

	points := make([]tariff.RawPoint, cfg.HorizonSteps)
	for i := range points {
		from := base.Add(time.Duration(i) * 30 * time.Minute)
		points[i] = tariff.RawPoint{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), UnitPrice: 10}
	}
	if _, err := tariffStore.Ingest(context.Background(), points); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	ctl := New(cfg, Deps{
		Tariff:          tariffStore,
		Override:        overrideStore,
		Adapter:         adapterInstance,
		Recommendations: &fakeRecommendationRepo{},
		SolarBuilder:    &solarforecast.Builder{Latitude: 51.5, Longitude: -0.1, CapacityKW: cfg.SolarCapacityKW},
		Health:          fakePinger{},
		Logger:          nil,
	})

	return ctl, tariffRepo, manualRepo
}

func TestControllerNowProducesRecommendation(t *testing.T) {
	ctl, _, _ := newTestController(t)

	rec, err := ctl.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if len(rec.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(rec.Devices))
	}
	if rec.OptimizationStatus == "" {
		t.Fatalf("expected a non-empty optimization status")
	}
}

func TestControllerNowFallsBackWithoutTariffData(t *testing.T) {
	cfg := testConfig()
	tariffStore := tariff.New(newFakeTariffRepo(), cfg.TariffRetentionDays, nil)
	overrideStore := override.New(&fakeManualRepo{}, newFakeScheduleRepo(), cfg.ManualDefaultDuration, cfg.ManualMaxDuration, cfg.ScheduleStaleThreshold, nil)
	adapterInstance := adapter.New(&bridge.StaticBridge{SoC: 60}, cfg.AdapterReadTimeout, cfg.AdapterStaleSnapshot, nil)

	ctl := New(cfg, Deps{
		Tariff:          tariffStore,
		Override:        overrideStore,
		Adapter:         adapterInstance,
		Recommendations: &fakeRecommendationRepo{},
		SolarBuilder:    &solarforecast.Builder{Latitude: 51.5, Longitude: -0.1, CapacityKW: cfg.SolarCapacityKW},
		Health:          fakePinger{},
	})

	rec, err := ctl.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if rec.OptimizationStatus != "fallback" {
		t.Fatalf("expected fallback status without tariff data, got %q", rec.OptimizationStatus)
	}
}

func TestManualOverrideAdapterSetAppliesThroughResolver(t *testing.T) {
	ctl, _, _ := newTestController(t)
	deps := ctl.Dependencies()

	if _, err := deps.ManualOverride.Set(context.Background(), api.ManualOverrideSet{DeviceID: "main", DesiredState: true, DurationHours: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec, err := deps.Recommendation.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if !rec.ManualOverrideActive {
		t.Fatalf("expected manual override to be reflected as active")
	}

	var mainDevice *api.DeviceDecision
	for i := range rec.Devices {
		if rec.Devices[i].DeviceID == "main" {
			mainDevice = &rec.Devices[i]
		}
	}
	if mainDevice == nil || !mainDevice.Desired || mainDevice.Source != "manual_override" {
		t.Fatalf("expected main device resolved from manual override, got %+v", mainDevice)
	}
}

func TestHealthyReflectsPinger(t *testing.T) {
	ctl, _, _ := newTestController(t)
	if !ctl.Healthy(context.Background()) {
		t.Fatalf("expected healthy with a working pinger")
	}
}
