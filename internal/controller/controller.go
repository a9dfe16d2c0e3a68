// Package controller wires the domain packages (tariff, optimizer,
// override, resolver, adapter, solarforecast, storage) into the
// running service and exposes them through internal/api.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/richowen/battery-controller/internal/adapter"
	"github.com/richowen/battery-controller/internal/api"
	"github.com/richowen/battery-controller/internal/config"
	"github.com/richowen/battery-controller/internal/expiry"
	"github.com/richowen/battery-controller/internal/optimizer"
	"github.com/richowen/battery-controller/internal/override"
	"github.com/richowen/battery-controller/internal/resolver"
	"github.com/richowen/battery-controller/internal/solarforecast"
	"github.com/richowen/battery-controller/internal/storage"
	"github.com/richowen/battery-controller/internal/tariff"
	"github.com/richowen/battery-controller/internal/tariffclient"
	"github.com/richowen/battery-controller/internal/task"
)

// Controller owns every long-lived dependency and the periodic tasks
// that keep them current (spec §4.6).
type Controller struct {
	cfg *config.Config

	tariff      *tariff.Store
	priceSource tariffclient.Source
	override    *override.Store
	adapter     *adapter.Adapter
	horizons    *solarforecast.Builder
	health      Pinger

	recommendationRepo RecommendationRepo

	logger *log.Logger

	priceTask     *task.PeriodicTask
	recomputeTask *task.PeriodicTask
	solarTask     *task.PeriodicTask
	expiryWorker  *expiry.Worker

	latestHorizon solarforecast.Horizon
}

// Pinger reports whether a backing store is reachable, for the health
// endpoint. *storage.DB satisfies this.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecommendationRepo is the persistence seam for the recommendation
// audit log. *storage.RecommendationRepo satisfies this.
type RecommendationRepo interface {
	Save(ctx context.Context, rec storage.RecommendationRecord) error
	Latest(ctx context.Context) (*storage.RecommendationRecord, error)
}

// Deps bundles the already-constructed collaborators a Controller
// wires together. Building Tariff/Override/Adapter from their own
// repo interfaces (rather than handing the Controller a raw *sql.DB)
// keeps this package unit-testable with in-memory fakes.
type Deps struct {
	Tariff          *tariff.Store
	Override        *override.Store
	Adapter         *adapter.Adapter
	Recommendations RecommendationRepo
	PriceSource     tariffclient.Source
	SolarBuilder    *solarforecast.Builder
	Health          Pinger
	Logger          *log.Logger
}

// New assembles a Controller from cfg and deps.
func New(cfg *config.Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		cfg:                cfg,
		tariff:             deps.Tariff,
		priceSource:        deps.PriceSource,
		override:           deps.Override,
		adapter:            deps.Adapter,
		horizons:           deps.SolarBuilder,
		recommendationRepo: deps.Recommendations,
		health:             deps.Health,
		logger:             logger,
	}

	c.expiryWorker = expiry.New(c.override, cfg.ExpiryWorkerPeriod, logger)
	c.priceTask = task.New("price-refresh", 0, cfg.PriceRefreshInterval, c.refreshPricesTick, logger)
	c.recomputeTask = task.New("recompute", 0, cfg.RecomputeInterval, c.recomputeTick, logger)
	c.solarTask = task.New("solar-forecast-refresh", 0, cfg.SolarForecastRefreshInterval, c.solarForecastTick, logger)

	return c
}

// Run starts every periodic task and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	go c.priceTask.Run(ctx)
	go c.recomputeTask.Run(ctx)
	go c.solarTask.Run(ctx)
	go c.expiryWorker.Run(ctx)
	<-ctx.Done()
	c.priceTask.Stop()
	c.recomputeTask.Stop()
	c.solarTask.Stop()
	c.expiryWorker.Stop()
}

// Dependencies builds the api.Dependencies this Controller satisfies,
// for wiring into api.New. Schedule and ManualOverride are both
// exposed through a single Status(ctx) method name in internal/api, so
// they are wrapped in distinct adapter types rather than implemented
// directly on Controller.
func (c *Controller) Dependencies() api.Dependencies {
	return api.Dependencies{
		Tariff:         c,
		Recommendation: c,
		State:          c,
		Schedule:       scheduleAdapter{c},
		ManualOverride: manualOverrideAdapter{c},
		Health:         c,
		RequestTimeout: c.cfg.APIRequestTimeout,
	}
}

func (c *Controller) refreshPricesTick(ctx context.Context) {
	if _, _, err := c.RefreshPrices(ctx); err != nil {
		c.logger.Printf("controller: price refresh failed: %v", err)
	}
}

func (c *Controller) solarForecastTick(ctx context.Context) {
	now := time.Now().UTC()
	horizon, err := c.buildHorizon(ctx, now)
	if err != nil {
		c.logger.Printf("controller: solar forecast refresh failed: %v", err)
		return
	}
	c.latestHorizon = horizon
}

func (c *Controller) recomputeTick(ctx context.Context) {
	if _, err := c.Now(ctx); err != nil {
		c.logger.Printf("controller: periodic recompute failed: %v", err)
	}
}

func (c *Controller) buildHorizon(ctx context.Context, start time.Time) (solarforecast.Horizon, error) {
	stepDuration := 30 * time.Minute
	snapshot, err := c.adapter.Snapshot(ctx)
	var currentSolarKW *float64
	if err == nil {
		v := snapshot.SolarPowerKW
		currentSolarKW = &v
	}
	return c.horizons.BuildHorizon(ctx, start, stepDuration, c.cfg.HorizonSteps, currentSolarKW)
}

// RefreshPrices implements api.TariffService.
func (c *Controller) RefreshPrices(ctx context.Context) (tariff.IngestReport, tariff.PriceWindowStats, error) {
	if c.priceSource == nil {
		return tariff.IngestReport{}, tariff.PriceWindowStats{}, fmt.Errorf("controller: no tariff source configured")
	}
	now := time.Now().UTC()
	raw, err := c.priceSource.Fetch(ctx, now, now.Add(48*time.Hour))
	if err != nil {
		return tariff.IngestReport{}, tariff.PriceWindowStats{}, fmt.Errorf("controller: fetch prices: %w", err)
	}
	report, err := c.tariff.Ingest(ctx, raw)
	if err != nil {
		return report, tariff.PriceWindowStats{}, err
	}
	stats, err := c.tariff.Stats(ctx, now, now.Add(48*time.Hour))
	return report, stats, err
}

// Window implements api.TariffService.
func (c *Controller) Window(ctx context.Context, start, end time.Time) ([]tariff.PricePoint, error) {
	return c.tariff.GetWindow(ctx, start, end)
}

// Current implements api.StateService. adapter.ErrStale is not
// surfaced as a request failure here: the returned SystemState already
// carries Stale/DegradedConfidence for the caller to inspect, and the
// degraded reading itself is the useful response for this endpoint.
func (c *Controller) Current(ctx context.Context) (adapter.SystemState, error) {
	state, err := c.adapter.Snapshot(ctx)
	if errors.Is(err, adapter.ErrStale) {
		return state, nil
	}
	return state, err
}

// Healthy implements api.HealthService: the service is healthy as long
// as the database is reachable.
func (c *Controller) Healthy(ctx context.Context) bool {
	return c.health != nil && c.health.Ping(ctx) == nil
}

// allScheduleStatus aggregates ScheduleStatus across every known
// device.
func (c *Controller) allScheduleStatus(ctx context.Context) (map[override.DeviceID]override.ScheduleStatus, error) {
	out := make(map[override.DeviceID]override.ScheduleStatus, len(override.Devices))
	for _, id := range override.Devices {
		status, err := c.override.ScheduleStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, nil
}

// allManualStatus aggregates ManualStatus across every known device.
func (c *Controller) allManualStatus(ctx context.Context) (map[override.DeviceID]override.ManualStatus, error) {
	out := make(map[override.DeviceID]override.ManualStatus, len(override.Devices))
	for _, id := range override.Devices {
		status, err := c.override.ManualStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, nil
}

// scheduleAdapter implements api.ScheduleService; it exists because
// internal/api names both override surfaces' status lookup Status,
// which a single Go type cannot implement twice.
type scheduleAdapter struct{ c *Controller }

func (a scheduleAdapter) Update(ctx context.Context, update api.ScheduleUpdate) error {
	return a.c.override.ReportSchedule(ctx, override.DeviceID(update.DeviceID), update.IsActive, update.Reason, update.Timestamp)
}

func (a scheduleAdapter) Status(ctx context.Context) (map[override.DeviceID]override.ScheduleStatus, error) {
	return a.c.allScheduleStatus(ctx)
}

func (a scheduleAdapter) History(ctx context.Context, deviceID override.DeviceID, start, end time.Time, limit int) ([]override.ScheduleOverride, error) {
	return a.c.override.ScheduleHistory(ctx, deviceID, start, end, limit)
}

// manualOverrideAdapter implements api.ManualOverrideService.
type manualOverrideAdapter struct{ c *Controller }

func (a manualOverrideAdapter) Set(ctx context.Context, set api.ManualOverrideSet) (override.ManualOverride, error) {
	duration := time.Duration(set.DurationHours * float64(time.Hour))
	return a.c.override.SetManualOverride(ctx, override.DeviceID(set.DeviceID), set.DesiredState, duration, set.Source)
}

func (a manualOverrideAdapter) Status(ctx context.Context) (map[override.DeviceID]override.ManualStatus, error) {
	return a.c.allManualStatus(ctx)
}

func (a manualOverrideAdapter) Clear(ctx context.Context, deviceID override.DeviceID, clearedBy string) (int, error) {
	return a.c.override.ClearManualOverride(ctx, deviceID, clearedBy)
}

func (a manualOverrideAdapter) ClearAll(ctx context.Context, clearedBy string) (int, error) {
	return a.c.override.ClearAllManualOverrides(ctx, clearedBy)
}
