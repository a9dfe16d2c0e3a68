package controller

import (
	"context"
	"time"

	"github.com/richowen/battery-controller/internal/adapter"
	"github.com/richowen/battery-controller/internal/api"
	"github.com/richowen/battery-controller/internal/optimizer"
	"github.com/richowen/battery-controller/internal/override"
	"github.com/richowen/battery-controller/internal/resolver"
	"github.com/richowen/battery-controller/internal/solarforecast"
	"github.com/richowen/battery-controller/internal/storage"
	"github.com/richowen/battery-controller/internal/tariff"
)

// Now implements api.RecommendationService: build the optimiser input
// from the current tariff window, solar horizon, flat load profile,
// and live system state, solve, resolve device overrides on top, and
// persist the result as an audit row.
func (c *Controller) Now(ctx context.Context) (api.Recommendation, error) {
	now := time.Now().UTC()
	stepDuration := 30 * time.Minute
	steps := c.cfg.HorizonSteps

	state, err := c.adapter.Snapshot(ctx)
	if err != nil {
		return c.fallbackRecommendation(now, "fallback: adapter unreachable"), nil
	}

	window, err := c.tariff.GetWindow(ctx, now, now.Add(time.Duration(steps)*stepDuration))
	if err != nil || len(window) == 0 {
		return c.fallbackRecommendation(now, "fallback: no tariff data"), nil
	}

	horizon := c.latestHorizon
	if len(horizon.StepsKWh) == 0 {
		built, err := c.buildHorizon(ctx, now)
		if err != nil {
			return c.fallbackRecommendation(now, "fallback: solar forecast unavailable"), nil
		}
		horizon = built
	}

	in := c.buildOptimizerInput(now, stepDuration, steps, state, window, horizon)
	decision := optimizer.Solve(in)

	suggestions := []resolver.ImmersionSuggestion{
		{DeviceID: override.DeviceMain, On: decision.ImmersionOn, Reason: decision.ImmersionReason},
		{DeviceID: override.DeviceLucy, On: decision.ImmersionOn, Reason: decision.ImmersionReason},
	}

	manualStatus, err := c.allManualStatus(ctx)
	if err != nil {
		c.logger.Printf("controller: manual status lookup failed, treating as inactive: %v", err)
		manualStatus = map[override.DeviceID]override.ManualStatus{}
	}
	scheduleStatus, err := c.allScheduleStatus(ctx)
	if err != nil {
		c.logger.Printf("controller: schedule status lookup failed, treating as inactive: %v", err)
		scheduleStatus = map[override.DeviceID]override.ScheduleStatus{}
	}

	resolved := resolver.Resolve(suggestions, manualStatus, scheduleStatus)
	rec := toRecommendation(now, decision, resolved)

	if err := c.persistRecommendation(ctx, rec); err != nil {
		c.logger.Printf("controller: persist recommendation failed: %v", err)
	}

	return rec, nil
}

// buildOptimizerInput aligns the tariff window and solar horizon onto
// one step grid starting now, filling any missing step with the
// configured flat load baseline and a zero solar estimate (spec §4.4
// "Inputs": an absent per-step forecast falls back to the baseline).
func (c *Controller) buildOptimizerInput(now time.Time, stepDuration time.Duration, steps int, state adapter.SystemState, window []tariff.PricePoint, horizon solarforecast.Horizon) optimizer.Input {
	importPrices := make([]float64, steps)
	exportPrices := make([]float64, steps)
	classifications := make([]tariff.Classification, steps)
	solar := make([]float64, steps)
	load := make([]float64, steps)

	// The cached horizon may have been built before now; skip the steps
	// it holds for time that has already passed.
	offset := 0
	if horizon.StepDuration > 0 && now.After(horizon.Start) {
		offset = int(now.Sub(horizon.Start) / horizon.StepDuration)
	}

	for i := 0; i < steps; i++ {
		stepStart := now.Add(time.Duration(i) * stepDuration)

		importPrices[i] = priceAt(window, stepStart)
		exportPrices[i] = c.cfg.ExportPricePerKWh
		classifications[i] = classificationAt(window, stepStart)
		load[i] = c.cfg.LoadProfileKWhPerStep
		if j := i + offset; j < len(horizon.StepsKWh) {
			solar[i] = horizon.StepsKWh[j]
		}
	}

	minTerminal := c.cfg.MinTerminalSOCPercent
	if minTerminal <= 0 {
		minTerminal = c.cfg.BatteryMinSOCPercent
	}

	return optimizer.Input{
		StepDuration:      stepDuration,
		CurrentSOCPercent: state.BatterySoCPercent,

		ImportPricePerKWh: importPrices,
		ExportPricePerKWh: exportPrices,
		Classifications:   classifications,
		SolarForecastKWh:  solar,
		LoadForecastKWh:   load,

		Battery: optimizer.BatteryParams{
			CapacityKWh:                   c.cfg.BatteryCapacityKWh,
			MaxChargeKW:                   c.cfg.BatteryMaxChargeKW,
			MaxDischargeKW:                c.cfg.BatteryMaxDischargeKW,
			Efficiency:                    c.cfg.BatteryEfficiency,
			MinSOCPercent:                 c.cfg.BatteryMinSOCPercent,
			MaxSOCPercent:                 c.cfg.BatteryMaxSOCPercent,
			MinTerminalSOCPercent:         minTerminal,
			DesiredEndOfHorizonSOCPercent: c.cfg.DesiredEndOfHorizonSOCPercent,
		},
		Decode: optimizer.DecodeThresholds{
			HighSolarKW:               c.cfg.ImmersionHighSolarKW,
			ImmersionNegativePriceSOC: c.cfg.ImmersionNegativePriceSOC,
			ImmersionCheapSOC:         c.cfg.ImmersionCheapSOC,
			ImmersionHighSolarSOC:     c.cfg.ImmersionHighSolarSOC,
			DefaultDischargeCurrentA:  c.cfg.DefaultDischargeCurrentA,
			MaxDischargeCurrentA:      c.cfg.MaxDischargeCurrentA,
		},

		SolverTimeout:   c.cfg.SolverTimeout,
		SOCGridSteps:    c.cfg.SOCGridSteps,
		ChargeLevels:    c.cfg.ChargeLevels,
		DischargeLevels: c.cfg.DischargeLevels,
	}
}

// priceAt returns the import price of the window step covering at, or
// the last known price if at falls past the end of the window.
func priceAt(window []tariff.PricePoint, at time.Time) float64 {
	for _, p := range window {
		if !at.Before(p.ValidFrom) && at.Before(p.ValidTo) {
			return p.UnitPrice
		}
	}
	if len(window) > 0 {
		return window[len(window)-1].UnitPrice
	}
	return 0
}

func classificationAt(window []tariff.PricePoint, at time.Time) tariff.Classification {
	for _, p := range window {
		if !at.Before(p.ValidFrom) && at.Before(p.ValidTo) {
			return p.Classification
		}
	}
	return tariff.Normal
}

func (c *Controller) persistRecommendation(ctx context.Context, rec api.Recommendation) error {
	devices := make([]storage.RecommendationDevice, len(rec.Devices))
	for i, d := range rec.Devices {
		devices[i] = storage.RecommendationDevice{DeviceID: d.DeviceID, Desired: d.Desired, Source: d.Source, Reason: d.Reason}
	}
	return c.recommendationRepo.Save(ctx, storage.RecommendationRecord{
		Timestamp:            rec.Timestamp,
		BatteryMode:          rec.Mode,
		DischargeCurrentAmps: rec.DischargeCurrentAmps,
		OptimizationStatus:   rec.OptimizationStatus,
		SolverElapsedMS:      rec.OptimizationTimeMS,
		ExpectedSOCPercent:   rec.ExpectedSOCPercent,
		Devices:              devices,
	})
}

func (c *Controller) fallbackRecommendation(now time.Time, reason string) api.Recommendation {
	devices := make([]api.DeviceDecision, 0, len(override.Devices))
	for _, id := range override.Devices {
		devices = append(devices, api.DeviceDecision{DeviceID: string(id), Desired: false, Source: string(resolver.SourceOptimizer), Reason: reason})
	}
	return api.Recommendation{
		Timestamp:            now,
		Mode:                 string(optimizer.ModeSelfUse),
		DischargeCurrentAmps: c.cfg.DefaultDischargeCurrentA,
		Devices:              devices,
		OptimizationStatus:   string(optimizer.StatusFallback),
	}
}

func toRecommendation(now time.Time, decision optimizer.Decision, resolved resolver.Result) api.Recommendation {
	devices := make([]api.DeviceDecision, len(resolved.Devices))
	for i, d := range resolved.Devices {
		devices[i] = api.DeviceDecision{DeviceID: string(d.DeviceID), Desired: d.Desired, Source: string(d.Source), Reason: d.Reason}
	}
	return api.Recommendation{
		Timestamp:              now,
		Mode:                   string(decision.Mode),
		DischargeCurrentAmps:   decision.DischargeCurrentAmps,
		Devices:                devices,
		OptimizationStatus:     string(decision.OptimizationStatus),
		ExpectedSOCPercent:     decision.ExpectedSOCPercent,
		OptimizationTimeMS:     float64(decision.SolverElapsed.Microseconds()) / 1000.0,
		ManualOverrideActive:   resolved.ManualOverrideActive,
		ScheduleOverrideActive: resolved.ScheduleOverrideActive,
	}
}
