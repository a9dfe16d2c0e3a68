// Package solarforecast builds a per-step solar generation forecast
// for the optimiser's horizon by combining a clear-sky altitude
// envelope (github.com/sixdouglas/suncalc) with MET Norway cloud
// coverage damping (internal/meteo), then anchoring the near-term
// steps to what the bridge is actually measuring right now.
package solarforecast

import (
	"context"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/richowen/battery-controller/internal/meteo"
)

// Horizon is a built per-step solar forecast in kWh, aligned to the
// optimiser's step grid starting at Horizon.Start.
type Horizon struct {
	Start        time.Time
	StepDuration time.Duration
	StepsKWh     []float64
}

// RemainingTodayKWh sums every step whose midpoint falls on the same
// calendar day as now (bridge.ForecastSource).
func (h Horizon) RemainingTodayKWh(now time.Time) (float64, error) {
	var total float64
	for i, kwh := range h.StepsKWh {
		mid := h.Start.Add(time.Duration(i)*h.StepDuration + h.StepDuration/2)
		if mid.Before(now) {
			continue
		}
		if mid.Year() == now.Year() && mid.YearDay() == now.YearDay() {
			total += kwh
		}
	}
	return total, nil
}

// NextHourKWh sums the steps whose midpoint falls within the next
// hour of now (bridge.ForecastSource).
func (h Horizon) NextHourKWh(now time.Time) (float64, error) {
	end := now.Add(time.Hour)
	var total float64
	for i, kwh := range h.StepsKWh {
		mid := h.Start.Add(time.Duration(i)*h.StepDuration + h.StepDuration/2)
		if !mid.Before(now) && mid.Before(end) {
			total += kwh
		}
	}
	return total, nil
}

// Builder constructs Horizons for a fixed site.
type Builder struct {
	Latitude    float64
	Longitude   float64
	CapacityKW  float64
	WeatherFunc func(ctx context.Context) (*meteo.METJSONForecast, error)
}

// BuildHorizon produces steps forecast steps of stepDuration starting
// at start. currentSolarKW, if non-nil, anchors the forecast: the
// whole series is scaled so its first step matches what the bridge is
// measuring right now, keeping the near-term recommendation consistent
// with the live reading even when the clear-sky/cloud model is off.
func (b *Builder) BuildHorizon(ctx context.Context, start time.Time, stepDuration time.Duration, steps int, currentSolarKW *float64) (Horizon, error) {
	var forecast *meteo.METJSONForecast
	if b.WeatherFunc != nil {
		f, err := b.WeatherFunc(ctx)
		if err == nil {
			forecast = f
		}
		// A failed weather fetch degrades to the undamped clear-sky
		// envelope rather than failing the whole horizon build (spec
		// §4.2's "missing coverage is not fatal" principle, applied
		// here to weather rather than tariff data).
	}

	stepHours := stepDuration.Hours()
	stepsKWh := make([]float64, steps)

	for i := 0; i < steps; i++ {
		mid := start.Add(time.Duration(i)*stepDuration + stepDuration/2)
		stepsKWh[i] = b.clearSkyStepKWh(mid, stepHours) * b.dampingAt(forecast, mid)
	}

	if currentSolarKW != nil && len(stepsKWh) > 0 {
		clearSkyNow := b.clearSkyStepKWh(start.Add(stepDuration/2), stepHours) * b.dampingAt(forecast, start.Add(stepDuration/2))
		if clearSkyNow > 1e-6 {
			ratio := (*currentSolarKW * stepHours) / clearSkyNow
			if ratio > 0.05 && ratio < 20 {
				for i := range stepsKWh {
					stepsKWh[i] *= ratio
				}
			}
		}
	}

	return Horizon{Start: start, StepDuration: stepDuration, StepsKWh: stepsKWh}, nil
}

// clearSkyStepKWh estimates generation for one step from solar
// altitude alone: sin(altitude) scaled to the array's rated capacity,
// zero below the horizon.
func (b *Builder) clearSkyStepKWh(mid time.Time, stepHours float64) float64 {
	pos := suncalc.GetPosition(mid, b.Latitude, b.Longitude)
	if pos.Altitude <= 0 {
		return 0
	}
	powerKW := b.CapacityKW * math.Sin(pos.Altitude)
	if powerKW < 0 {
		powerKW = 0
	}
	if powerKW > b.CapacityKW {
		powerKW = b.CapacityKW
	}
	return powerKW * stepHours
}

func (b *Builder) dampingAt(forecast *meteo.METJSONForecast, mid time.Time) float64 {
	if forecast == nil {
		return 1.0
	}
	step := forecast.GetWeatherAtTime(mid)
	if step == nil {
		return 1.0
	}
	coverage := step.GetCloudCoverage()
	if coverage == nil {
		return 1.0
	}
	return meteo.SolarDampingFactor(*coverage)
}

// DayEnvelope reports today's sunrise/sunset as suncalc computes them.
// Nothing in this module calls it.
func DayEnvelope(at time.Time, latitude, longitude float64) (sunrise, sunset time.Time) {
	times := suncalc.GetTimes(at, latitude, longitude)
	return times["sunrise"], times["sunset"]
}
