package meteo

import "time"

// GetWeatherAtTime returns the timeseries entry closest to targetTime.
// MET's compact forecast is stepped hourly near-term and more coarsely
// further out, so callers asking for a half-hourly optimizer step
// midpoint get the nearest entry rather than an exact match.
func (f *METJSONForecast) GetWeatherAtTime(targetTime time.Time) *ForecastTimeStep {
	if f == nil || f.Properties == nil || len(f.Properties.Timeseries) == 0 {
		return nil
	}

	var closest *ForecastTimeStep
	minDiff := time.Duration(1<<63 - 1)

	for i := range f.Properties.Timeseries {
		step := &f.Properties.Timeseries[i]
		diff := step.Time.Sub(targetTime)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = step
		}
	}
	return closest
}

// GetCloudCoverage returns the cloud area fraction (0-100) for this
// step, if MET reported one.
func (ts *ForecastTimeStep) GetCloudCoverage() *float64 {
	if ts == nil || ts.Data == nil || ts.Data.Instant == nil || ts.Data.Instant.Details == nil {
		return nil
	}
	return ts.Data.Instant.Details.CloudAreaFraction
}
