package meteo

import (
	"testing"
	"time"
)

func TestSolarDampingFactorClearSky(t *testing.T) {
	if f := SolarDampingFactor(0); f != 1.0 {
		t.Fatalf("expected clear sky factor 1.0, got %.2f", f)
	}
}

func TestSolarDampingFactorOvercastFloors(t *testing.T) {
	if f := SolarDampingFactor(100); f != 0.2 {
		t.Fatalf("expected overcast floor 0.2, got %.2f", f)
	}
}

func TestSolarDampingFactorMonotonicallyDecreasing(t *testing.T) {
	low := SolarDampingFactor(20)
	high := SolarDampingFactor(80)
	if high >= low {
		t.Fatalf("expected damping to decrease as cloud fraction increases: low=%.2f high=%.2f", low, high)
	}
}

func TestGetWeatherAtTimeNilForecast(t *testing.T) {
	f := (*METJSONForecast)(nil)
	if step := f.GetWeatherAtTime(time.Time{}); step != nil {
		t.Fatalf("expected nil step for nil forecast, got %v", step)
	}
}
