package solarforecast

import (
	"context"
	"testing"
	"time"
)

func TestBuildHorizonZeroAtNight(t *testing.T) {
	b := &Builder{Latitude: 51.5072, Longitude: -0.1276, CapacityKW: 8}
	midnight := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	horizon, err := b.BuildHorizon(context.Background(), midnight, 30*time.Minute, 2, nil)
	if err != nil {
		t.Fatalf("BuildHorizon: %v", err)
	}
	for i, kwh := range horizon.StepsKWh {
		if kwh != 0 {
			t.Fatalf("expected 0 kWh at night, step %d got %.4f", i, kwh)
		}
	}
}

func TestBuildHorizonPositiveAtMidday(t *testing.T) {
	b := &Builder{Latitude: 51.5072, Longitude: -0.1276, CapacityKW: 8}
	midday := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

	horizon, err := b.BuildHorizon(context.Background(), midday, 30*time.Minute, 1, nil)
	if err != nil {
		t.Fatalf("BuildHorizon: %v", err)
	}
	if horizon.StepsKWh[0] <= 0 {
		t.Fatalf("expected positive generation at midsummer midday, got %.4f", horizon.StepsKWh[0])
	}
}

func TestBuildHorizonAnchorsToCurrentReading(t *testing.T) {
	b := &Builder{Latitude: 51.5072, Longitude: -0.1276, CapacityKW: 8}
	midday := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

	unanchored, err := b.BuildHorizon(context.Background(), midday, 30*time.Minute, 1, nil)
	if err != nil {
		t.Fatalf("BuildHorizon: %v", err)
	}

	measured := unanchored.StepsKWh[0] * 2 / 0.5 // double the clear-sky estimate, expressed as kW
	anchored, err := b.BuildHorizon(context.Background(), midday, 30*time.Minute, 1, &measured)
	if err != nil {
		t.Fatalf("BuildHorizon anchored: %v", err)
	}

	if anchored.StepsKWh[0] <= unanchored.StepsKWh[0] {
		t.Fatalf("expected anchored forecast to scale up: unanchored=%.4f anchored=%.4f", unanchored.StepsKWh[0], anchored.StepsKWh[0])
	}
}

func TestHorizonRemainingTodayAndNextHour(t *testing.T) {
	start := time.Date(2026, 6, 21, 10, 0, 0, 0, time.UTC)
	h := Horizon{
		Start:        start,
		StepDuration: 30 * time.Minute,
		StepsKWh:     []float64{1, 2, 3, 4},
	}

	remaining, err := h.RemainingTodayKWh(start)
	if err != nil {
		t.Fatalf("RemainingTodayKWh: %v", err)
	}
	if remaining != 10 {
		t.Fatalf("expected all 4 steps to count, got %.1f", remaining)
	}

	nextHour, err := h.NextHourKWh(start)
	if err != nil {
		t.Fatalf("NextHourKWh: %v", err)
	}
	if nextHour != 3 {
		t.Fatalf("expected first 2 steps (1+2) within the next hour, got %.1f", nextHour)
	}
}
