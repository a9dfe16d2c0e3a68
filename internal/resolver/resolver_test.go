package resolver

import (
	"testing"

	"github.com/richowen/battery-controller/internal/override"
)

func TestResolveManualOverrideWins(t *testing.T) {
	suggestions := []ImmersionSuggestion{{DeviceID: override.DeviceMain, On: false, Reason: "no immersion condition met"}}
	manual := map[override.DeviceID]override.ManualStatus{
		override.DeviceMain: {IsActive: true, DesiredState: true, TimeRemainingMinutes: 42},
	}
	schedule := map[override.DeviceID]override.ScheduleStatus{
		override.DeviceMain: {IsActive: true, Reason: "heat now"},
	}

	result := Resolve(suggestions, manual, schedule)

	if len(result.Devices) != 1 {
		t.Fatalf("expected 1 device decision, got %d", len(result.Devices))
	}
	d := result.Devices[0]
	if d.Source != SourceManualOverride || !d.Desired {
		t.Fatalf("expected manual override to win, got %+v", d)
	}
	if !result.ManualOverrideActive || result.ScheduleOverrideActive {
		t.Fatalf("expected only ManualOverrideActive, got %+v", result)
	}
}

func TestResolveScheduleOverrideWinsWithoutManual(t *testing.T) {
	suggestions := []ImmersionSuggestion{{DeviceID: override.DeviceLucy, On: false, Reason: "no immersion condition met"}}
	schedule := map[override.DeviceID]override.ScheduleStatus{
		override.DeviceLucy: {IsActive: true, Reason: "heat now"},
	}

	result := Resolve(suggestions, nil, schedule)

	d := result.Devices[0]
	if d.Source != SourceScheduleOverride || !d.Desired || d.Reason != "heat now" {
		t.Fatalf("expected schedule override to win, got %+v", d)
	}
	if result.ManualOverrideActive || !result.ScheduleOverrideActive {
		t.Fatalf("expected only ScheduleOverrideActive, got %+v", result)
	}
}

func TestResolveFallsThroughToOptimizer(t *testing.T) {
	suggestions := []ImmersionSuggestion{{DeviceID: override.DeviceMain, On: true, Reason: "high solar"}}

	result := Resolve(suggestions, nil, nil)

	d := result.Devices[0]
	if d.Source != SourceOptimizer || !d.Desired || d.Reason != "high solar" {
		t.Fatalf("expected optimizer suggestion to pass through, got %+v", d)
	}
	if result.ManualOverrideActive || result.ScheduleOverrideActive {
		t.Fatalf("expected no override flags set, got %+v", result)
	}
}

func TestResolveIndependentPerDevice(t *testing.T) {
	suggestions := []ImmersionSuggestion{
		{DeviceID: override.DeviceMain, On: false, Reason: "no immersion condition met"},
		{DeviceID: override.DeviceLucy, On: true, Reason: "cheap price"},
	}
	manual := map[override.DeviceID]override.ManualStatus{
		override.DeviceMain: {IsActive: true, DesiredState: true, TimeRemainingMinutes: 10},
	}

	result := Resolve(suggestions, manual, nil)

	if result.Devices[0].Source != SourceManualOverride {
		t.Fatalf("expected main device to use manual override, got %+v", result.Devices[0])
	}
	if result.Devices[1].Source != SourceOptimizer {
		t.Fatalf("expected lucy device to fall through to optimizer, got %+v", result.Devices[1])
	}
}
