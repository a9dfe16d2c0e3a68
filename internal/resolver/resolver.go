// Package resolver applies the three-tier device priority rule (spec
// §4.5). It is deliberately a pure, synchronous function with no I/O
// of its own: every input is a value already read by the caller, and
// the output is fully determined by those values.
package resolver

import (
	"fmt"

	"github.com/richowen/battery-controller/internal/override"
)

// SourceKind identifies which tier of the priority order produced a
// device's desired state.
type SourceKind string

const (
	SourceManualOverride   SourceKind = "manual_override"
	SourceScheduleOverride SourceKind = "schedule_override"
	SourceOptimizer        SourceKind = "optimizer"
)

// ImmersionSuggestion is the optimiser's pre-override immersion
// recommendation for one device (spec §4.4 immersion rule set).
type ImmersionSuggestion struct {
	DeviceID override.DeviceID
	On       bool
	Reason   string
}

// DeviceDecision is the resolved per-device output (spec §3
// Recommendation's per-device fields).
type DeviceDecision struct {
	DeviceID override.DeviceID
	Desired  bool
	Source   SourceKind
	Reason   string
}

// Result is the full resolved recommendation, battery fields excluded
// since those never vary by device (spec §4.5 "Battery mode and
// discharge current are never overridden by device overrides").
type Result struct {
	Devices                []DeviceDecision
	ManualOverrideActive   bool
	ScheduleOverrideActive bool
}

// Resolve applies the decision order per device: manual override,
// then schedule override, then the optimiser's own suggestion.
// suggestions, manualStatus, and scheduleStatus need not all cover the
// same devices; any device missing from manualStatus or
// scheduleStatus is treated as having no active override there.
func Resolve(suggestions []ImmersionSuggestion, manualStatus map[override.DeviceID]override.ManualStatus, scheduleStatus map[override.DeviceID]override.ScheduleStatus) Result {
	result := Result{Devices: make([]DeviceDecision, 0, len(suggestions))}

	for _, suggestion := range suggestions {
		decision := resolveDevice(suggestion, manualStatus[suggestion.DeviceID], scheduleStatus[suggestion.DeviceID])
		result.Devices = append(result.Devices, decision)

		switch decision.Source {
		case SourceManualOverride:
			result.ManualOverrideActive = true
		case SourceScheduleOverride:
			result.ScheduleOverrideActive = true
		}
	}

	return result
}

func resolveDevice(suggestion ImmersionSuggestion, manual override.ManualStatus, schedule override.ScheduleStatus) DeviceDecision {
	if manual.IsActive {
		return DeviceDecision{
			DeviceID: suggestion.DeviceID,
			Desired:  manual.DesiredState,
			Source:   SourceManualOverride,
			Reason:   fmt.Sprintf("Manual override (%.0f min remaining)", manual.TimeRemainingMinutes),
		}
	}

	if schedule.IsActive {
		return DeviceDecision{
			DeviceID: suggestion.DeviceID,
			Desired:  true,
			Source:   SourceScheduleOverride,
			Reason:   schedule.Reason,
		}
	}

	return DeviceDecision{
		DeviceID: suggestion.DeviceID,
		Desired:  suggestion.On,
		Source:   SourceOptimizer,
		Reason:   suggestion.Reason,
	}
}
