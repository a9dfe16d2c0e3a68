package optimizer

import (
	"fmt"
	"strings"

	"github.com/richowen/battery-controller/internal/tariff"
)

// epsilon absorbs floating point noise in the solved schedule when
// deciding whether a charge/discharge/export amount counts as "on".
const epsilon = 1e-6

// decode turns the solved full-horizon schedule into the current
// half-hour's Decision (spec §4.4 "Decoding rules" and "Immersion rule
// set"). Only step 0 of the schedule drives the decoded mode; the rest
// of the schedule is retained for audit.
func decode(in Input, schedule []StepResult, status Status) Decision {
	if len(schedule) == 0 {
		return fallbackDecision(in, 0, 0)
	}

	step0 := schedule[0]
	solar0 := flatOr(in.SolarForecastKWh, 0)
	classification0 := tariff.Classification("")
	if len(in.Classifications) > 0 {
		classification0 = in.Classifications[0]
	}

	mode, current := decodeMode(in.Decode, step0, classification0, solar0)
	immersionOn, reason := evaluateImmersionRules(in.Decode, in.CurrentSOCPercent, classification0, solar0)

	return Decision{
		Mode:                 mode,
		DischargeCurrentAmps: current,
		ExpectedSOCPercent:   step0.SOCPercent,
		OptimizationStatus:   status,
		ImmersionOn:          immersionOn,
		ImmersionReason:      reason,
		Schedule:             schedule,
	}
}

// decodeMode applies the ordered decoding rules. Force Charge and Force
// Discharge take precedence over the solved step's export/import split,
// since they reflect an explicit solver decision to move energy through
// the battery; any other solved step that nets export (whether or not
// it also charges or discharges) goes out as Feed-in First; everything
// else is Self Use.
func decodeMode(d DecodeThresholds, step StepResult, classification tariff.Classification, solar0 float64) (BatteryMode, int) {
	switch {
	case step.ChargeKWh > epsilon && (classification == tariff.Negative || classification == tariff.Cheap):
		return ModeForceCharge, 0

	case step.DischargeKWh > epsilon && classification == tariff.Expensive && solar0 < d.HighSolarKW:
		return ModeForceDischarge, d.MaxDischargeCurrentA

	case step.ExportKWh > epsilon:
		return ModeFeedInFirst, 0

	default:
		return ModeSelfUse, d.DefaultDischargeCurrentA
	}
}

// evaluateImmersionRules implements the immersion rule set: any one of
// a negative price, a cheap price, or abundant solar, each gated behind
// its own minimum state of charge so the immersion never competes with
// keeping the battery charged for the evening peak. The gate uses the
// current (pre-decision) SoC, not the solved step's resultant SoC,
// since the rule set answers "should immersion run right now", not
// "after this step's charge/discharge is applied".
func evaluateImmersionRules(d DecodeThresholds, currentSOCPercent float64, classification tariff.Classification, solar0 float64) (bool, string) {
	var reasons []string

	if classification == tariff.Negative && currentSOCPercent >= d.ImmersionNegativePriceSOC {
		reasons = append(reasons, fmt.Sprintf("negative price, soc %.1f%% >= %.1f%%", currentSOCPercent, d.ImmersionNegativePriceSOC))
	}
	if classification == tariff.Cheap && currentSOCPercent >= d.ImmersionCheapSOC {
		reasons = append(reasons, fmt.Sprintf("cheap price, soc %.1f%% >= %.1f%%", currentSOCPercent, d.ImmersionCheapSOC))
	}
	if solar0 >= d.HighSolarKW && currentSOCPercent >= d.ImmersionHighSolarSOC {
		reasons = append(reasons, fmt.Sprintf("high solar %.2fkW, soc %.1f%% >= %.1f%%", solar0, currentSOCPercent, d.ImmersionHighSolarSOC))
	}

	if len(reasons) == 0 {
		return false, "no immersion condition met"
	}
	return true, strings.Join(reasons, "; ")
}
