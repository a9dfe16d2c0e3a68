// Package optimizer formulates and solves the battery scheduling
// linear program (spec §4.4) via dynamic programming over a
// discretized state-of-charge grid, since no LP/MILP solver ships in
// this stack.
package optimizer

import (
	"time"

	"github.com/richowen/battery-controller/internal/tariff"
)

// BatteryMode is the decoded instantaneous operating mode.
type BatteryMode string

const (
	ModeForceCharge    BatteryMode = "Force Charge"
	ModeForceDischarge BatteryMode = "Force Discharge"
	ModeSelfUse        BatteryMode = "Self Use"
	ModeFeedInFirst    BatteryMode = "Feed-in First"
)

// Status is the solver's confidence in the returned schedule.
type Status string

const (
	StatusOptimal  Status = "optimal"
	StatusFeasible Status = "feasible"
	StatusFallback Status = "fallback"
)

// BatteryParams are the hardware envelope and efficiency figures the
// solve must respect exactly.
type BatteryParams struct {
	CapacityKWh           float64
	MaxChargeKW           float64
	MaxDischargeKW        float64
	Efficiency            float64 // round-trip eta, (0, 1]
	MinSOCPercent         float64
	MaxSOCPercent         float64
	MinTerminalSOCPercent float64
	// DesiredEndOfHorizonSOCPercent, when > 0, tightens the terminal
	// floor beyond MinTerminalSOCPercent (spec §4.4 "Optional" clause).
	DesiredEndOfHorizonSOCPercent float64
}

// DecodeThresholds parameterize the step-0 decode and the immersion
// rule set (spec §4.4's decoding rules and immersion rule set).
type DecodeThresholds struct {
	HighSolarKW               float64
	ImmersionNegativePriceSOC float64
	ImmersionCheapSOC         float64
	ImmersionHighSolarSOC     float64
	DefaultDischargeCurrentA  int
	MaxDischargeCurrentA      int
}

// Input is everything the solve needs for one horizon. Prices,
// SolarForecastKWh, and LoadForecastKWh must all share the same
// length H (spec §4.4 "Inputs").
type Input struct {
	StepDuration      time.Duration // Delta, default 30 min
	CurrentSOCPercent float64

	ImportPricePerKWh  []float64
	ExportPricePerKWh  []float64
	Classifications    []tariff.Classification
	SolarForecastKWh   []float64
	LoadForecastKWh    []float64

	Battery BatteryParams
	Decode  DecodeThresholds

	SolverTimeout   time.Duration
	SOCGridSteps    int
	ChargeLevels    int
	DischargeLevels int
}

// StepResult is the decoded per-step outcome of the solved schedule.
type StepResult struct {
	ChargeKWh    float64
	DischargeKWh float64
	ImportKWh    float64
	ExportKWh    float64
	SOCPercent   float64 // soc[t+1], the state reached at the end of this step
}

// Decision is the decoded "current half-hour" recommendation (spec §3
// Recommendation, battery-related fields only; devices are resolved
// separately in internal/resolver).
type Decision struct {
	Mode                  BatteryMode
	DischargeCurrentAmps  int
	ExpectedSOCPercent    float64
	OptimizationStatus    Status
	SolverElapsed         time.Duration
	ImmersionOn           bool
	ImmersionReason       string
	Schedule              []StepResult // full horizon, for audit/inspection
}
