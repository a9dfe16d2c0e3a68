package optimizer

import (
	"math"
	"time"
)

type dpState struct {
	profit  float64
	step    StepResult
	prevIdx int
}

type candidate struct {
	chargeKWh    float64
	dischargeKWh float64
}

// Solve builds the DP table forward across the horizon and reconstructs
// the best path backward, then decodes step 0 into a Decision (spec
// §4.4). Division by a decision variable never occurs: the inverse
// efficiency is computed once, up front.
func Solve(in Input) Decision {
	start := time.Now()
	h := len(in.ImportPricePerKWh)

	if h == 0 || in.Battery.CapacityKWh <= 0 {
		return fallbackDecision(in, 0, time.Since(start))
	}

	gridSteps := in.SOCGridSteps
	if gridSteps < 10 {
		gridSteps = 400
	}
	socStep := (in.Battery.MaxSOCPercent - in.Battery.MinSOCPercent) / float64(gridSteps)
	if socStep <= 0 {
		return fallbackDecision(in, 0, time.Since(start))
	}
	invEfficiency := 1.0 / in.Battery.Efficiency

	socToIndex := func(soc float64) int {
		return int(math.Round((soc - in.Battery.MinSOCPercent) / socStep))
	}
	indexToSOC := func(idx int) float64 {
		return in.Battery.MinSOCPercent + float64(idx)*socStep
	}

	dp := make([][]dpState, h+1)
	for t := range dp {
		dp[t] = make([]dpState, gridSteps+1)
		for i := range dp[t] {
			dp[t][i].profit = math.Inf(-1)
		}
	}

	startIdx := clampIndex(socToIndex(in.CurrentSOCPercent), gridSteps)
	dp[0][startIdx].profit = 0

	stepHours := in.StepDuration.Hours()
	if stepHours <= 0 {
		stepHours = 0.5
	}

	for t := 0; t < h; t++ {
		if in.SolverTimeout > 0 && time.Since(start) > in.SolverTimeout {
			return fallbackDecision(in, 0, time.Since(start))
		}

		load := flatOr(in.LoadForecastKWh, t)
		solar := flatOr(in.SolarForecastKWh, t)
		importPrice := at(in.ImportPricePerKWh, t)
		exportPrice := at(in.ExportPricePerKWh, t)

		for idx := 0; idx <= gridSteps; idx++ {
			if math.IsInf(dp[t][idx].profit, -1) {
				continue
			}
			currentSOC := indexToSOC(idx)

			for _, cand := range feasibleCandidates(in.Battery, in.ChargeLevels, in.DischargeLevels, currentSOC, stepHours) {
				newSOC := nextSOC(in.Battery, invEfficiency, currentSOC, cand.chargeKWh, cand.dischargeKWh)
				if newSOC < in.Battery.MinSOCPercent-1e-9 || newSOC > in.Battery.MaxSOCPercent+1e-9 {
					continue
				}
				newIdx := clampIndex(socToIndex(newSOC), gridSteps)

				step, profit := settle(load, solar, cand, importPrice, exportPrice)

				total := dp[t][idx].profit + profit
				if total > dp[t+1][newIdx].profit {
					step.SOCPercent = newSOC
					dp[t+1][newIdx] = dpState{profit: total, step: step, prevIdx: idx}
				}
			}
		}
	}

	terminalFloor := in.Battery.MinTerminalSOCPercent
	if in.Battery.DesiredEndOfHorizonSOCPercent > terminalFloor {
		terminalFloor = in.Battery.DesiredEndOfHorizonSOCPercent
	}

	bestIdx, bestProfit, found := bestFinalState(dp[h], indexToSOC, terminalFloor)
	status := StatusOptimal
	if !found {
		// No path respects the terminal floor; fall back to the best
		// reachable final state regardless, if one exists at all.
		bestIdx, bestProfit, found = bestFinalState(dp[h], indexToSOC, in.Battery.MinSOCPercent-1)
		if !found {
			return fallbackDecision(in, h, time.Since(start))
		}
		status = StatusFeasible
	}
	_ = bestProfit

	schedule := make([]StepResult, h)
	idx := bestIdx
	for t := h - 1; t >= 0; t-- {
		schedule[t] = dp[t+1][idx].step
		idx = dp[t+1][idx].prevIdx
	}

	decision := decode(in, schedule, status)
	decision.SolverElapsed = time.Since(start)
	return decision
}

func feasibleCandidates(b BatteryParams, chargeLevels, dischargeLevels int, currentSOC, stepHours float64) []candidate {
	if chargeLevels < 1 {
		chargeLevels = 5
	}
	if dischargeLevels < 1 {
		dischargeLevels = 5
	}

	candidates := make([]candidate, 0, chargeLevels+dischargeLevels+1)
	candidates = append(candidates, candidate{})

	for i := 1; i <= chargeLevels; i++ {
		charge := float64(i) * b.MaxChargeKW * stepHours / float64(chargeLevels)
		candidates = append(candidates, candidate{chargeKWh: charge})
	}
	for i := 1; i <= dischargeLevels; i++ {
		discharge := float64(i) * b.MaxDischargeKW * stepHours / float64(dischargeLevels)
		candidates = append(candidates, candidate{dischargeKWh: discharge})
	}
	return candidates
}

func nextSOC(b BatteryParams, invEfficiency, currentSOC, chargeKWh, dischargeKWh float64) float64 {
	delta := 100.0 * (b.Efficiency*chargeKWh - dischargeKWh*invEfficiency) / b.CapacityKWh
	return currentSOC + delta
}

// settle applies the energy-balance equation to resolve import/export
// from the battery action and the period's solar/load, then scores the
// resulting profit (negative cost) for the DP objective.
func settle(load, solar float64, cand candidate, importPrice, exportPrice float64) (StepResult, float64) {
	net := load + cand.chargeKWh - solar - cand.dischargeKWh
	step := StepResult{ChargeKWh: cand.chargeKWh, DischargeKWh: cand.dischargeKWh}
	if net > 0 {
		step.ImportKWh = net
	} else {
		step.ExportKWh = -net
	}
	profit := step.ExportKWh*exportPrice - step.ImportKWh*importPrice
	return step, profit
}

func bestFinalState(states []dpState, indexToSOC func(int) float64, terminalFloor float64) (int, float64, bool) {
	bestIdx := -1
	bestProfit := math.Inf(-1)
	for idx, st := range states {
		if math.IsInf(st.profit, -1) {
			continue
		}
		if indexToSOC(idx) < terminalFloor-1e-9 {
			continue
		}
		if st.profit > bestProfit {
			bestProfit = st.profit
			bestIdx = idx
		}
	}
	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, bestProfit, true
}

func clampIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx > max {
		return max
	}
	return idx
}

func flatOr(series []float64, t int) float64 {
	if len(series) == 0 {
		return 0
	}
	return at(series, t)
}

func at(series []float64, t int) float64 {
	if t < 0 || t >= len(series) {
		return 0
	}
	return series[t]
}

// fallbackDecision is the conservative degraded path (spec §4.4
// "Fallback path"): self-use, default discharge current, immersions
// off.
func fallbackDecision(in Input, validSteps int, elapsed time.Duration) Decision {
	schedule := make([]StepResult, 0)
	if validSteps > 0 {
		schedule = make([]StepResult, validSteps)
		for i := range schedule {
			schedule[i].SOCPercent = in.CurrentSOCPercent
		}
	}
	return Decision{
		Mode:                 ModeSelfUse,
		DischargeCurrentAmps: in.Decode.DefaultDischargeCurrentA,
		ExpectedSOCPercent:   in.CurrentSOCPercent,
		OptimizationStatus:   StatusFallback,
		SolverElapsed:        elapsed,
		ImmersionOn:          false,
		ImmersionReason:      "fallback: no feasible schedule",
		Schedule:             schedule,
	}
}
