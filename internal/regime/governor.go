// Package regime computes the spread multiplier and halt posture that
// the Grid Pricer and main loop read every tick.
package regime

import "market_maker/internal/core"

// Inputs to one Governor.Update call.
type Inputs struct {
	ATRFraction     float64
	CancelFillRatio float64
	P95LatencyUs    float64
	FundingRate     float64
}

// Output is the per-tick result of the governor's rules.
type Output struct {
	SpreadMultiplier float64
	Regime           core.Regime
}

// Governor holds no state between ticks; Update is a pure function of
// its inputs, so one instance can be shared across goroutines
// without a lock.
type Governor struct{}

// New constructs a Governor.
func New() *Governor { return &Governor{} }

// Update evaluates the ordered rule set:
//  1. |funding| >= 0.003 -> halt
//  2. atr_fraction >= 0.005 -> halt
//  3. volatility multiplier: linear 1.0..3.0 over atr in [0.0015, 0.005)
//  4. cancel-to-fill multiplier: linear 1.0..2.0 over CFR in (50, 100]
//  5. latency multiplier: >100ms -> 2.0, >50ms -> 1.5, else 1.0
//  6. combined = product, clamped [1.0, 4.0]; regime = uncertain if >1.5
func (g *Governor) Update(in Inputs) Output {
	if abs(in.FundingRate) >= 0.003 {
		return Output{SpreadMultiplier: 4.0, Regime: core.RegimeHalt}
	}
	if in.ATRFraction >= 0.005 {
		return Output{SpreadMultiplier: 4.0, Regime: core.RegimeHalt}
	}

	volMult := volatilityMultiplier(in.ATRFraction)
	cfrMult := cancelFillMultiplier(in.CancelFillRatio)
	latMult := latencyMultiplier(in.P95LatencyUs)

	combined := clamp(volMult*cfrMult*latMult, 1.0, 4.0)
	r := core.RegimeCalm
	if combined > 1.5 {
		r = core.RegimeUncertain
	}
	return Output{SpreadMultiplier: combined, Regime: r}
}

func volatilityMultiplier(atr float64) float64 {
	const lo, hi = 0.0015, 0.005
	if atr < lo {
		return 1.0
	}
	if atr >= hi {
		return 3.0
	}
	return lerp(atr, lo, hi, 1.0, 3.0)
}

func cancelFillMultiplier(cfr float64) float64 {
	const lo, hi = 50.0, 100.0
	if cfr <= lo {
		return 1.0
	}
	if cfr > hi {
		return 2.0
	}
	return lerp(cfr, lo, hi, 1.0, 2.0)
}

func latencyMultiplier(p95Us float64) float64 {
	p95Ms := p95Us / 1000.0
	switch {
	case p95Ms > 100:
		return 2.0
	case p95Ms > 50:
		return 1.5
	default:
		return 1.0
	}
}

func lerp(x, xLo, xHi, yLo, yHi float64) float64 {
	frac := (x - xLo) / (xHi - xLo)
	return yLo + frac*(yHi-yLo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
