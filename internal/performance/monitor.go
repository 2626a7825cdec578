// Package performance tracks realized trade PnL and derives a
// profit-factor/win-rate circuit breaker. It is an additional input to
// the Execution Engine's per-tick guard chain, alongside drawdown and
// OFI, using the same breaker-state-machine shape as the rest of the
// risk guards in this repo.
package performance

import "sync"

// FeedbackAction is the suggested response to recent trade performance.
type FeedbackAction int

const (
	ActionNone FeedbackAction = iota
	ActionReduceSize
	ActionHaltTrading
)

// Config tunes the monitor's rolling window and thresholds.
type Config struct {
	WindowSize         int
	MinTradesForAction int
	PFThresholdWarning  float64
	PFThresholdCritical float64
}

// DefaultConfig mirrors the upstream defaults: a 100-trade window, a
// 20-trade minimum before any feedback fires, warn below PF 1.0, halt
// below PF 0.8.
func DefaultConfig() Config {
	return Config{
		WindowSize:          100,
		MinTradesForAction:  20,
		PFThresholdWarning:  1.0,
		PFThresholdCritical: 0.8,
	}
}

type tradeResult struct {
	pnl   float64
	isWin bool
}

// Metrics is one point-in-time read of the monitor's rolling window.
type Metrics struct {
	WinRate         float64
	ProfitFactor    float64
	TradeCount      int
	SuggestedAction FeedbackAction
	ReduceSizeMult  float64 // valid only when SuggestedAction == ActionReduceSize
}

// Monitor is the per-account (or per-coin) rolling performance tracker.
type Monitor struct {
	mu      sync.Mutex
	config  Config
	history []tradeResult
}

// New constructs a Monitor.
func New(config Config) *Monitor {
	return &Monitor{config: config}
}

// RecordTrade pushes one realized-PnL trade result into the rolling
// window, evicting the oldest once the window exceeds its configured
// size.
func (m *Monitor) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) >= m.config.WindowSize {
		m.history = m.history[1:]
	}
	m.history = append(m.history, tradeResult{pnl: pnl, isWin: pnl > 0})
}

// GetMetrics computes win rate, profit factor, and the suggested
// feedback action from the current window.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	total := len(m.history)
	var wins int
	var grossProfit, grossLoss float64
	for _, t := range m.history {
		if t.isWin {
			wins++
		}
		if t.pnl > 0 {
			grossProfit += t.pnl
		} else if t.pnl < 0 {
			grossLoss += -t.pnl
		}
	}

	winRate := float64(wins) / float64(total) * 100.0

	var pf float64
	switch {
	case grossLoss > 0:
		pf = grossProfit / grossLoss
	case grossProfit > 0:
		pf = 100.0
	default:
		pf = 0.0
	}

	action, mult := m.evaluateAction(pf, total)
	return Metrics{
		WinRate:         winRate,
		ProfitFactor:    pf,
		TradeCount:      total,
		SuggestedAction: action,
		ReduceSizeMult:  mult,
	}
}

func (m *Monitor) evaluateAction(pf float64, count int) (FeedbackAction, float64) {
	if count < m.config.MinTradesForAction {
		return ActionNone, 0
	}
	if pf < m.config.PFThresholdCritical {
		return ActionHaltTrading, 0
	}
	if pf < m.config.PFThresholdWarning {
		return ActionReduceSize, 0.5
	}
	return ActionNone, 0
}

// WinRate is a convenience accessor equivalent to GetMetrics().WinRate.
func (m *Monitor) WinRate() float64 {
	return m.GetMetrics().WinRate
}
