package performance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorInitialState(t *testing.T) {
	m := New(DefaultConfig())
	metrics := m.GetMetrics()
	require.Equal(t, 0, metrics.TradeCount)
	require.Equal(t, 0.0, metrics.WinRate)
	require.Equal(t, ActionNone, metrics.SuggestedAction)
}

func TestMonitorNormalOperation(t *testing.T) {
	m := New(Config{WindowSize: 10, MinTradesForAction: 5, PFThresholdWarning: 1.5, PFThresholdCritical: 1.0})
	for i := 0; i < 5; i++ {
		m.RecordTrade(10.0)
	}
	metrics := m.GetMetrics()
	require.Equal(t, 5, metrics.TradeCount)
	require.Equal(t, 100.0, metrics.WinRate)
	require.Equal(t, 100.0, metrics.ProfitFactor)
	require.Equal(t, ActionNone, metrics.SuggestedAction)
}

func TestMonitorReduceSizeAction(t *testing.T) {
	m := New(Config{WindowSize: 10, MinTradesForAction: 5, PFThresholdWarning: 1.5, PFThresholdCritical: 0.5})
	for i := 0; i < 3; i++ {
		m.RecordTrade(10.0)
	}
	for i := 0; i < 3; i++ {
		m.RecordTrade(-8.33)
	}
	metrics := m.GetMetrics()
	require.Equal(t, ActionReduceSize, metrics.SuggestedAction)
	require.Equal(t, 0.5, metrics.ReduceSizeMult)
}

func TestMonitorHaltTradingAction(t *testing.T) {
	m := New(Config{WindowSize: 10, MinTradesForAction: 5, PFThresholdWarning: 1.5, PFThresholdCritical: 0.8})
	m.RecordTrade(10.0)
	for i := 0; i < 5; i++ {
		m.RecordTrade(-10.0)
	}
	metrics := m.GetMetrics()
	require.Equal(t, ActionHaltTrading, metrics.SuggestedAction)
}

func TestMonitorWindowRolling(t *testing.T) {
	m := New(Config{WindowSize: 3, MinTradesForAction: 1})
	m.RecordTrade(1.0)
	m.RecordTrade(2.0)
	m.RecordTrade(3.0)
	require.Len(t, m.history, 3)
	require.Equal(t, 1.0, m.history[0].pnl)

	m.RecordTrade(4.0)
	require.Len(t, m.history, 3)
	require.Equal(t, 2.0, m.history[0].pnl)
	require.Equal(t, 4.0, m.history[2].pnl)
}

func TestMonitorBelowMinTradesReturnsNone(t *testing.T) {
	m := New(Config{WindowSize: 10, MinTradesForAction: 5, PFThresholdCritical: 100, PFThresholdWarning: 100})
	m.RecordTrade(-10.0)
	metrics := m.GetMetrics()
	require.Equal(t, ActionNone, metrics.SuggestedAction)
}
