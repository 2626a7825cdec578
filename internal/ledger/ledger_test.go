package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestApplyFillCreatesAndAccumulates(t *testing.T) {
	l := New(nil)
	l.ApplyFill("BTC", true, 1.5)
	l.ApplyFill("BTC", false, 0.5)
	require.InDelta(t, 1.0, l.Position("BTC"), 1e-9)
}

func TestRegisterAndForgetOrder(t *testing.T) {
	l := New(nil)
	l.RegisterOrder("ETH", 42, RestingOrder{Price: 100, IsBid: true, Size: 1})
	require.Len(t, l.OpenOrders("ETH"), 1)
	l.ForgetOrder("ETH", 42)
	require.Empty(t, l.OpenOrders("ETH"))
}

func TestReconcileNoDriftReturnsNoDeltas(t *testing.T) {
	l := New(nil)
	l.ApplyFill("BTC", true, 2.0)
	deltas := l.Reconcile([]core.Position{{Coin: "BTC", Direction: core.DirectionLong, SizeCoins: 2.0}})
	require.Empty(t, deltas)
	require.InDelta(t, 2.0, l.Position("BTC"), 1e-9)
}

func TestReconcileDarkFillOverwritesAndReports(t *testing.T) {
	l := New(nil)
	l.ApplyFill("BTC", true, 2.0)
	deltas := l.Reconcile([]core.Position{{Coin: "BTC", Direction: core.DirectionLong, SizeCoins: 3.0}})
	require.Len(t, deltas, 1)
	require.Equal(t, "BTC", deltas[0].Coin)
	require.InDelta(t, 1.0, deltas[0].Delta, 1e-9)
	require.InDelta(t, 3.0, l.Position("BTC"), 1e-9)
}

func TestReconcileShortPositionSignedCorrectly(t *testing.T) {
	l := New(nil)
	deltas := l.Reconcile([]core.Position{{Coin: "ETH", Direction: core.DirectionShort, SizeCoins: 5.0}})
	require.Len(t, deltas, 1)
	require.InDelta(t, -5.0, l.Position("ETH"), 1e-9)
}

func TestReconcileLeavesAbsentCoinsUntouched(t *testing.T) {
	l := New(nil)
	l.ApplyFill("SOL", true, 10.0)
	l.Reconcile([]core.Position{{Coin: "BTC", Direction: core.DirectionLong, SizeCoins: 1.0}})
	require.InDelta(t, 10.0, l.Position("SOL"), 1e-9)
}

func TestPositionUSDValuesAtMid(t *testing.T) {
	l := New(nil)
	l.ApplyFill("BTC", true, 0.5)
	require.InDelta(t, 25000.0, l.PositionUSD("BTC", 50000), 1e-9)

	l.ApplyFill("BTC", false, 1.0)
	require.InDelta(t, -25000.0, l.PositionUSD("BTC", 50000), 1e-9)
}

func TestAccumulatePnLSumsAcrossCalls(t *testing.T) {
	total := 0.0
	total = AccumulatePnL(total, 12.34)
	total = AccumulatePnL(total, -5.0)
	total = AccumulatePnL(total, 0.01)
	require.InDelta(t, 7.35, total, 1e-9)
}
