package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestSimulatedOpenOrderFillsImmediately(t *testing.T) {
	sim := NewSimulated(5000, -0.0001, 0.00035)
	ctx := context.Background()

	_, err := sim.OpenOrder(ctx, OpenOrderRequest{
		Coin: "BTC", Direction: core.DirectionLong, SizeCoins: 0.1, Price: 100, PostOnly: true,
	})
	require.NoError(t, err)

	positions, err := sim.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, core.DirectionLong, positions[0].Direction)
	require.InDelta(t, 0.1, positions[0].SizeCoins, 1e-9)

	balance, err := sim.GetBalance(ctx)
	require.NoError(t, err)
	require.Greater(t, balance, 5000.0) // maker rebate, negative fee rate
}

func TestSimulatedClosePositionNetsOut(t *testing.T) {
	sim := NewSimulated(5000, -0.0001, 0.00035)
	ctx := context.Background()

	_, err := sim.OpenOrder(ctx, OpenOrderRequest{
		Coin: "ETH", Direction: core.DirectionShort, SizeCoins: 2, Price: 2000, PostOnly: true,
	})
	require.NoError(t, err)

	_, err = sim.ClosePosition(ctx, "ETH", 1900, "test close", 1)
	require.NoError(t, err)

	positions, _ := sim.GetPositions(ctx)
	require.Empty(t, positions)
}

func TestSimulatedCancelAllOrders(t *testing.T) {
	sim := NewSimulated(5000, -0.0001, 0.00035)
	ctx := context.Background()
	n, err := sim.CancelAllOrders(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
