package gridpricer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseInputs() Inputs {
	return Inputs{
		Mid:           100.0,
		TickSize:      0.01,
		MinOrderUSD:   10,
		MaxInvUSD:     1000,
		BaseSpreadBps: 10,
		MaxLayers:     1,
		RegimeMult:    1.0,
	}
}

func TestComputeZeroMidReturnsEmptyGrid(t *testing.T) {
	in := baseInputs()
	in.Mid = 0
	g := Compute(in)
	require.Empty(t, g.Bids)
	require.Empty(t, g.Asks)
}

func TestComputeFlatInventorySymmetric(t *testing.T) {
	g := Compute(baseInputs())
	require.Len(t, g.Bids, 1)
	require.Len(t, g.Asks, 1)
	require.Less(t, g.Bids[0].Price, 100.0)
	require.Greater(t, g.Asks[0].Price, 100.0)
	require.InDelta(t, 100.0-g.Bids[0].Price, g.Asks[0].Price-100.0, 1e-9)
}

func TestComputeLongSkewsBothSidesDown(t *testing.T) {
	flat := Compute(baseInputs())

	in := baseInputs()
	in.InventoryUSD = 500 // half of max, long
	long := Compute(in)

	require.Less(t, long.Bids[0].Price, flat.Bids[0].Price)
	require.Less(t, long.Asks[0].Price, flat.Asks[0].Price)
}

func TestComputeShortSkewsBothSidesUp(t *testing.T) {
	flat := Compute(baseInputs())

	in := baseInputs()
	in.InventoryUSD = -500
	short := Compute(in)

	require.Greater(t, short.Bids[0].Price, flat.Bids[0].Price)
	require.Greater(t, short.Asks[0].Price, flat.Asks[0].Price)
}

func TestComputeSuppressionDropsSide(t *testing.T) {
	in := baseInputs()
	in.SuppressBids = true
	g := Compute(in)
	require.Empty(t, g.Bids)
	require.Len(t, g.Asks, 1)

	in2 := baseInputs()
	in2.SuppressAsks = true
	g2 := Compute(in2)
	require.Empty(t, g2.Asks)
	require.Len(t, g2.Bids, 1)
}

func TestComputeMultiLayerSizesNonDecreasing(t *testing.T) {
	in := baseInputs()
	in.MaxLayers = 3
	g := Compute(in)
	require.Len(t, g.Bids, 3)
	require.Len(t, g.Asks, 3)
	for i := 1; i < len(g.Bids); i++ {
		require.GreaterOrEqual(t, g.Bids[i].SizeUSD, g.Bids[i-1].SizeUSD)
		require.GreaterOrEqual(t, g.Asks[i].SizeUSD, g.Asks[i-1].SizeUSD)
	}
}

func TestComputeLayersClampedTo3(t *testing.T) {
	in := baseInputs()
	in.MaxLayers = 10
	g := Compute(in)
	require.Len(t, g.Bids, 3)
}

func TestComputeAsksStayAboveSanityClamp(t *testing.T) {
	in := baseInputs()
	in.BaseSpreadBps = 5000 // absurdly wide to push ask far from mid
	in.RegimeMult = 4.0
	in.InventoryUSD = 1000 // max long, skew pulls ask toward mid; the skew cap keeps it above 0.9*mid
	g := Compute(in)
	for _, a := range g.Asks {
		require.Greater(t, a.Price, in.Mid*askSanityFraction)
	}
}

func TestComputePricesSnapToTick(t *testing.T) {
	in := baseInputs()
	in.TickSize = 0.5
	g := Compute(in)
	require.InDelta(t, 0.0, math.Mod(g.Bids[0].Price, 0.5), 1e-9)
	require.InDelta(t, 0.0, math.Mod(g.Asks[0].Price, 0.5), 1e-9)
}
