// Package gridpricer computes the laddered two-sided quote grid for one
// coin on one tick. Pure function of its inputs, no shared state.
package gridpricer

import (
	"math"

	"market_maker/internal/core"
)

const (
	minOrderFloorUSD  = 12.0
	skewSlope         = 1.5
	minDistanceBps    = 1.5
	askSanityFraction = 0.9
)

var layerSpreadMult = [3]float64{1.0, 2.5, 5.0}
var layerSizeMult = [3]float64{1.0, 2.0, 3.0}

// Inputs bundles everything the grid pricer needs for one coin, one tick.
type Inputs struct {
	Mid           float64
	TickSize      float64
	MinOrderUSD   float64
	MaxInvUSD     float64
	BaseSpreadBps float64
	MaxLayers     int
	RegimeMult    float64
	InventoryUSD  float64 // signed
	SuppressBids  bool
	SuppressAsks  bool
}

// Compute builds the quote grid. Returns an empty grid if mid <= 0.
func Compute(in Inputs) core.QuoteGrid {
	if in.Mid <= 0 {
		return core.QuoteGrid{}
	}

	layers := in.MaxLayers
	if layers <= 0 {
		layers = 1
	}
	if layers > 3 {
		layers = 3
	}

	baseHalf := in.Mid * in.BaseSpreadBps / 1e4
	eff := baseHalf * in.RegimeMult

	invFrac := clamp(safeDiv(in.InventoryUSD, in.MaxInvUSD), -1, 1)
	rawSkew := invFrac * eff * skewSlope

	minDist := minDistanceBps / 1e4 * in.Mid
	maxSkew := math.Max(0, eff-minDist)
	skew := clamp(rawSkew, -maxSkew, maxSkew)

	base := math.Max(in.MinOrderUSD, minOrderFloorUSD)

	grid := core.QuoteGrid{}
	for l := 1; l <= layers; l++ {
		spread := eff * layerSpreadMult[l-1]
		size := base * layerSizeMult[l-1]

		if !in.SuppressBids {
			px := snap(in.Mid-spread-skew, in.TickSize)
			if px > 0 {
				grid.Bids = append(grid.Bids, core.GridQuote{
					Side: core.SideBid, Layer: l, Price: px, SizeUSD: size,
				})
			}
		}
		if !in.SuppressAsks {
			px := snap(in.Mid+spread-skew, in.TickSize)
			if px > in.Mid*askSanityFraction {
				grid.Asks = append(grid.Asks, core.GridQuote{
					Side: core.SideAsk, Layer: l, Price: px, SizeUSD: size,
				})
			}
		}
	}
	return grid
}

func snap(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
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
