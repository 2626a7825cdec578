// Package ofi tracks per-coin taker buy/sell imbalance from the public
// trade stream, gated by activation thresholds so a thin coin's first
// few trades cannot swing the imbalance to ±1.0.
package ofi

import "sync"

const (
	windowCap       = 200
	minSamples      = 20
	minTotalUSD     = 5000.0
	defaultThreshold = 0.70
)

type sample struct {
	isBuy   bool
	sizeUSD float64
}

// Tracker is one coin's rolling OFI window. Zero value is not usable;
// construct with New.
type Tracker struct {
	mu      sync.Mutex
	window  []sample
	sumBuy  float64
	sumSell float64
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{window: make([]sample, 0, windowCap)}
}

// Record pushes one taker trade's notional into the window, evicting the
// oldest sample once the window exceeds its 200-event cap.
func (t *Tracker) Record(isBuy bool, sizeUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, sample{isBuy: isBuy, sizeUSD: sizeUSD})
	if isBuy {
		t.sumBuy += sizeUSD
	} else {
		t.sumSell += sizeUSD
	}

	if len(t.window) > windowCap {
		evicted := t.window[0]
		t.window = t.window[1:]
		if evicted.isBuy {
			t.sumBuy -= evicted.sizeUSD
		} else {
			t.sumSell -= evicted.sizeUSD
		}
	}
}

// Fraction returns the order-flow-imbalance fraction in [-1, 1], or 0 if
// the activation gates (>=20 samples and total notional >= 5000 USD)
// have not yet been met.
func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fractionLocked()
}

func (t *Tracker) fractionLocked() float64 {
	total := t.sumBuy + t.sumSell
	if len(t.window) < minSamples || total < minTotalUSD {
		return 0
	}
	return (t.sumBuy - t.sumSell) / total
}

// ShouldCancelBids reports whether sell-side pressure exceeds th,
// meaning resting bids should be pulled. Default threshold is 0.70.
func (t *Tracker) ShouldCancelBids(th float64) bool {
	return t.Fraction() < -th
}

// ShouldCancelAsks reports whether buy-side pressure exceeds th,
// meaning resting asks should be pulled.
func (t *Tracker) ShouldCancelAsks(th float64) bool {
	return t.Fraction() > th
}

// DefaultThreshold is the engine-wide OFI halt threshold.
const DefaultThreshold = defaultThreshold
