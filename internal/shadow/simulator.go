// Package shadow implements the queue-position estimator and shadow
// session PnL used in place of live order placement when the engine
// runs in shadow mode.
package shadow

import (
	"sync"

	"market_maker/internal/core"
)

const makerRebateRate = 0.0001

// QueueKey identifies one registered resting-quote slot.
type QueueKey struct {
	Coin  string
	Side  core.Side
	Layer int
}

type queueEntry struct {
	price             float64
	isBid             bool
	sizeUSD           float64
	volumeTradedThrough float64
	placedAtMs        int64
}

// Estimator tracks queue position per (coin, side, layer) key across
// ticks, consuming public taker trades to estimate when a resting quote
// would have filled.
type Estimator struct {
	mu      sync.Mutex
	entries map[QueueKey]*queueEntry
	// watermark is the per-coin timestamp of the last trade already
	// folded into volume_traded_through, so a trade is never applied twice.
	watermark map[string]int64
}

// NewEstimator constructs an empty Estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		entries:   make(map[QueueKey]*queueEntry),
		watermark: make(map[string]int64),
	}
}

// Register records a freshly quoted resting price for a key, if not
// already tracked. Re-registering an existing key is a no-op — the
// original registration's placed_at_ms anchors queue position.
func (e *Estimator) Register(key QueueKey, price float64, isBid bool, sizeUSD float64, placedAtMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[key]; ok {
		return
	}
	e.entries[key] = &queueEntry{price: price, isBid: isBid, sizeUSD: sizeUSD, placedAtMs: placedAtMs}
}

// Remove drops a key, used on simulated fill or cancel.
func (e *Estimator) Remove(key QueueKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, key)
}

// OnTrade folds one new public taker trade into every registered key's
// volume_traded_through, if the trade crosses that key's resting price
// and postdates the coin's watermark.
func (e *Estimator) OnTrade(t core.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Ts <= e.watermark[t.Coin] {
		return
	}
	e.watermark[t.Coin] = t.Ts

	notional := t.Price * t.Size
	for key, entry := range e.entries {
		if key.Coin != t.Coin {
			continue
		}
		crosses := (entry.isBid && !t.IsBuy && t.Price <= entry.price) ||
			(!entry.isBid && t.IsBuy && t.Price >= entry.price)
		if crosses {
			entry.volumeTradedThrough += notional
		}
	}
}

// FillProbability returns the estimated fill probability for a key,
// min(1, through / (2*size_usd)); 2x assumes middle-of-queue entry.
func (e *Estimator) FillProbability(key QueueKey) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[key]
	if !ok || entry.sizeUSD <= 0 {
		return 0
	}
	p := entry.volumeTradedThrough / (2 * entry.sizeUSD)
	if p > 1 {
		p = 1
	}
	return p
}

// IsLikelyFilled reports whether the key's fill probability has crossed
// the given threshold (default 0.70 ).
func (e *Estimator) IsLikelyFilled(key QueueKey, threshold float64) bool {
	return e.FillProbability(key) >= threshold
}

// Entry returns a snapshot of a registered key, for callers that need
// price/size when simulating a fill.
func (e *Estimator) Entry(key QueueKey) (price, sizeUSD float64, isBid, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, present := e.entries[key]
	if !present {
		return 0, 0, false, false
	}
	return entry.price, entry.sizeUSD, entry.isBid, true
}

// Session accumulates simulated fills and their maker rebates for
// shadow-mode PnL reporting.
type Session struct {
	mu    sync.Mutex
	fills []core.ShadowFill
}

// NewSession constructs an empty shadow Session.
func NewSession() *Session {
	return &Session{}
}

// RecordFill simulates one maker fill: rebate is sizeUSD * 0.0001.
func (s *Session) RecordFill(coin string, side core.Side, price, sizeUSD float64, atMs int64) core.ShadowFill {
	f := core.ShadowFill{
		Coin:       coin,
		Side:       side,
		Price:      price,
		SizeUSD:    sizeUSD,
		RebateUSD:  sizeUSD * makerRebateRate,
		FilledAtMs: atMs,
	}
	s.mu.Lock()
	s.fills = append(s.fills, f)
	s.mu.Unlock()
	return f
}

// TotalRebateUSD sums every recorded fill's maker rebate.
func (s *Session) TotalRebateUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, f := range s.fills {
		total += f.RebateUSD
	}
	return total
}

// Fills returns a copy of every simulated fill recorded so far.
func (s *Session) Fills() []core.ShadowFill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ShadowFill, len(s.fills))
	copy(out, s.fills)
	return out
}
