// Package ledger is the Inventory Ledger: net position per coin plus
// the book of self-placed resting orders, reconciled against exchange
// truth at startup and after the feed recovers from a stall; there is
// no periodic reconciliation in between. Divergences are
// warned and corrected toward exchange truth rather than treated as
// fatal, the same dark-fill handling used elsewhere in this repo's
// reconciliation paths.
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"

	"market_maker/internal/core"
)

const dustThreshold = 1e-8

// RestingOrder is one self-placed order the ledger is tracking.
type RestingOrder struct {
	Price float64
	IsBid bool
	Size  float64
}

// ReconcileDelta records one coin's internal/live disagreement
// discovered during Reconcile — always a dark fill, since the ledger's
// own apply_fill path keeps it in sync with every fill it observes.
type ReconcileDelta struct {
	Coin     string
	Internal float64
	Live     float64
	Delta    float64
}

// Ledger is the engine-wide Inventory Ledger.
type Ledger struct {
	mu         sync.Mutex
	positions  map[string]float64 // signed coin size
	openOrders map[string]map[int64]RestingOrder
	logger     core.ILogger
}

// New constructs an empty Ledger. logger may be nil in tests.
func New(logger core.ILogger) *Ledger {
	return &Ledger{
		positions:  make(map[string]float64),
		openOrders: make(map[string]map[int64]RestingOrder),
		logger:     logger,
	}
}

// Position returns the current signed net position for a coin.
func (l *Ledger) Position(coin string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[coin]
}

// ApplyFill additively updates a coin's net position, creating the
// entry if absent.
func (l *Ledger) ApplyFill(coin string, isBuy bool, sizeCoins float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delta := sizeCoins
	if !isBuy {
		delta = -sizeCoins
	}
	l.positions[coin] += delta
}

// RegisterOrder records a self-placed resting order.
func (l *Ledger) RegisterOrder(coin string, oid int64, o RestingOrder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.openOrders[coin]
	if !ok {
		m = make(map[int64]RestingOrder)
		l.openOrders[coin] = m
	}
	m[oid] = o
}

// ForgetOrder removes a self-placed order record (cancelled or matched).
func (l *Ledger) ForgetOrder(coin string, oid int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.openOrders[coin], oid)
}

// OpenOrders returns a copy of a coin's tracked resting orders.
func (l *Ledger) OpenOrders(coin string) map[int64]RestingOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]RestingOrder, len(l.openOrders[coin]))
	for oid, o := range l.openOrders[coin] {
		out[oid] = o
	}
	return out
}

// Reconcile overwrites internal state with live exchange truth for every
// position supplied. Any delta beyond dustThreshold is a dark fill: it
// is logged at warn for audit and returned to the caller, but internal
// state is unconditionally corrected to match live — dark fills are
// corrected, not rejected. Coins present internally but absent from
// live are left untouched; they may be zero-sized positions just
// closed, and drift in self-order records is handled by a separate
// sweep, not this reconcile pass.
func (l *Ledger) Reconcile(live []core.Position) []ReconcileDelta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var deltas []ReconcileDelta
	for _, p := range live {
		liveSize := p.SignedSize()
		internal := l.positions[p.Coin]
		delta := liveSize - internal
		if abs(delta) > dustThreshold {
			d := ReconcileDelta{Coin: p.Coin, Internal: internal, Live: liveSize, Delta: delta}
			deltas = append(deltas, d)
			if l.logger != nil {
				l.logger.Warn("dark fill detected during reconcile",
					"coin", p.Coin, "internal", internal, "live", liveSize, "delta", delta)
			}
		}
		l.positions[p.Coin] = liveSize
	}
	return deltas
}

// SignedUSD returns a coin's position valued at the given mid price,
// as decimal to avoid float drift in any downstream PnL accounting.
func SignedUSD(sizeCoins, mid float64) decimal.Decimal {
	return decimal.NewFromFloat(sizeCoins).Mul(decimal.NewFromFloat(mid))
}

// PositionUSD is the ledger's current net position for coin, valued at
// mid and rounded through decimal rather than raw float multiplication,
// for the inventory-cap check and anything else reading notional
// exposure off the ledger.
func (l *Ledger) PositionUSD(coin string, mid float64) float64 {
	sizeCoins := l.Position(coin)
	usd, _ := SignedUSD(sizeCoins, mid).Float64()
	return usd
}

// AccumulatePnL folds a realized trade PnL (signed USD) into a running
// decimal total and returns the new total as float64, avoiding the
// cumulative float drift that repeated += on a float64 session total
// would otherwise accrue over a long-running session.
func AccumulatePnL(runningTotal, deltaUSD float64) float64 {
	total := decimal.NewFromFloat(runningTotal).Add(decimal.NewFromFloat(deltaUSD))
	f, _ := total.Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
