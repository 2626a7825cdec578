// Package marketdata holds the shared per-coin state the Ingestor writes
// and the main loop reads: latest L2 snapshot, rolling trade window,
// rolling mid history, last-message timestamp, and the private fill
// queue. Guarded by a plain sync.Mutex, held only for read-clone or
// small in-place updates, never across an await/network call.
package marketdata

import (
	"math"
	"sync"
	"time"

	"market_maker/internal/core"
)

const (
	tradeBufferCap = 1000
	userFillCap    = 500
	midHistoryWindow = 5 * time.Minute
)

type midSample struct {
	at  time.Time
	mid float64
}

// Buffer is the engine-wide Market Data Buffer.
type Buffer struct {
	mu sync.Mutex

	books       map[string]core.L2Snapshot
	trades      map[string][]core.Trade
	midHistory  map[string][]midSample
	userFills   []core.UserFill
	lastMsgAtMs int64
}

// NewBuffer constructs an empty Market Data Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		books:      make(map[string]core.L2Snapshot),
		trades:     make(map[string][]core.Trade),
		midHistory: make(map[string][]midSample),
	}
}

// Touch updates the last-message timestamp, used by the stall watcher.
func (b *Buffer) Touch(nowMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastMsgAtMs = nowMs
}

// LastMessageAtMs returns the last time any WS message was received.
func (b *Buffer) LastMessageAtMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMsgAtMs
}

// UpdateL2 replaces a coin's order book snapshot and records a mid
// sample for the realized-volatility window.
func (b *Buffer) UpdateL2(snap core.L2Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.books[snap.Coin] = snap

	mid := snap.Mid()
	if mid <= 0 {
		return
	}
	now := time.Now()
	hist := append(b.midHistory[snap.Coin], midSample{at: now, mid: mid})
	cutoff := now.Add(-midHistoryWindow)
	i := 0
	for i < len(hist) && hist[i].at.Before(cutoff) {
		i++
	}
	b.midHistory[snap.Coin] = hist[i:]
}

// L2 returns the latest snapshot for a coin.
func (b *Buffer) L2(coin string) (core.L2Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.books[coin]
	return s, ok
}

// AddTrade appends a public taker trade to the coin's bounded deque.
func (b *Buffer) AddTrade(t core.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.trades[t.Coin], t)
	if len(list) > tradeBufferCap {
		list = list[len(list)-tradeBufferCap:]
	}
	b.trades[t.Coin] = list
}

// Trades returns a copy of the trade deque for a coin.
func (b *Buffer) Trades(coin string) []core.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.trades[coin]
	out := make([]core.Trade, len(src))
	copy(out, src)
	return out
}

// LatestTrade returns the most recent trade for a coin, if any.
func (b *Buffer) LatestTrade(coin string) (core.Trade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.trades[coin]
	if len(list) == 0 {
		return core.Trade{}, false
	}
	return list[len(list)-1], true
}

// AddUserFill pushes a private fill onto the bounded queue.
func (b *Buffer) AddUserFill(f core.UserFill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userFills = append(b.userFills, f)
	if len(b.userFills) > userFillCap {
		b.userFills = b.userFills[len(b.userFills)-userFillCap:]
	}
}

// DrainUserFills returns and clears the private-fill queue, in arrival
// order, so the caller can apply them to the ledger in sequence.
func (b *Buffer) DrainUserFills() []core.UserFill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.userFills
	b.userFills = nil
	return out
}

// RealtimeVolBps computes a simple realized-volatility estimate in
// basis points from the 5-minute mid-price history: the root mean
// square of consecutive simple returns (no mean subtracted, no
// annualization), scaled by 1e4.
func (b *Buffer) RealtimeVolBps(coin string) float64 {
	b.mu.Lock()
	hist := append([]midSample(nil), b.midHistory[coin]...)
	b.mu.Unlock()

	if len(hist) < 2 {
		return 0
	}
	var sumSq float64
	n := 0
	for i := 1; i < len(hist); i++ {
		if hist[i-1].mid <= 0 {
			continue
		}
		ret := (hist[i].mid - hist[i-1].mid) / hist[i-1].mid
		sumSq += ret * ret
		n++
	}
	if n == 0 {
		return 0
	}
	meanSq := sumSq / float64(n)
	return math.Sqrt(meanSq) * 1e4
}
