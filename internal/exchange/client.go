// Package exchange implements the venue-facing client, polymorphic over a
// simulated and a live Hyperliquid-style perpetuals venue. Both variants
// share the Client capability set; the main loop and execution engine
// depend only on that interface.
package exchange

import (
	"context"
	"sync"
	"time"

	"market_maker/internal/core"
)

// Client is the capability set the rest of the engine depends on:
// read balance/positions/mids/open-orders, place, cancel single/coin/all,
// sweep stale orders. Both Simulated and Live implement it.
type Client interface {
	GetBalance(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]core.Position, error)
	GetAllMids(ctx context.Context) (map[string]float64, error)
	GetOpenOrders(ctx context.Context, coin string) ([]core.OrderView, error)

	OpenOrder(ctx context.Context, req OpenOrderRequest) (core.TradeAction, error)
	ClosePosition(ctx context.Context, coin string, price float64, reason string, ts int64) (core.TradeAction, error)

	CancelOrder(ctx context.Context, assetIdx uint32, oid int64) error
	CancelCoinOrders(ctx context.Context, coin string) (int, error)
	CancelAllOrders(ctx context.Context) (int, error)
	SweepDeadOrders(ctx context.Context) error
}

// OpenOrderRequest is the input to Client.OpenOrder.
type OpenOrderRequest struct {
	Coin          string
	Direction     core.Direction
	SizeCoins     float64
	Price         float64
	LeverageHint  float64
	TakeProfit    float64
	StopLoss      float64
	PostOnly      bool
	ReduceOnly    bool
}

// AssetInfo is per-coin venue metadata fetched from the meta endpoint.
type AssetInfo struct {
	AssetIdx    uint32
	SzDecimals  int
	MaxLeverage int
}

// cacheTTL is the read-endpoint cache lifetime: 2 s per endpoint, not
// engine-wide.
const cacheTTL = 2 * time.Second

// readCache is a tiny per-endpoint TTL cache. Implemented directly on
// stdlib time + a mutex rather than a third-party cache library; see
// DESIGN.md for the justification.
type readCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newReadCache() *readCache {
	return &readCache{entries: make(map[string]cacheEntry)}
}

func (c *readCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *readCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
}
