package core

// AssetConfig is published per-coin by the external selection service
// (the screener). Only coins present in the most recently received
// config set are eligible to quote.
type AssetConfig struct {
	Asset         string
	TickSize      float64
	MinOrderUSD   float64
	MaxInvUSD     float64
	BaseSpreadBps float64
	ATRFraction   float64
	Regime        Regime
	MaxLayers     int
}

// Regime is the coarse quoting posture for a single asset config entry.
type Regime string

const (
	RegimeCalm      Regime = "calm"
	RegimeUncertain Regime = "uncertain"
	RegimeHalt      Regime = "halt"
)

// L2Level is a single price level of an order book side.
type L2Level struct {
	Price float64
	Size  float64
	Count int
}

// L2Snapshot is one coin's order book at the moment it was received.
type L2Snapshot struct {
	Coin         string
	Bids         []L2Level // descending price
	Asks         []L2Level // ascending price
	ReceivedAtMs int64
}

// BestBid returns the best bid level, or the zero value and false if empty.
func (s L2Snapshot) BestBid() (L2Level, bool) {
	if len(s.Bids) == 0 {
		return L2Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the best ask level, or the zero value and false if empty.
func (s L2Snapshot) BestAsk() (L2Level, bool) {
	if len(s.Asks) == 0 {
		return L2Level{}, false
	}
	return s.Asks[0], true
}

// Mid returns the arithmetic mean of best bid and best ask, or 0 if either
// side of the book is empty.
func (s L2Snapshot) Mid() float64 {
	bb, ok1 := s.BestBid()
	ba, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return 0
	}
	return (bb.Price + ba.Price) / 2
}

// SpreadBps returns the top-of-book spread in basis points, or 0 if the
// mid price cannot be computed.
func (s L2Snapshot) SpreadBps() float64 {
	mid := s.Mid()
	if mid <= 0 {
		return 0
	}
	bb, _ := s.BestBid()
	ba, _ := s.BestAsk()
	return (ba.Price - bb.Price) / mid * 1e4
}

// Side identifies which side of the book a quote or fill belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Direction is the taker-facing direction used by the exchange client's
// open_order contract.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// GridQuote is a single laddered quote produced by the Grid Pricer.
type GridQuote struct {
	Side    Side
	Layer   int
	Price   float64
	SizeUSD float64
	OID     int64 // 0 if not yet placed
}

// QuoteGrid is the full two-sided ladder for one coin, for one tick.
type QuoteGrid struct {
	Bids []GridQuote
	Asks []GridQuote
}

// AllQuotes returns bids followed by asks as one slice.
func (g QuoteGrid) AllQuotes() []GridQuote {
	out := make([]GridQuote, 0, len(g.Bids)+len(g.Asks))
	out = append(out, g.Bids...)
	out = append(out, g.Asks...)
	return out
}

// Position is one coin's live position as reported by the exchange.
type Position struct {
	Coin         string
	Direction    Direction
	SizeCoins    float64 // unsigned magnitude; sign comes from Direction
	EntryPrice   float64
	UnrealizedPL float64
}

// SignedSize returns the position size with sign: positive for LONG,
// negative for SHORT.
func (p Position) SignedSize() float64 {
	if p.Direction == DirectionShort {
		return -p.SizeCoins
	}
	return p.SizeCoins
}

// OrderView is a resting order as reported by the exchange's open-orders
// read endpoint.
type OrderView struct {
	Coin    string
	OID     int64
	IsBid   bool
	LimitPx float64
	Ts      int64
}

// TradeAction is the outcome of a successful open_order / close_position
// call against the exchange client.
type TradeAction struct {
	Coin      string
	OID       int64
	Direction Direction
	SizeCoins float64
	Price     float64
	Reason    string
	Ts        int64
}

// Trade is a public taker trade observed on the `trades` WS channel.
type Trade struct {
	Coin  string
	IsBuy bool
	Price float64
	Size  float64
	Ts    int64
}

// UserFill is a private fill observed on the `userFills` WS channel.
type UserFill struct {
	Coin        string
	IsBuy       bool
	Price       float64
	Size        float64
	Ts          int64
	IsSnapshot  bool
	OID         int64
}

// MarketContext holds the per-coin metadata refreshed from the venue's
// meta+asset-context REST endpoint.
type MarketContext struct {
	Coin       string
	Funding    float64
	OpenInt    float64
	OraclePx   float64
	DayNtlVlm  float64
	SzDecimals int
	MaxLeverage int
	AssetIdx   int
}

// SessionStats accumulates the engine-wide cancel/fill/PnL counters used
// by the Regime Governor's cancel-to-fill input and the drawdown guard.
type SessionStats struct {
	TotalCancels     int64
	TotalFills       int64
	DailyPnLUSD      float64
	StartingBalance  float64
}

// CancelFillRatio is the degenerate-safe cancel-to-fill ratio: if no
// fills have occurred yet, the raw cancel count is returned so a
// quiet, cancel-heavy start is still visible to the regime governor.
func (s SessionStats) CancelFillRatio() float64 {
	if s.TotalFills == 0 {
		return float64(s.TotalCancels)
	}
	return float64(s.TotalCancels) / float64(s.TotalFills)
}

// DailyDrawdownPct is the fraction of starting balance lost today,
// floored at zero (profitable days never count as "drawdown").
func (s SessionStats) DailyDrawdownPct() float64 {
	if s.StartingBalance <= 0 {
		return 0
	}
	loss := -s.DailyPnLUSD
	if loss < 0 {
		loss = 0
	}
	return loss / s.StartingBalance
}

// ShadowFill is a simulated maker fill produced by the Shadow Simulator.
type ShadowFill struct {
	Coin       string
	Side       Side
	Price      float64
	SizeUSD    float64
	RebateUSD  float64
	FilledAtMs int64
}

// ILogger is the structured-logging interface every component depends
// on, rather than a concrete logger type.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
