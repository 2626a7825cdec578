// Package ingestor maintains the single WebSocket feed (l2Book, trades,
// userFills), subscribes in batches, drives the stall flag, refreshes
// the per-coin venue context on a schedule, and optionally harvests a
// tick CSV. Reuses pkg/websocket/client.go's reconnect/heartbeat
// pattern.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	httpclient "market_maker/pkg/http"
	wsclient "market_maker/pkg/websocket"

	"market_maker/internal/core"
	"market_maker/internal/marketdata"
)

const (
	subscribeBatchSize = 20
	subscribeGap       = 150 * time.Millisecond
	reconnectMinWait   = 1 * time.Second
	reconnectMaxWait   = 32 * time.Second
	contextRefreshEvery = 60 * time.Second
	stallCheckEvery     = 5 * time.Second
	universeSize        = 100
)

// Config wires the Ingestor's external dependencies.
type Config struct {
	WSURL         string
	RestBaseURL   string
	UserAddress   string // empty disables userFills subscription
	HarvestTicks  bool
	TickDataDir   string // default "data/ticks"
	Logger        core.ILogger
}

// Ingestor owns the venue WebSocket connection and two background
// workers (context refresher, stall watcher).
type Ingestor struct {
	cfg    Config
	buffer *marketdata.Buffer
	stall  *marketdata.StallFlag
	ws     *wsclient.Client
	rest   *httpclient.Client

	mu          sync.Mutex
	universe    []string
	contexts    map[string]core.MarketContext

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs an Ingestor. Call Start to begin streaming.
func New(cfg Config, buffer *marketdata.Buffer, stall *marketdata.StallFlag) *Ingestor {
	if cfg.TickDataDir == "" {
		cfg.TickDataDir = "data/ticks"
	}
	ing := &Ingestor{
		cfg:      cfg,
		buffer:   buffer,
		stall:    stall,
		rest:     httpclient.NewClient(cfg.RestBaseURL, 10*time.Second, nil),
		contexts: make(map[string]core.MarketContext),
	}
	ing.ws = wsclient.NewClient(cfg.WSURL, ing.onMessage, cfg.Logger)
	ing.ws.SetReconnectBackoff(reconnectMinWait, reconnectMaxWait)
	ing.ws.SetOnConnected(ing.onConnected)
	return ing
}

// Start launches the WebSocket connection and both background workers.
func (ing *Ingestor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ing.cancel = cancel

	ing.ws.Start()

	ing.wg.Add(2)
	go ing.runContextRefresher(ctx)
	go ing.runStallWatcher(ctx)
}

// Stop tears down the WebSocket connection and both background workers.
func (ing *Ingestor) Stop() {
	if ing.cancel != nil {
		ing.cancel()
	}
	ing.ws.Stop()
	ing.wg.Wait()
}

// Universe returns the current top-N-by-volume active coin list.
func (ing *Ingestor) Universe() []string {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	out := make([]string, len(ing.universe))
	copy(out, ing.universe)
	return out
}

// MarketContextFor returns the last-refreshed venue context for a coin.
func (ing *Ingestor) MarketContextFor(coin string) (core.MarketContext, bool) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	c, ok := ing.contexts[coin]
	return c, ok
}

// FundingRate satisfies execution.FundingRateSource.
func (ing *Ingestor) FundingRate(coin string) float64 {
	c, _ := ing.MarketContextFor(coin)
	return c.Funding
}

// onConnected re-subscribes every coin in the current universe, in
// batches of <=20 with a 150ms inter-batch gap, plus userFills if a
// user address is configured.
func (ing *Ingestor) onConnected() {
	universe := ing.Universe()
	for i := 0; i < len(universe); i += subscribeBatchSize {
		end := i + subscribeBatchSize
		if end > len(universe) {
			end = len(universe)
		}
		for _, coin := range universe[i:end] {
			_ = ing.ws.Send(subscribeMsg("l2Book", coin))
			_ = ing.ws.Send(subscribeMsg("trades", coin))
		}
		if end < len(universe) {
			time.Sleep(subscribeGap)
		}
	}
	if ing.cfg.UserAddress != "" {
		_ = ing.ws.Send(subscribeUserFillsMsg(ing.cfg.UserAddress))
	}
}

func subscribeMsg(channel, coin string) map[string]any {
	return map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": channel,
			"coin": coin,
		},
	}
}

func subscribeUserFillsMsg(user string) map[string]any {
	return map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "userFills",
			"user": user,
		},
	}
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// onMessage routes one inbound WS frame by channel and touches the
// stall watcher's last-message clock.
func (ing *Ingestor) onMessage(raw []byte) {
	ing.buffer.Touch(time.Now().UnixMilli())

	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Channel {
	case "l2Book":
		ing.handleL2Book(env.Data)
	case "trades":
		ing.handleTrades(env.Data)
	case "userFills":
		ing.handleUserFills(env.Data)
	}
}

type l2BookObjectShape struct {
	Coin string `json:"coin"`
	Levels struct {
		Bids []core.L2Level `json:"bids"`
		Asks []core.L2Level `json:"asks"`
	} `json:"levels"`
}

type l2BookArrayShape struct {
	Coin   string          `json:"coin"`
	Levels [][]core.L2Level `json:"levels"`
}

// handleL2Book accepts either the object-keyed {bids,asks} shape or the
// array-indexed [bids, asks] shape the venue may emit.
func (ing *Ingestor) handleL2Book(data json.RawMessage) {
	var obj l2BookObjectShape
	if err := json.Unmarshal(data, &obj); err == nil && (len(obj.Levels.Bids) > 0 || len(obj.Levels.Asks) > 0) {
		ing.applyL2(obj.Coin, obj.Levels.Bids, obj.Levels.Asks)
		return
	}

	var arr l2BookArrayShape
	if err := json.Unmarshal(data, &arr); err == nil && len(arr.Levels) == 2 {
		ing.applyL2(arr.Coin, arr.Levels[0], arr.Levels[1])
	}
}

func (ing *Ingestor) applyL2(coin string, bids, asks []core.L2Level) {
	snap := core.L2Snapshot{
		Coin:         coin,
		Bids:         bids,
		Asks:         asks,
		ReceivedAtMs: time.Now().UnixMilli(),
	}
	ing.buffer.UpdateL2(snap)

	if ing.cfg.HarvestTicks {
		ing.appendTickRow(snap)
	}
}

func (ing *Ingestor) handleTrades(data json.RawMessage) {
	var trades []core.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return
	}
	for _, t := range trades {
		ing.buffer.AddTrade(t)
	}
}

type userFillsShape struct {
	IsSnapshot bool           `json:"isSnapshot"`
	Fills      []core.UserFill `json:"fills"`
}

func (ing *Ingestor) handleUserFills(data json.RawMessage) {
	var shape userFillsShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return
	}
	if shape.IsSnapshot {
		return
	}
	for _, f := range shape.Fills {
		ing.buffer.AddUserFill(f)
	}
}

// appendTickRow writes one CSV row to data/ticks/<COIN>/<YYYY-MM-DD>.csv
// in append mode.
func (ing *Ingestor) appendTickRow(snap core.L2Snapshot) {
	day := time.Now().UTC().Format("2006-01-02")
	dir := filepath.Join(ing.cfg.TickDataDir, snap.Coin)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	path := filepath.Join(dir, day+".csv")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	bb, _ := snap.BestBid()
	ba, _ := snap.BestAsk()
	fmt.Fprintf(f, "%d,%s,%.8f,%.8f,%.6f,%.4f\n",
		snap.ReceivedAtMs, snap.Coin, bb.Price, ba.Price, snap.Mid(), snap.SpreadBps())
}

type assetContextResp struct {
	Coin        string  `json:"coin"`
	Funding     float64 `json:"funding,string"`
	OpenInterest float64 `json:"openInterest,string"`
	OraclePx    float64 `json:"oraclePx,string"`
	DayNtlVlm   float64 `json:"dayNtlVlm,string"`
	SzDecimals  int     `json:"szDecimals"`
	MaxLeverage int     `json:"maxLeverage"`
}

// runContextRefresher fetches venue meta+asset-contexts every 60s and
// selects the top-100-by-day-notional-volume coins as the active
// universe.
func (ing *Ingestor) runContextRefresher(ctx context.Context) {
	defer ing.wg.Done()

	ing.refreshContext(ctx)
	ticker := time.NewTicker(contextRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.refreshContext(ctx)
		}
	}
}

func (ing *Ingestor) refreshContext(ctx context.Context) {
	body, err := ing.rest.Post(ctx, "/info", map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		if ing.cfg.Logger != nil {
			ing.cfg.Logger.Error("context refresh failed", "error", err)
		}
		return
	}

	var contexts []assetContextResp
	if err := json.Unmarshal(body, &contexts); err != nil {
		return
	}

	newContexts, universe := topUniverse(contexts, universeSize)

	ing.mu.Lock()
	ing.contexts = newContexts
	ing.universe = universe
	ing.mu.Unlock()
}

// topUniverse sorts by day notional volume descending and keeps the
// top n coins as the active universe.
func topUniverse(contexts []assetContextResp, n int) (map[string]core.MarketContext, []string) {
	sorted := make([]assetContextResp, len(contexts))
	copy(sorted, contexts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DayNtlVlm > sorted[j].DayNtlVlm })
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make(map[string]core.MarketContext, len(sorted))
	universe := make([]string, 0, len(sorted))
	for _, c := range sorted {
		out[c.Coin] = core.MarketContext{
			Coin:        c.Coin,
			Funding:     c.Funding,
			OpenInt:     c.OpenInterest,
			OraclePx:    c.OraclePx,
			DayNtlVlm:   c.DayNtlVlm,
			SzDecimals:  c.SzDecimals,
			MaxLeverage: c.MaxLeverage,
		}
		universe = append(universe, c.Coin)
	}
	return out, universe
}

// runStallWatcher inspects last_ws_message_ms every 5s; on a rising
// edge past StallTimeout it sets the stall flag and logs once.
func (ing *Ingestor) runStallWatcher(ctx context.Context) {
	defer ing.wg.Done()

	ticker := time.NewTicker(stallCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowMs := time.Now().UnixMilli()
			if ing.buffer.IsStalledNow(nowMs) {
				if ing.stall.SetStalled() && ing.cfg.Logger != nil {
					ing.cfg.Logger.Warn("WebSocket feed stalled", "stall_timeout", marketdata.StallTimeout)
				}
			}
		}
	}
}
