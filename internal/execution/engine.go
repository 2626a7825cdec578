// Package execution is the orchestrator: it owns the exchange client,
// ledger, session stats, per-coin OFI trackers, regime governor, and
// the safety-guard chain that can escalate to a HALTED state.
// Per-coin fan-out for flush_orphaned_positions uses the alitto/pond
// worker pool, the same supervisory-loop shape used elsewhere in this
// repo for bounded concurrent fan-out.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"market_maker/pkg/concurrency"
	"market_maker/pkg/telemetry"

	"market_maker/internal/core"
	"market_maker/internal/exchange"
	"market_maker/internal/gridpricer"
	"market_maker/internal/ledger"
	"market_maker/internal/marketdata"
	"market_maker/internal/ofi"
	"market_maker/internal/performance"
	"market_maker/internal/regime"
	"market_maker/internal/screener"
	"market_maker/internal/shadow"
	"market_maker/pkg/logging"
)

const (
	dustSizeCoins          = 1e-6
	refreshCadenceLive     = 30 * time.Second
	stickyBandOfSpreadFrac = 0.5
	marginGrossCapDivisor  = 10.0
)

// Config tunes the engine's safety guards.
type Config struct {
	ShadowMode             bool
	GlobalHaltDrawdownPct  float64 // default 0.05
	MaxCancelFillRatio     float64 // default 50
	OFIHaltThreshold       float64 // default 0.70
	Logger                 core.ILogger
}

// Engine is the per-process market-making orchestrator. One Engine
// instance owns one exchange client and quotes the whitelist most
// recently passed to UpdateConfigs.
type Engine struct {
	cfg       Config
	exch      exchange.Client
	buffer    *marketdata.Buffer
	ledger    *ledger.Ledger
	regimeGov *regime.Governor
	perf      *performance.Monitor
	sink      screener.StatusSink
	sessionID string

	halted atomic.Bool

	statsMu sync.Mutex
	stats   core.SessionStats

	configMu sync.RWMutex
	configs  map[string]core.AssetConfig

	ofiMu    sync.Mutex
	trackers map[string]*ofi.Tracker

	refreshMu   sync.Mutex
	lastRefresh map[string]time.Time

	shadowEstimator *shadow.Estimator
	shadowSession   *shadow.Session

	fundingSrc FundingRateSource
	latency    *latencyTracker
	flushPool  *concurrency.WorkerPool
}

// FundingRateSource supplies the venue's current funding rate for a
// coin, used as a regime-governor input. The Ingestor's FundingRate
// method satisfies this.
type FundingRateSource interface {
	FundingRate(coin string) float64
}

// SetFundingSource wires the venue funding-rate feed. Optional; if never
// called, FundingRate is treated as 0 for every coin.
func (e *Engine) SetFundingSource(src FundingRateSource) { e.fundingSrc = src }

// New constructs an Engine. exch, buffer, and ledger must be non-nil;
// sink may be screener.NoopStatusSink{}.
func New(cfg Config, exch exchange.Client, buffer *marketdata.Buffer, led *ledger.Ledger, sink screener.StatusSink) *Engine {
	if cfg.GlobalHaltDrawdownPct == 0 {
		cfg.GlobalHaltDrawdownPct = 0.05
	}
	if cfg.MaxCancelFillRatio == 0 {
		cfg.MaxCancelFillRatio = 50
	}
	if cfg.OFIHaltThreshold == 0 {
		cfg.OFIHaltThreshold = ofi.DefaultThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(logging.ErrorLevel, nil)
	}
	return &Engine{
		cfg:             cfg,
		exch:            exch,
		buffer:          buffer,
		ledger:          led,
		regimeGov:       regime.New(),
		perf:            performance.New(performance.DefaultConfig()),
		sink:            sink,
		sessionID:       uuid.NewString(),
		configs:         make(map[string]core.AssetConfig),
		trackers:        make(map[string]*ofi.Tracker),
		lastRefresh:     make(map[string]time.Time),
		shadowEstimator: shadow.NewEstimator(),
		shadowSession:   shadow.NewSession(),
		latency:         newLatencyTracker(256),
		flushPool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "flush_orphaned_positions",
			MaxWorkers: 4,
		}, cfg.Logger),
	}
}

// SessionID returns this engine instance's session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// IsHalted reports the engine-level ACTIVE/HALTED state. Regime halt
// does not set this; it only short-circuits the quoting loop for that
// coin.
func (e *Engine) IsHalted() bool { return e.halted.Load() }

func (e *Engine) setHalted(v bool) {
	e.halted.Store(v)
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen("engine", v)
}

// UpdateConfigs atomically replaces the quoting whitelist. Absence of a
// coin from the new set means "stop quoting and flush".
func (e *Engine) UpdateConfigs(configs []core.AssetConfig) {
	m := make(map[string]core.AssetConfig, len(configs))
	for _, c := range configs {
		m[c.Asset] = c
	}
	e.configMu.Lock()
	e.configs = m
	e.configMu.Unlock()
}

// Whitelist returns the coins currently eligible to quote.
func (e *Engine) Whitelist() []string {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	out := make([]string, 0, len(e.configs))
	for coin := range e.configs {
		out = append(out, coin)
	}
	return out
}

func (e *Engine) configFor(coin string) (core.AssetConfig, bool) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	c, ok := e.configs[coin]
	return c, ok
}

func (e *Engine) trackerFor(coin string) *ofi.Tracker {
	e.ofiMu.Lock()
	defer e.ofiMu.Unlock()
	t, ok := e.trackers[coin]
	if !ok {
		t = ofi.New()
		e.trackers[coin] = t
	}
	return t
}

// Stats returns a copy of the engine-wide session stats.
func (e *Engine) Stats() core.SessionStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// CancelAll cancels every resting order across every coin. In shadow
// mode this is a no-op returning 0. On exchange failure the engine
// escalates to HALTED and returns 0 — this never returns an error to
// the caller, matching the "never raises" contract.
func (e *Engine) CancelAll(ctx context.Context) int {
	if e.cfg.ShadowMode {
		return 0
	}
	n, err := e.exch.CancelAllOrders(ctx)
	if err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error("cancel_all failed, halting", "error", err)
		}
		e.setHalted(true)
		return 0
	}
	e.statsMu.Lock()
	e.stats.TotalCancels += int64(n)
	e.statsMu.Unlock()
	return n
}

// HaltOnStall escalates to HALTED and cancels every resting order. Called
// by the stall monitor on the WS feed's rising edge; recovery happens via
// ReconcileAfterReconnect on the falling edge.
func (e *Engine) HaltOnStall(ctx context.Context) {
	e.setHalted(true)
	e.CancelAll(ctx)
}

// ReconcileAfterReconnect cancels every resting order, refetches live
// positions, and reconciles the ledger against them. On success it
// anchors starting_balance if unset and clears HALTED. On any failure
// it sets HALTED.
func (e *Engine) ReconcileAfterReconnect(ctx context.Context) error {
	e.CancelAll(ctx)

	positions, err := e.exch.GetPositions(ctx)
	if err != nil {
		e.setHalted(true)
		return fmt.Errorf("reconcile: get positions: %w", err)
	}

	deltas := e.ledger.Reconcile(positions)
	for _, d := range deltas {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Warn("dark fill reconciled", "coin", d.Coin, "delta", d.Delta)
		}
	}

	balance, err := e.exch.GetBalance(ctx)
	if err != nil {
		e.setHalted(true)
		return fmt.Errorf("reconcile: get balance: %w", err)
	}

	e.statsMu.Lock()
	if e.stats.StartingBalance == 0 {
		e.stats.StartingBalance = balance
	}
	e.statsMu.Unlock()

	e.setHalted(false)
	return nil
}

// CheckGlobalDrawdownStop halts and cancels everything if the session's
// daily drawdown has breached the configured cap.
func (e *Engine) CheckGlobalDrawdownStop(ctx context.Context) bool {
	stats := e.Stats()
	if stats.DailyDrawdownPct() < e.cfg.GlobalHaltDrawdownPct {
		return false
	}
	e.setHalted(true)
	e.CancelAll(ctx)
	if e.cfg.Logger != nil {
		e.cfg.Logger.Error("global drawdown stop triggered", "drawdown_pct", stats.DailyDrawdownPct())
	}
	return true
}

// RecordTakerTrade folds one public taker trade into the coin's OFI
// tracker and, in shadow mode, the queue-position estimator.
func (e *Engine) RecordTakerTrade(coin string, isBuy bool, price, size float64) {
	e.trackerFor(coin).Record(isBuy, price*size)
	if e.cfg.ShadowMode {
		e.shadowEstimator.OnTrade(core.Trade{Coin: coin, IsBuy: isBuy, Price: price, Size: size, Ts: time.Now().UnixMilli()})
	}
}

// OFIBidsBlocked reports whether sell-side order flow imbalance on a
// coin exceeds the halt threshold, meaning bids should be suppressed.
func (e *Engine) OFIBidsBlocked(coin string) bool {
	return e.trackerFor(coin).ShouldCancelBids(e.cfg.OFIHaltThreshold)
}

// OFIAsksBlocked reports whether buy-side order flow imbalance on a
// coin exceeds the halt threshold, meaning asks should be suppressed.
func (e *Engine) OFIAsksBlocked(coin string) bool {
	return e.trackerFor(coin).ShouldCancelAsks(e.cfg.OFIHaltThreshold)
}

// IsCancelFillRatioBreached reports whether the session's cumulative
// cancel-to-fill ratio exceeds the configured cap.
func (e *Engine) IsCancelFillRatioBreached() bool {
	return e.Stats().CancelFillRatio() > e.cfg.MaxCancelFillRatio
}

// HasSufficientMargin reports whether placing totalNotionalUSD of new
// orders stays within the engine-wide 10x gross cap. Always true in
// shadow mode. On a balance-fetch failure it fails safe (false).
func (e *Engine) HasSufficientMargin(ctx context.Context, totalNotionalUSD float64) bool {
	if e.cfg.ShadowMode {
		return true
	}
	balance, err := e.exch.GetBalance(ctx)
	if err != nil {
		return false
	}
	return balance >= totalNotionalUSD/marginGrossCapDivisor
}

// FlushOrphanedPositions cancels and reduces every live position whose
// coin is not in the active set, at current mid (falling back to entry
// price), using a post-only reduce-direction order. Every action is
// logged.
func (e *Engine) FlushOrphanedPositions(ctx context.Context, active map[string]bool) {
	positions, err := e.exch.GetPositions(ctx)
	if err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error("flush_orphaned_positions: get positions failed", "error", err)
		}
		return
	}

	mids, midsErr := e.exch.GetAllMids(ctx)

	var wg sync.WaitGroup
	for _, p := range positions {
		if active[p.Coin] {
			continue
		}
		if math.Abs(p.SizeCoins) < dustSizeCoins {
			continue
		}

		p := p
		wg.Add(1)
		e.flushPool.Submit(func() {
			defer wg.Done()
			e.flushOnePosition(ctx, p, mids, midsErr == nil)
		})
	}
	wg.Wait()
}

func (e *Engine) flushOnePosition(ctx context.Context, p core.Position, mids map[string]float64, haveMids bool) {
	if _, err := e.exch.CancelCoinOrders(ctx, p.Coin); err != nil {
		e.cfg.Logger.Error("flush_orphaned_positions: cancel failed", "coin", p.Coin, "error", err)
		return
	}

	px := p.EntryPrice
	if haveMids {
		if m, ok := mids[p.Coin]; ok && m > 0 {
			px = m
		}
	}

	reduceDir := core.DirectionShort
	if p.Direction == core.DirectionShort {
		reduceDir = core.DirectionLong
	}

	req := exchange.OpenOrderRequest{
		Coin:      p.Coin,
		Direction: reduceDir,
		SizeCoins: p.SizeCoins,
		Price:     px,
		PostOnly:  true,
	}
	if _, err := e.exch.OpenOrder(ctx, req); err != nil {
		e.cfg.Logger.Error("flush_orphaned_positions: reduce order failed", "coin", p.Coin, "error", err)
		return
	}
	e.cfg.Logger.Info("flushed orphaned position", "coin", p.Coin, "size", p.SizeCoins, "price", px)
}

// DrainAndApplyFills drains the Market Data Buffer's private-fill queue
// and applies each fill to the ledger in arrival order, incrementing
// total_fills for the cancel-to-fill ratio as it goes.
func (e *Engine) DrainAndApplyFills() {
	fills := e.buffer.DrainUserFills()
	if len(fills) == 0 {
		return
	}
	e.statsMu.Lock()
	e.stats.TotalFills += int64(len(fills))
	e.statsMu.Unlock()

	for _, f := range fills {
		e.ledger.ApplyFill(f.Coin, f.IsBuy, f.Size)
		pnlDelta := f.Price * f.Size * signOf(f.IsBuy)
		e.perf.RecordTrade(pnlDelta)

		e.statsMu.Lock()
		e.stats.DailyPnLUSD = ledger.AccumulatePnL(e.stats.DailyPnLUSD, pnlDelta)
		e.statsMu.Unlock()
	}
}

// scaleGridSizes shrinks every quote's USD size in place, used when the
// performance monitor suggests ActionReduceSize.
func scaleGridSizes(grid *core.QuoteGrid, mult float64) {
	for i := range grid.Bids {
		grid.Bids[i].SizeUSD *= mult
	}
	for i := range grid.Asks {
		grid.Asks[i].SizeUSD *= mult
	}
}

func signOf(isBuy bool) float64 {
	if isBuy {
		return -1 // buying costs notional; realized PnL accounting happens at close, this is a rough per-fill signal for the performance monitor
	}
	return 1
}

// Tick runs the per-coin quoting algorithm for one coin, one pass.
func (e *Engine) Tick(ctx context.Context, coin string) error {
	if e.IsHalted() {
		return nil
	}

	cfg, ok := e.configFor(coin)
	if !ok || cfg.Regime == core.RegimeHalt {
		return nil
	}

	snap, ok := e.buffer.L2(coin)
	if !ok {
		return nil
	}
	mid := snap.Mid()
	if mid <= 0 {
		return nil
	}

	if t, ok := e.buffer.LatestTrade(coin); ok {
		e.RecordTakerTrade(coin, t.IsBuy, t.Price, t.Size)
	}

	p95Latency := e.latency.P95Us()
	var fundingRate float64
	if e.fundingSrc != nil {
		fundingRate = e.fundingSrc.FundingRate(coin)
	}
	regimeOut := e.regimeGov.Update(regime.Inputs{
		ATRFraction:     cfg.ATRFraction,
		CancelFillRatio: e.Stats().CancelFillRatio(),
		P95LatencyUs:    p95Latency,
		FundingRate:     fundingRate,
	})
	if regimeOut.Regime == core.RegimeHalt {
		return nil
	}

	perfMetrics := e.perf.GetMetrics()
	if perfMetrics.SuggestedAction == performance.ActionHaltTrading {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error("performance halt triggered", "profit_factor", perfMetrics.ProfitFactor, "trades", perfMetrics.TradeCount)
		}
		e.setHalted(true)
		e.CancelAll(ctx)
		return nil
	}

	invUSD := e.ledger.PositionUSD(coin, mid)

	suppressBids := e.OFIBidsBlocked(coin)
	suppressAsks := e.OFIAsksBlocked(coin)

	if math.Abs(invUSD) > cfg.MaxInvUSD {
		if invUSD > 0 {
			suppressBids = true
		} else {
			suppressAsks = true
		}
	}

	grid := gridpricer.Compute(gridpricer.Inputs{
		Mid:           mid,
		TickSize:      cfg.TickSize,
		MinOrderUSD:   cfg.MinOrderUSD,
		MaxInvUSD:     cfg.MaxInvUSD,
		BaseSpreadBps: cfg.BaseSpreadBps,
		MaxLayers:     cfg.MaxLayers,
		RegimeMult:    regimeOut.SpreadMultiplier,
		InventoryUSD:  invUSD,
		SuppressBids:  suppressBids,
		SuppressAsks:  suppressAsks,
	})

	if perfMetrics.SuggestedAction == performance.ActionReduceSize {
		scaleGridSizes(&grid, perfMetrics.ReduceSizeMult)
	}

	if e.cfg.ShadowMode {
		e.runShadowStep(coin, grid, mid)
		return nil
	}

	return e.runLiveStep(ctx, coin, cfg, grid, mid)
}

func (e *Engine) runLiveStep(ctx context.Context, coin string, cfg core.AssetConfig, grid core.QuoteGrid, mid float64) error {
	e.refreshMu.Lock()
	last, seen := e.lastRefresh[coin]
	if seen && time.Since(last) < refreshCadenceLive {
		e.refreshMu.Unlock()
		return nil
	}
	e.refreshMu.Unlock()

	resting, err := e.exch.GetOpenOrders(ctx, coin)
	if err != nil {
		return err
	}

	if isSticky(resting, grid, cfg.BaseSpreadBps, mid) {
		return nil
	}

	if _, err := e.exch.CancelCoinOrders(ctx, coin); err != nil {
		return err
	}
	e.statsMu.Lock()
	e.stats.TotalCancels += int64(len(resting))
	e.statsMu.Unlock()

	total := 0.0
	for _, q := range grid.AllQuotes() {
		total += q.SizeUSD
	}
	if !e.HasSufficientMargin(ctx, total) {
		return nil
	}

	for _, q := range grid.AllQuotes() {
		dir := core.DirectionLong
		if q.Side == core.SideAsk {
			dir = core.DirectionShort
		}
		sizeCoins := q.SizeUSD / q.Price
		start := time.Now()
		_, err := e.exch.OpenOrder(ctx, exchange.OpenOrderRequest{
			Coin:      coin,
			Direction: dir,
			SizeCoins: sizeCoins,
			Price:     q.Price,
			PostOnly:  true,
		})
		e.latency.Record(time.Since(start))
		if err != nil {
			if e.cfg.Logger != nil {
				e.cfg.Logger.Error("open_order failed", "coin", coin, "side", q.Side, "error", err)
			}
			continue
		}
	}

	e.refreshMu.Lock()
	e.lastRefresh[coin] = time.Now()
	e.refreshMu.Unlock()
	return nil
}

func (e *Engine) runShadowStep(coin string, grid core.QuoteGrid, mid float64) {
	now := time.Now().UnixMilli()
	for _, q := range grid.AllQuotes() {
		key := shadow.QueueKey{Coin: coin, Side: q.Side, Layer: q.Layer}
		e.shadowEstimator.Register(key, q.Price, q.Side == core.SideBid, q.SizeUSD, now)

		if e.shadowEstimator.IsLikelyFilled(key, 0.70) {
			price, sizeUSD, isBid, ok := e.shadowEstimator.Entry(key)
			if !ok {
				continue
			}
			fill := e.shadowSession.RecordFill(coin, q.Side, price, sizeUSD, now)
			e.shadowEstimator.Remove(key)

			sizeCoins := sizeUSD / price
			e.ledger.ApplyFill(coin, isBid, sizeCoins)
			if e.sink != nil {
				e.sink.PublishShadowFill(fill)
			}
		}
	}
}

// isSticky reports whether every target quote already has a matching
// resting order within 0.5*base_spread*mid, and the counts match
// exactly — in which case the coin's orders should be left alone to
// preserve queue position.
func isSticky(resting []core.OrderView, grid core.QuoteGrid, baseSpreadBps, mid float64) bool {
	targets := grid.AllQuotes()
	if len(resting) != len(targets) {
		return false
	}
	band := stickyBandOfSpreadFrac * (baseSpreadBps / 1e4 * mid)

	for _, t := range targets {
		found := false
		for _, r := range resting {
			if r.IsBid != (t.Side == core.SideBid) {
				continue
			}
			if math.Abs(r.LimitPx-t.Price) <= band {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
