package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"market_maker/internal/core"
	"market_maker/internal/execution"
	"market_maker/internal/exchange"
	"market_maker/internal/ingestor"
	"market_maker/internal/ledger"
	"market_maker/internal/marketdata"
	"market_maker/internal/screener"
	sig "market_maker/internal/signer"
	metricsserver "market_maker/internal/infrastructure/metrics"
	"market_maker/pkg/logging"
	"market_maker/pkg/telemetry"
)

const mainLoopInterval = 100 * time.Millisecond

func main() {
	logger, err := logging.NewZapLogger(envOr("MM_LOG_LEVEL", "INFO"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	shadowMode := envBool("MM_SHADOW_MODE", true)
	logger.Info("starting market-making engine", "shadow_mode", shadowMode)

	if err := telemetry.InitMetrics(); err != nil {
		logger.Warn("metrics exporter init failed", "error", err)
	}
	metricsPort, _ := strconv.Atoi(envOr("MM_METRICS_PORT", "9090"))
	metricsSrv := metricsserver.NewServer(metricsPort, logger)
	metricsSrv.Start()

	buffer := marketdata.NewBuffer()
	var stall marketdata.StallFlag
	led := ledger.New(logger)

	ing := ingestor.New(ingestor.Config{
		WSURL:        envOr("HL_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		RestBaseURL:  envOr("HL_REST_URL", "https://api.hyperliquid.xyz"),
		UserAddress:  os.Getenv("HL_ADDRESS"),
		HarvestTicks: envBool("MM_HARVEST_TICKS", false),
		TickDataDir:  envOr("MM_TICK_DATA_DIR", "data/ticks"),
		Logger:       logger,
	}, buffer, &stall)

	exch, err := buildExchangeClient(shadowMode, logger)
	if err != nil {
		logger.Fatal("failed to build exchange client", "error", err)
	}

	sink := screener.NoopStatusSink{}
	eng := execution.New(execution.Config{
		ShadowMode: shadowMode,
		Logger:     logger,
	}, exch, buffer, led, sink)
	eng.SetFundingSource(ing)

	whitelist := strings.FieldsFunc(envOr("MM_COINS", "BTC,ETH"), func(r rune) bool { return r == ',' })
	eng.UpdateConfigs(defaultConfigs(whitelist))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ing.Start(ctx)

	if err := eng.ReconcileAfterReconnect(ctx); err != nil {
		logger.Warn("initial reconcile failed, starting halted", "error", err)
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	go runMainLoop(ctx, eng)
	go runFillDrainer(ctx, eng)
	go runDrawdownWatch(ctx, eng)
	go runStatusPublisher(ctx, eng, sink)
	go runStallMonitor(ctx, eng, buffer, &stall)

	<-stopCh
	logger.Info("shutdown signal received, cancelling all orders")
	eng.CancelAll(ctx)
	cancel()
	ing.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Stop(shutdownCtx)
}

func buildExchangeClient(shadowMode bool, logger core.ILogger) (exchange.Client, error) {
	if shadowMode {
		return exchange.NewSimulated(10000, -0.0001, 0.0005), nil
	}

	privKey := os.Getenv("HL_PRIVATE_KEY")
	if privKey == "" {
		return nil, fmt.Errorf("HL_PRIVATE_KEY must be set for live trading")
	}
	signer, err := sig.NewSigner(privKey, envBool("HL_MAINNET", true))
	if err != nil {
		return nil, fmt.Errorf("construct signer: %w", err)
	}

	live := exchange.NewLive(exchange.LiveConfig{
		BaseURL: envOr("HL_REST_URL", "https://api.hyperliquid.xyz"),
		Signer:  signer,
		Logger:  logger,
	})
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := live.Init(initCtx); err != nil {
		return nil, fmt.Errorf("init live client: %w", err)
	}
	return live, nil
}

// defaultConfigs builds a flat config for every whitelisted coin from
// env-tunable defaults, standing in for the external screener feed
// (no Redis transport ships here).
func defaultConfigs(coins []string) []core.AssetConfig {
	tickSize := envFloat("MM_TICK_SIZE", 0.01)
	minOrderUSD := envFloat("MM_MIN_ORDER_USD", 12)
	maxInvUSD := envFloat("MM_MAX_INV_USD", 5000)
	baseSpreadBps := envFloat("MM_BASE_SPREAD_BPS", 4)
	maxLayers, _ := strconv.Atoi(envOr("MM_MAX_LAYERS", "3"))

	out := make([]core.AssetConfig, 0, len(coins))
	for _, c := range coins {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, core.AssetConfig{
			Asset:         c,
			TickSize:      tickSize,
			MinOrderUSD:   minOrderUSD,
			MaxInvUSD:     maxInvUSD,
			BaseSpreadBps: baseSpreadBps,
			MaxLayers:     maxLayers,
			Regime:        core.RegimeCalm,
		})
	}
	return out
}

func runMainLoop(ctx context.Context, eng *execution.Engine) {
	ticker := time.NewTicker(mainLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, coin := range eng.Whitelist() {
				_ = eng.Tick(ctx, coin)
			}
		}
	}
}

func runFillDrainer(ctx context.Context, eng *execution.Engine) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.DrainAndApplyFills()
		}
	}
}

func runDrawdownWatch(ctx context.Context, eng *execution.Engine) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.CheckGlobalDrawdownStop(ctx)
		}
	}
}

// runStallMonitor reacts to the Ingestor's stall flag: on the rising
// edge it halts and cancels everything. Once WS traffic resumes (the
// buffer's last-message clock is fresh again) while the flag is still
// set, it reconciles and, on success, clears the flag so the watcher
// can raise it again on a future stall.
func runStallMonitor(ctx context.Context, eng *execution.Engine, buffer *marketdata.Buffer, stall *marketdata.StallFlag) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !stall.IsStalled() {
				continue
			}
			if buffer.IsStalledNow(time.Now().UnixMilli()) {
				eng.HaltOnStall(ctx)
				continue
			}
			if err := eng.ReconcileAfterReconnect(ctx); err == nil {
				stall.ClearStalled()
			}
		}
	}
}

func runStatusPublisher(ctx context.Context, eng *execution.Engine, sink screener.StatusSink) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := eng.Stats()
			sink.PublishStatus(screener.EngineStatus{
				Halted:       eng.IsHalted(),
				ActiveCoins:  eng.Whitelist(),
				DailyPnLUSD:  stats.DailyPnLUSD,
				TotalCancels: stats.TotalCancels,
				TotalFills:   stats.TotalFills,
			})
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
