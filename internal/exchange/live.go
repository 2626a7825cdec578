package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"market_maker/internal/core"
	sig "market_maker/internal/signer"
	httpclient "market_maker/pkg/http"
	"market_maker/pkg/retry"

	apperrors "market_maker/pkg/errors"
)

// Live is the real-venue exchange client: it signs every order/cancel
// action with the Signer, posts it through the resilient HTTP client,
// and classifies transport/logical failures 
type Live struct {
	http    *httpclient.Client
	signer  *sig.Signer
	limiter *rate.Limiter
	logger  core.ILogger

	address    ethcommon.Address
	vaultAddr  *ethcommon.Address

	mu         sync.Mutex
	coinToIdx  map[string]uint32
	assetInfo  map[uint32]AssetInfo

	cache *readCache
}

// LiveConfig configures a Live exchange client.
type LiveConfig struct {
	BaseURL       string
	Signer        *sig.Signer
	VaultAddress  *ethcommon.Address
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
	Logger         core.ILogger
}

// NewLive constructs a Live client. Call Init before use to populate
// per-coin asset metadata from the venue's meta endpoint.
func NewLive(cfg LiveConfig) *Live {
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Live{
		http:      httpclient.NewClient(cfg.BaseURL, cfg.Timeout, nil),
		signer:    cfg.Signer,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		logger:    cfg.Logger,
		address:   cfg.Signer.Address(),
		vaultAddr: cfg.VaultAddress,
		coinToIdx: make(map[string]uint32),
		assetInfo: make(map[uint32]AssetInfo),
		cache:     newReadCache(),
	}
}

// Init fetches venue metadata ({"type":"meta"}) and populates the
// coin -> asset index and per-asset sz_decimals/max_leverage tables.
func (l *Live) Init(ctx context.Context) error {
	body, err := l.post(ctx, map[string]string{"type": "meta"})
	if err != nil {
		return err
	}

	var meta struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return fmt.Errorf("%w: decode meta: %v", apperrors.ErrNetwork, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for idx, a := range meta.Universe {
		szDec := a.SzDecimals
		if szDec == 0 {
			szDec = 4
		}
		maxLev := a.MaxLeverage
		if maxLev == 0 {
			maxLev = 20
		}
		l.coinToIdx[a.Name] = uint32(idx)
		l.assetInfo[uint32(idx)] = AssetInfo{AssetIdx: uint32(idx), SzDecimals: szDec, MaxLeverage: maxLev}
	}
	return nil
}

func (l *Live) assetFor(coin string) (uint32, AssetInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.coinToIdx[coin]
	if !ok {
		return 0, AssetInfo{}, fmt.Errorf("%w: unknown coin %s", apperrors.ErrInvalidOrder, coin)
	}
	info, ok := l.assetInfo[idx]
	if !ok {
		info = AssetInfo{AssetIdx: idx, SzDecimals: 4, MaxLeverage: 20}
	}
	return idx, info, nil
}

// post sends a read-endpoint request, classifying rate-limit and
// network failures. Reads are idempotent so transient
// network errors are retried here; rate-limit responses are not
// retried at this level. The underlying pkg/http client has its own
// retry policy, which re-sends on transport errors, 5xx and 429 (up to
// 3 retries) for every request, order/cancel POSTs included.
func (l *Live) post(ctx context.Context, body interface{}) ([]byte, error) {
	var respBody []byte
	err := retry.Do(ctx, retry.DefaultPolicy, func(err error) bool {
		return errors.Is(err, apperrors.ErrNetwork)
	}, func() error {
		b, postErr := l.http.Post(ctx, "/info", body)
		if postErr != nil {
			return classifyHTTPErr(postErr)
		}
		if looksRateLimited(b) {
			return apperrors.ErrRateLimitExceeded
		}
		respBody = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func classifyHTTPErr(err error) error {
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.StatusCode == 429 {
			return apperrors.ErrRateLimitExceeded
		}
		if looksRateLimited(apiErr.Body) {
			return apperrors.ErrRateLimitExceeded
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

func asAPIError(err error) (*httpclient.APIError, bool) {
	apiErr, ok := err.(*httpclient.APIError)
	return apiErr, ok
}

func looksRateLimited(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "rate limited") || strings.Contains(s, "cumulative requests")
}

func (l *Live) GetBalance(ctx context.Context) (float64, error) {
	if cached, ok := l.cache.get("balance"); ok {
		return cached.(float64), nil
	}

	body, err := l.post(ctx, map[string]string{"type": "clearinghouseState", "user": l.address.Hex()})
	if err != nil {
		return 0, err
	}

	var state struct {
		Withdrawable string `json:"withdrawable"`
	}
	if err := json.Unmarshal(body, &state); err != nil {
		return 0, fmt.Errorf("%w: decode clearinghouseState: %v", apperrors.ErrNetwork, err)
	}
	// Conservative: always `withdrawable`, never `marginSummary.accountValue` —
	// switching to accountValue is an explicitly ruled-out behavior.
	withdrawable, _ := strconv.ParseFloat(state.Withdrawable, 64)
	l.cache.set("balance", withdrawable)
	return withdrawable, nil
}

func (l *Live) GetPositions(ctx context.Context) ([]core.Position, error) {
	if cached, ok := l.cache.get("positions"); ok {
		return cached.([]core.Position), nil
	}

	body, err := l.post(ctx, map[string]string{"type": "clearinghouseState", "user": l.address.Hex()})
	if err != nil {
		return nil, err
	}

	var state struct {
		AssetPositions []struct {
			Position struct {
				Coin     string `json:"coin"`
				Szi      string `json:"szi"`
				EntryPx  string `json:"entryPx"`
				Unrealized string `json:"unrealizedPnl"`
			} `json:"position"`
		} `json:"assetPositions"`
	}
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("%w: decode clearinghouseState: %v", apperrors.ErrNetwork, err)
	}

	positions := make([]core.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		szi, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if szi == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		upnl, _ := strconv.ParseFloat(ap.Position.Unrealized, 64)
		dir := core.DirectionLong
		size := szi
		if szi < 0 {
			dir = core.DirectionShort
			size = -szi
		}
		positions = append(positions, core.Position{
			Coin: ap.Position.Coin, Direction: dir, SizeCoins: size,
			EntryPrice: entry, UnrealizedPL: upnl,
		})
	}

	l.cache.set("positions", positions)
	return positions, nil
}

func (l *Live) GetAllMids(ctx context.Context) (map[string]float64, error) {
	if cached, ok := l.cache.get("allMids"); ok {
		return cached.(map[string]float64), nil
	}

	body, err := l.post(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode allMids: %v", apperrors.ErrNetwork, err)
	}
	mids := make(map[string]float64, len(raw))
	for coin, s := range raw {
		if f, perr := strconv.ParseFloat(s, 64); perr == nil {
			mids[coin] = f
		}
	}
	l.cache.set("allMids", mids)
	return mids, nil
}

func (l *Live) GetOpenOrders(ctx context.Context, coin string) ([]core.OrderView, error) {
	all, ok := l.cache.get("openOrders")
	if !ok {
		body, err := l.post(ctx, map[string]string{"type": "openOrders", "user": l.address.Hex()})
		if err != nil {
			return nil, err
		}
		var raw []struct {
			Coin      string `json:"coin"`
			OID       int64  `json:"oid"`
			Side      string `json:"side"`
			LimitPx   string `json:"limitPx"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: decode openOrders: %v", apperrors.ErrNetwork, err)
		}
		views := make([]core.OrderView, 0, len(raw))
		for _, o := range raw {
			px, _ := strconv.ParseFloat(o.LimitPx, 64)
			views = append(views, core.OrderView{Coin: o.Coin, OID: o.OID, IsBid: o.Side == "B", LimitPx: px, Ts: o.Timestamp})
		}
		l.cache.set("openOrders", views)
		all = views
	}

	views := all.([]core.OrderView)
	if coin == "" {
		return views, nil
	}
	filtered := make([]core.OrderView, 0, len(views))
	for _, v := range views {
		if v.Coin == coin {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

// OpenOrder places a signed order action: price rounds to 5
// significant figures (aggressive-taker multiplier applied first for
// non-post-only orders), size rounds to the asset's sz_decimals, both
// formatted with FloatToWire; leverage is clamped to the asset's max;
// post_only maps to Alo, otherwise Ioc.
func (l *Live) OpenOrder(ctx context.Context, req OpenOrderRequest) (core.TradeAction, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return core.TradeAction{}, fmt.Errorf("%w: rate limiter: %v", apperrors.ErrNetwork, err)
	}

	assetIdx, info, err := l.assetFor(req.Coin)
	if err != nil {
		return core.TradeAction{}, err
	}

	isBuy := req.Direction == core.DirectionLong
	executionPrice := req.Price
	if !req.PostOnly {
		if isBuy {
			executionPrice = req.Price * 1.05
		} else {
			executionPrice = req.Price * 0.95
		}
	}
	priceRounded := RoundTo5SigFigs(executionPrice)
	sizeRounded := RoundDecimals(req.SizeCoins, info.SzDecimals)

	finalLeverage := req.LeverageHint
	if finalLeverage > float64(info.MaxLeverage) {
		if l.logger != nil {
			l.logger.Warn("leverage hint clamped to venue max", "coin", req.Coin, "requested", finalLeverage, "max_leverage", info.MaxLeverage)
		}
		finalLeverage = float64(info.MaxLeverage)
	}
	_ = finalLeverage // account-level cross margin governs actual leverage

	tif := "Ioc"
	if req.PostOnly {
		tif = "Alo"
	}

	nonce := uint64(time.Now().UnixMilli())
	wireOrder := sig.WireOrder{
		Asset: assetIdx, IsBuy: isBuy,
		Price: FloatToWire(priceRounded), Size: FloatToWire(sizeRounded),
		ReduceOnly: req.ReduceOnly, TIF: tif,
	}

	action, signature, err := l.signer.SignOrderAction([]sig.WireOrder{wireOrder}, "na", nonce, l.vaultAddr)
	if err != nil {
		return core.TradeAction{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrder, err)
	}

	result, err := l.postSigned(ctx, action, nonce, signature)
	if err != nil {
		return core.TradeAction{}, err
	}
	if err := checkOrderStatuses(result); err != nil {
		return core.TradeAction{}, err
	}

	l.invalidateWriteCaches()

	return core.TradeAction{
		Coin: req.Coin, Direction: req.Direction, SizeCoins: sizeRounded,
		Price: priceRounded, Reason: "live order placed", Ts: int64(nonce),
	}, nil
}

func (l *Live) ClosePosition(ctx context.Context, coin string, price float64, reason string, ts int64) (core.TradeAction, error) {
	positions, err := l.GetPositions(ctx)
	if err != nil {
		return core.TradeAction{}, err
	}
	var pos *core.Position
	for i := range positions {
		if positions[i].Coin == coin {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return core.TradeAction{}, fmt.Errorf("%w: no live position to close for %s", apperrors.ErrInvalidOrder, coin)
	}

	isBuy := pos.Direction == core.DirectionShort
	dir := core.DirectionLong
	if !isBuy {
		dir = core.DirectionShort
	}

	return l.OpenOrder(ctx, OpenOrderRequest{
		Coin: coin, Direction: dir, SizeCoins: pos.SizeCoins, Price: price,
		PostOnly: false, ReduceOnly: true,
	})
}

func (l *Live) CancelOrder(ctx context.Context, assetIdx uint32, oid int64) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", apperrors.ErrNetwork, err)
	}
	nonce := uint64(time.Now().UnixMilli())
	action, signature, err := l.signer.SignCancelAction([]sig.WireCancel{{Asset: assetIdx, OID: uint64(oid)}}, nonce, l.vaultAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidOrder, err)
	}
	result, err := l.postSigned(ctx, action, nonce, signature)
	if err != nil {
		return err
	}
	if statusIsErr(result) {
		return fmt.Errorf("%w: cancel rejected", apperrors.ErrInvalidOrder)
	}
	l.invalidateWriteCaches()
	return nil
}

// CancelCoinOrders cancels every resting order for one coin, continuing
// on a per-order failure and logging each one.
func (l *Live) CancelCoinOrders(ctx context.Context, coin string) (int, error) {
	orders, err := l.GetOpenOrders(ctx, coin)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, o := range orders {
		idx, _, aerr := l.assetFor(o.Coin)
		if aerr != nil {
			continue
		}
		if cerr := l.CancelOrder(ctx, idx, o.OID); cerr == nil {
			cancelled++
		} else if l.logger != nil {
			l.logger.Warn("cancel order failed", "coin", o.Coin, "oid", o.OID, "error", cerr)
		}
	}
	return cancelled, nil
}

// CancelAllOrders cancels every resting order across every coin,
// continuing on a per-order failure. It returns an error only when the
// open-orders read fails; per-order failures show up as a short count
// rather than an error.
func (l *Live) CancelAllOrders(ctx context.Context) (int, error) {
	orders, err := l.GetOpenOrders(ctx, "")
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, o := range orders {
		idx, _, aerr := l.assetFor(o.Coin)
		if aerr != nil {
			continue
		}
		if cerr := l.CancelOrder(ctx, idx, o.OID); cerr == nil {
			cancelled++
		}
	}
	return cancelled, nil
}

// SweepDeadOrders cancels any resting order older than 15 minutes.
func (l *Live) SweepDeadOrders(ctx context.Context) error {
	orders, err := l.GetOpenOrders(ctx, "")
	if err != nil {
		return err
	}
	nowMs := time.Now().UnixMilli()
	for _, o := range orders {
		if nowMs > o.Ts && nowMs-o.Ts > 15*60*1000 {
			idx, _, aerr := l.assetFor(o.Coin)
			if aerr != nil {
				continue
			}
			_ = l.CancelOrder(ctx, idx, o.OID)
		}
	}
	return nil
}

func (l *Live) invalidateWriteCaches() {
	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()
	delete(l.cache.entries, "positions")
	delete(l.cache.entries, "openOrders")
	delete(l.cache.entries, "balance")
}

func (l *Live) postSigned(ctx context.Context, action json.RawMessage, nonce uint64, signature sig.Signature) (map[string]interface{}, error) {
	envelope := map[string]interface{}{
		"action":    json.RawMessage(action),
		"nonce":     nonce,
		"signature": map[string]interface{}{"r": signature.R, "s": signature.S, "v": signature.V},
	}
	if l.vaultAddr != nil {
		envelope["vaultAddress"] = l.vaultAddr.Hex()
	}

	body, err := l.http.Post(ctx, "/exchange", envelope)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	if looksRateLimited(body) {
		return nil, apperrors.ErrRateLimitExceeded
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode exchange response: %v", apperrors.ErrNetwork, err)
	}
	return result, nil
}

func statusIsErr(result map[string]interface{}) bool {
	status, _ := result["status"].(string)
	return status == "err"
}

// checkOrderStatuses inspects response.data.statuses[*].error per
// order; the venue can return an overall "ok" status while an
// individual order still failed (e.g. insufficient margin).
func checkOrderStatuses(result map[string]interface{}) error {
	if statusIsErr(result) {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidOrder, result["response"])
	}
	response, _ := result["response"].(map[string]interface{})
	if response == nil {
		return nil
	}
	data, _ := response["data"].(map[string]interface{})
	if data == nil {
		return nil
	}
	statuses, _ := data["statuses"].([]interface{})
	for _, st := range statuses {
		m, ok := st.(map[string]interface{})
		if !ok {
			continue
		}
		if errMsg, ok := m["error"].(string); ok && errMsg != "" {
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrder, errMsg)
		}
	}
	return nil
}

var _ Client = (*Live)(nil)
