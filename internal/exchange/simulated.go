package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market_maker/internal/core"
	apperrors "market_maker/pkg/errors"
)

// Simulated is an in-memory venue: immediate fill on open, one position
// per coin, fees charged as notional * fee rate.
type Simulated struct {
	mu sync.Mutex

	balance   float64
	makerFee  float64
	takerFee  float64
	positions map[string]core.Position
	orders    map[int64]simOrder
	nextOID   int64
}

type simOrder struct {
	coin    string
	isBid   bool
	price   float64
	size    float64
	placeTs int64
}

// NewSimulated constructs a Simulated exchange with a starting balance
// and maker/taker fee rates (fee rates may be negative to model a
// rebate, matching the source's `-0.0001` maker convention).
func NewSimulated(startingBalance, makerFee, takerFee float64) *Simulated {
	return &Simulated{
		balance:   startingBalance,
		makerFee:  makerFee,
		takerFee:  takerFee,
		positions: make(map[string]core.Position),
		orders:    make(map[int64]simOrder),
	}
}

func (s *Simulated) GetBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Simulated) GetPositions(ctx context.Context) ([]core.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Simulated) GetAllMids(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (s *Simulated) GetOpenOrders(ctx context.Context, coin string) ([]core.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.OrderView, 0)
	for oid, o := range s.orders {
		if coin != "" && o.coin != coin {
			continue
		}
		out = append(out, core.OrderView{Coin: o.coin, OID: oid, IsBid: o.isBid, LimitPx: o.price, Ts: o.placeTs})
	}
	return out, nil
}

// OpenOrder fills immediately: the simulator does not model a resting
// order book, it models the *result* of quoting (fill-on-cross is
// assumed for the grid's purposes; the Shadow Simulator is the
// component that actually models queue position for a live venue).
func (s *Simulated) OpenOrder(ctx context.Context, req OpenOrderRequest) (core.TradeAction, error) {
	if req.SizeCoins <= 0 {
		return core.TradeAction{}, fmt.Errorf("%w: size must be positive", apperrors.ErrInvalidOrder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	notional := req.SizeCoins * req.Price
	feeRate := s.makerFee
	if !req.PostOnly {
		feeRate = s.takerFee
	}
	fee := notional * feeRate
	if s.balance < fee {
		return core.TradeAction{}, apperrors.ErrInsufficientFunds
	}
	s.balance -= fee

	signedDelta := req.SizeCoins
	if req.Direction == core.DirectionShort {
		signedDelta = -signedDelta
	}
	s.applyFillLocked(req.Coin, signedDelta, req.Price)

	s.nextOID++
	return core.TradeAction{
		Coin:      req.Coin,
		OID:       s.nextOID,
		Direction: req.Direction,
		SizeCoins: req.SizeCoins,
		Price:     req.Price,
		Reason:    "simulated fill",
		Ts:        time.Now().UnixMilli(),
	}, nil
}

func (s *Simulated) applyFillLocked(coin string, signedDelta, price float64) {
	pos, ok := s.positions[coin]
	if !ok {
		dir := core.DirectionLong
		if signedDelta < 0 {
			dir = core.DirectionShort
		}
		s.positions[coin] = core.Position{Coin: coin, Direction: dir, SizeCoins: absF(signedDelta), EntryPrice: price}
		return
	}
	newSigned := pos.SignedSize() + signedDelta
	if newSigned == 0 {
		delete(s.positions, coin)
		return
	}
	dir := core.DirectionLong
	if newSigned < 0 {
		dir = core.DirectionShort
	}
	pos.Direction = dir
	pos.SizeCoins = absF(newSigned)
	s.positions[coin] = pos
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Simulated) ClosePosition(ctx context.Context, coin string, price float64, reason string, ts int64) (core.TradeAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[coin]
	if !ok {
		return core.TradeAction{}, fmt.Errorf("%w: no live position to close for %s", apperrors.ErrInvalidOrder, coin)
	}

	signedDelta := -pos.SignedSize()
	s.applyFillLocked(coin, signedDelta, price)

	return core.TradeAction{
		Coin:      coin,
		Direction: pos.Direction,
		SizeCoins: pos.SizeCoins,
		Price:     price,
		Reason:    reason,
		Ts:        ts,
	}, nil
}

func (s *Simulated) CancelOrder(ctx context.Context, assetIdx uint32, oid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, oid)
	return nil
}

func (s *Simulated) CancelCoinOrders(ctx context.Context, coin string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for oid, o := range s.orders {
		if o.coin == coin {
			delete(s.orders, oid)
			n++
		}
	}
	return n, nil
}

func (s *Simulated) CancelAllOrders(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.orders)
	s.orders = make(map[int64]simOrder)
	return n, nil
}

func (s *Simulated) SweepDeadOrders(ctx context.Context) error {
	return nil
}

var _ Client = (*Simulated)(nil)
