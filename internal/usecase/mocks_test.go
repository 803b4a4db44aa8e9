package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

// fakeExchange is an in-memory domain.Exchange. Positions change only
// through the onPlace hook, which lets tests decide how fills land.
type fakeExchange struct {
	mu sync.Mutex

	instruments   map[string]*domain.InstrumentSpec
	instrumentErr error
	instrumentHit int

	tickers   map[string]*domain.Ticker
	tickerErr error

	positions     map[string]*domain.Position
	positionErrs  []error
	positionReads int
	onRead        func(f *fakeExchange, n int)

	placed   []*domain.OrderRequest
	placeErr error
	onPlace  func(f *fakeExchange, req *domain.OrderRequest)
	nextID   int

	orderStates []*domain.Order
	orderErrs   []error
	orderReads  int

	openOrders []*domain.Order
	cancelled  []string
	cancelErr  error

	leverage    []int
	leverageErr error

	stopRequests []*domain.TradingStopRequest
	stopErr      error
	dropSL       bool

	closedPnL []domain.ClosedPnL
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		instruments: map[string]*domain.InstrumentSpec{
			"BTCUSDT": {
				Symbol:      "BTCUSDT",
				QtyStep:     decimal.RequireFromString("0.001"),
				TickSize:    decimal.RequireFromString("0.1"),
				MinQty:      decimal.RequireFromString("0.001"),
				MaxQty:      decimal.RequireFromString("100"),
				MinLeverage: 1,
				MaxLeverage: 100,
			},
			"SOLUSDT": {
				Symbol:      "SOLUSDT",
				QtyStep:     decimal.RequireFromString("0.01"),
				TickSize:    decimal.RequireFromString("0.01"),
				MinQty:      decimal.RequireFromString("0.01"),
				MinLeverage: 1,
				MaxLeverage: 50,
			},
		},
		tickers:   map[string]*domain.Ticker{},
		positions: map[string]*domain.Position{},
	}
}

func (f *fakeExchange) setPosition(p domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Symbol] = &p
}

func (f *fakeExchange) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrumentHit++
	if f.instrumentErr != nil {
		return nil, f.instrumentErr
	}
	spec, ok := f.instruments[symbol]
	if !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	cp := *spec
	return &cp, nil
}

func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextID++
	if f.onPlace != nil {
		f.onPlace(f, req)
	}
	return &domain.OrderAck{OrderID: fmt.Sprintf("ord-%d", f.nextID), LinkID: req.LinkID}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

// GetOrder replays orderStates; the last entry repeats.
func (f *fakeExchange) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.orderReads
	f.orderReads++
	if i < len(f.orderErrs) && f.orderErrs[i] != nil {
		return nil, f.orderErrs[i]
	}
	if len(f.orderStates) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	if i >= len(f.orderStates) {
		i = len(f.orderStates) - 1
	}
	cp := *f.orderStates[i]
	return &cp, nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrders, nil
}

// GetPositions replays positionErrs first, then reports current state.
func (f *fakeExchange) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.positionReads
	f.positionReads++
	if f.onRead != nil {
		f.onRead(f, i)
	}
	if i < len(f.positionErrs) && f.positionErrs[i] != nil {
		return nil, f.positionErrs[i]
	}
	var out []*domain.Position
	for sym, p := range f.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leverageErr != nil {
		return f.leverageErr
	}
	f.leverage = append(f.leverage, leverage)
	return nil
}

func (f *fakeExchange) GetClosedPnL(ctx context.Context, symbol string, limit int) ([]domain.ClosedPnL, error) {
	return f.closedPnL, nil
}

func (f *fakeExchange) SetTradingStop(ctx context.Context, req *domain.TradingStopRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopRequests = append(f.stopRequests, req)
	p, ok := f.positions[req.Symbol]
	if !ok {
		return nil
	}
	if !req.StopLoss.IsZero() && !f.dropSL {
		p.StopLoss = req.StopLoss.InexactFloat64()
	}
	if f.dropSL {
		p.StopLoss = 0
	}
	if !req.TakeProfit.IsZero() {
		p.TakeProfit = req.TakeProfit.InexactFloat64()
	}
	return nil
}

// reduceBy shrinks the position on req.Symbol by the order quantity.
func reduceBy(f *fakeExchange, req *domain.OrderRequest) {
	p, ok := f.positions[req.Symbol]
	if !ok || !req.ReduceOnly {
		return
	}
	left := decimal.NewFromFloat(p.Size).Sub(req.Qty)
	if left.Sign() <= 0 {
		delete(f.positions, req.Symbol)
		return
	}
	p.Size = left.InexactFloat64()
}

type testCore struct {
	ex   *fakeExchange
	core *Core
}

func newTestCore(ex *fakeExchange) *testCore {
	core, err := NewCore(ex, newMemCounters(), &memHistory{}, CoreConfig{
		FillTimeout:      200 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		SettleDelay:      time.Millisecond,
		RetryDelay:       time.Millisecond,
		CloseMaxRetries:  2,
		InstrumentTTL:    time.Hour,
		TPPriceBufferPct: 0.0005,
		CounterTTL:       time.Hour,
	}, zap.NewNop(), nil)
	if err != nil {
		panic(err)
	}
	return &testCore{ex: ex, core: core}
}

// memCounters is a mutex-guarded CounterStore without expiry.
type memCounters struct {
	mu     sync.Mutex
	fields map[string]map[string]int64
	err    error
}

func newMemCounters() *memCounters {
	return &memCounters{fields: map[string]map[string]int64{}}
}

func (m *memCounters) Incr(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.fields[key] == nil {
		m.fields[key] = map[string]int64{}
	}
	m.fields[key][field] += delta
	return m.fields[key][field], nil
}

func (m *memCounters) Set(ctx context.Context, key, field string, value int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.fields[key] == nil {
		m.fields[key] = map[string]int64{}
	}
	m.fields[key][field] = value
	return nil
}

func (m *memCounters) GetAll(ctx context.Context, key string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]int64{}
	for k, v := range m.fields[key] {
		out[k] = v
	}
	return out, nil
}

// memHistory holds trades oldest first.
type memHistory struct {
	trades []domain.TradeRecord
	err    error
}

func (h *memHistory) TradesSince(ctx context.Context, userID int64, modeID string, since time.Time) ([]domain.TradeRecord, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []domain.TradeRecord
	for _, t := range h.trades {
		if t.UserID == userID && t.ModeID == modeID && !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *memHistory) RecentTrades(ctx context.Context, userID int64, modeID string, limit int) ([]domain.TradeRecord, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []domain.TradeRecord
	for i := len(h.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := h.trades[i]
		if t.UserID == userID && t.ModeID == modeID {
			out = append(out, t)
		}
	}
	return out, nil
}
