package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
)

// stubExchange fills every order at once. Reduce-only orders shrink the
// position unless sticky is set.
type stubExchange struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	placeErr  error
	sticky    bool
	restOnly  bool
	nextID    int
}

func newStubExchange() *stubExchange {
	return &stubExchange{
		positions: map[string]*domain.Position{},
		orders:    map[string]*domain.Order{},
	}
}

func (s *stubExchange) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	return &domain.InstrumentSpec{
		Symbol:      symbol,
		QtyStep:     decimal.RequireFromString("0.001"),
		TickSize:    decimal.RequireFromString("0.1"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinLeverage: 1,
		MaxLeverage: 100,
	}, nil
}

func (s *stubExchange) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return nil, fmt.Errorf("ticker %s unavailable", symbol)
}

func (s *stubExchange) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.nextID++
	id := fmt.Sprintf("ord-%d", s.nextID)
	status := domain.OrderStatusFilled
	if s.restOnly {
		status = domain.OrderStatusNew
	}
	s.orders[id] = &domain.Order{
		OrderID:    id,
		LinkID:     req.LinkID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty.InexactFloat64(),
		AvgPrice:   100,
		CumExecQty: req.Qty.InexactFloat64(),
		Status:     status,
	}
	if req.ReduceOnly && !s.sticky {
		if p, ok := s.positions[req.Symbol]; ok {
			p.Size, _ = decimal.NewFromFloat(p.Size).Sub(req.Qty).Float64()
			if p.Size <= 0 {
				delete(s.positions, req.Symbol)
			}
		}
	}
	return &domain.OrderAck{OrderID: id, LinkID: req.LinkID}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol, orderID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !s.restOnly {
		o.Status = domain.OrderStatusCancelled
	}
	return nil
}

func (s *stubExchange) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubExchange) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for sym, p := range s.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (s *stubExchange) GetClosedPnL(ctx context.Context, symbol string, limit int) ([]domain.ClosedPnL, error) {
	return []domain.ClosedPnL{{OrderID: "pnl-1", Symbol: symbol, PnL: 4.2}}, nil
}

func (s *stubExchange) SetTradingStop(ctx context.Context, req *domain.TradingStopRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[req.Symbol]
	if !ok {
		return domain.ErrNoPosition
	}
	if !req.StopLoss.IsZero() {
		p.StopLoss = req.StopLoss.InexactFloat64()
	}
	if !req.TakeProfit.IsZero() {
		p.TakeProfit = req.TakeProfit.InexactFloat64()
	}
	return nil
}
