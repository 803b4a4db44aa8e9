package domain

import (
	"context"
	"time"
)

// InstrumentGateway looks up contract constraints.
type InstrumentGateway interface {
	GetInstrument(ctx context.Context, symbol string) (*InstrumentSpec, error)
}

type MarketGateway interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// OrderGateway covers order placement and lookup.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID, linkID string) error
	// GetOrder checks open orders first, then order history. It returns
	// ErrOrderNotFound when neither knows the order.
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)
}

// PositionGateway covers position snapshots and position-level settings.
type PositionGateway interface {
	// GetPositions returns the raw snapshot, including zero-size entries.
	GetPositions(ctx context.Context, symbol string) ([]*Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetClosedPnL(ctx context.Context, symbol string, limit int) ([]ClosedPnL, error)
}

// TradingStopGateway is the raw protective-stop setter. It sends exactly
// the fields present in req and nothing else.
type TradingStopGateway interface {
	SetTradingStop(ctx context.Context, req *TradingStopRequest) error
}

// Exchange is everything the execution core needs from a venue.
type Exchange interface {
	InstrumentGateway
	MarketGateway
	OrderGateway
	PositionGateway
	TradingStopGateway
}

// CounterStore is an external key/hash store with atomic increments and expiry.
type CounterStore interface {
	Incr(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error)
	Set(ctx context.Context, key, field string, value int64, ttl time.Duration) error
	GetAll(ctx context.Context, key string) (map[string]int64, error)
}

// TradeHistory is a read-only view over the trade ledger.
type TradeHistory interface {
	TradesSince(ctx context.Context, userID int64, modeID string, since time.Time) ([]TradeRecord, error)
	RecentTrades(ctx context.Context, userID int64, modeID string, limit int) ([]TradeRecord, error)
}
