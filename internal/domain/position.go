package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that reduces a position held on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Position is a live exchange position snapshot. A symbol with no
// position is simply absent from a snapshot; callers treat that as closed.
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	Leverage         float64   `json:"leverage"`
	StopLoss         float64   `json:"stop_loss,omitempty"`
	TakeProfit       float64   `json:"take_profit,omitempty"`
	LiquidationPrice float64   `json:"liquidation_price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnL      float64   `json:"realized_pnl"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ClosedPnL is one realized-PnL record from the exchange.
type ClosedPnL struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Leverage   float64   `json:"leverage"`
	CreatedAt  time.Time `json:"created_at"`
}

// CloseResult reports the outcome of a full close.
type CloseResult struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	ClosedQty  float64 `json:"closed_qty"`
	Attempts   int     `json:"attempts"`
	Verified   bool    `json:"verified"`
	LastOrder  string  `json:"last_order_id"`
	EntryPrice float64 `json:"entry_price"`
}

type PartialCloseResult struct {
	Symbol        string  `json:"symbol"`
	ClosedQty     float64 `json:"closed_qty"`
	OriginalSize  float64 `json:"original_size"`
	RemainingSize float64 `json:"remaining_size"`
	Percent       float64 `json:"percent"`
	OrderID       string  `json:"order_id"`
}

type MoveSLResult struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	OldSL      float64 `json:"old_sl"`
	NewSL      float64 `json:"new_sl"`
}

// TradingStopResult captures the protective stops before and after a merge.
type TradingStopResult struct {
	Symbol        string  `json:"symbol"`
	PreviousSL    float64 `json:"previous_sl"`
	PreviousTP    float64 `json:"previous_tp"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	ConfirmedSL   float64 `json:"confirmed_sl"`
	ConfirmedTP   float64 `json:"confirmed_tp"`
	SLDisappeared bool    `json:"sl_disappeared"`
}
