package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// IsTerminal reports whether the exchange will no longer change the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

type TimeInForce string

const (
	TimeInForceGTC      TimeInForce = "GTC"
	TimeInForceIOC      TimeInForce = "IOC"
	TimeInForceFOK      TimeInForce = "FOK"
	TimeInForcePostOnly TimeInForce = "PostOnly"
)

// MaxLinkIDLength is the longest client order id the exchange accepts.
const MaxLinkIDLength = 36

// OrderSpec is what a caller asks for. Quantities and prices are raw and
// get rounded against the instrument before submission.
type OrderSpec struct {
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	Qty         float64     `json:"qty"`
	Price       float64     `json:"price,omitempty"`
	LinkID      string      `json:"link_id,omitempty"`
	ReduceOnly  bool        `json:"reduce_only"`
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`
	PostOnly    bool        `json:"post_only"`

	// PositionSide is the side of the position a reduce-only order is
	// expected to shrink. Left empty, it is read from the open position.
	PositionSide Side `json:"position_side,omitempty"`

	// Leverage is applied before placement when > 0. It is capped by the
	// trading mode (the default mode when Mode is empty) and by MaxLeverage
	// when that is lower.
	Mode        string `json:"mode,omitempty"`
	Leverage    int    `json:"leverage,omitempty"`
	MaxLeverage int    `json:"max_leverage,omitempty"`
}

// OrderRequest is an order that passed validation and rounding.
// A zero Price means no price is sent.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	LinkID      string
	ReduceOnly  bool
	TimeInForce TimeInForce
}

type OrderAck struct {
	OrderID string
	LinkID  string
}

// OrderHandle identifies a placed order for later lookup or cancel.
type OrderHandle struct {
	Symbol  string    `json:"symbol"`
	OrderID string    `json:"order_id"`
	LinkID  string    `json:"link_id"`
	Side    Side      `json:"side"`
	Type    OrderType `json:"type"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price,omitempty"`
}

// Order is the exchange view of an order.
type Order struct {
	OrderID      string      `json:"order_id"`
	LinkID       string      `json:"link_id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Type         OrderType   `json:"type"`
	Qty          float64     `json:"qty"`
	Price        float64     `json:"price"`
	AvgPrice     float64     `json:"avg_price"`
	CumExecQty   float64     `json:"cum_exec_qty"`
	Status       OrderStatus `json:"status"`
	ReduceOnly   bool        `json:"reduce_only"`
	TimeInForce  TimeInForce `json:"time_in_force"`
	RejectReason string      `json:"reject_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TradingStopRequest sets position-level protective stops.
// A zero value leaves that field out of the request.
type TradingStopRequest struct {
	Symbol     string
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// LadderLevel is one take-profit rung: a target price and the quantity it closes.
type LadderLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// TPTarget expresses a ladder rung as a share of the position.
type TPTarget struct {
	Price   float64 `json:"price"`
	Percent float64 `json:"percent"`
}
