package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

type rawOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	OrderStatus  string `json:"orderStatus"`
	ReduceOnly   bool   `json:"reduceOnly"`
	TimeInForce  string `json:"timeInForce"`
	RejectReason string `json:"rejectReason"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

type orderList struct {
	List []rawOrder `json:"list"`
}

func normalizeStatus(s string) domain.OrderStatus {
	switch s {
	case "Filled":
		return domain.OrderStatusFilled
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	}
	// New, Untriggered, Triggered: still working on the book.
	return domain.OrderStatusNew
}

func (r rawOrder) toDomain() (*domain.Order, error) {
	side, err := fromExchangeSide(r.Side)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", r.OrderID, err)
	}
	var p numParser
	o := &domain.Order{
		OrderID:      r.OrderID,
		LinkID:       r.OrderLinkID,
		Symbol:       r.Symbol,
		Side:         side,
		Type:         domain.OrderType(r.OrderType),
		Qty:          p.num("qty", r.Qty),
		Price:        p.num("price", r.Price),
		AvgPrice:     p.num("avgPrice", r.AvgPrice),
		CumExecQty:   p.num("cumExecQty", r.CumExecQty),
		Status:       normalizeStatus(r.OrderStatus),
		ReduceOnly:   r.ReduceOnly,
		TimeInForce:  domain.TimeInForce(r.TimeInForce),
		RejectReason: r.RejectReason,
		CreatedAt:    parseMillis(r.CreatedTime),
		UpdatedAt:    parseMillis(r.UpdatedTime),
	}
	if p.err != nil {
		return nil, fmt.Errorf("order %s: %w", r.OrderID, p.err)
	}
	return o, nil
}

func (b *BybitAdapter) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	payload := map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      req.Symbol,
		"side":        toExchangeSide(req.Side),
		"orderType":   string(req.Type),
		"qty":         req.Qty.String(),
		"positionIdx": 0,
	}
	if !req.Price.IsZero() {
		payload["price"] = req.Price.String()
	}
	if req.TimeInForce != "" {
		payload["timeInForce"] = string(req.TimeInForce)
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if req.LinkID != "" {
		payload["orderLinkId"] = req.LinkID
	}

	result, err := b.post(ctx, "/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &ack); err != nil {
		return nil, fmt.Errorf("decode order ack: %w", err)
	}
	if ack.OrderID == "" {
		return nil, fmt.Errorf("order ack for %s carried no order id", req.Symbol)
	}

	b.logger.Info("Order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("qty", req.Qty.String()),
		zap.String("price", req.Price.String()),
		zap.Bool("reduce_only", req.ReduceOnly),
		zap.String("order_id", ack.OrderID),
		zap.String("link_id", ack.OrderLinkID),
	)
	return &domain.OrderAck{OrderID: ack.OrderID, LinkID: ack.OrderLinkID}, nil
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID, linkID string) error {
	payload := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
	}
	switch {
	case orderID != "":
		payload["orderId"] = orderID
	case linkID != "":
		payload["orderLinkId"] = linkID
	default:
		return domain.NewValidationError("order_id", "cancel needs an order id or link id")
	}
	_, err := b.post(ctx, "/v5/order/cancel", payload)
	return err
}

func (b *BybitAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	if symbol != "" {
		q.Set("symbol", symbol)
	} else {
		q.Set("settleCoin", "USDT")
	}
	q.Set("openOnly", "0")
	return b.queryOrders(ctx, "/v5/order/realtime", q)
}

// GetOrder looks at open orders first and falls back to order history,
// since a filled market order can leave the realtime list quickly.
func (b *BybitAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)

	orders, err := b.queryOrders(ctx, "/v5/order/realtime", q)
	if err != nil {
		return nil, err
	}
	if o := findOrder(orders, orderID); o != nil {
		return o, nil
	}

	q.Set("limit", "1")
	orders, err = b.queryOrders(ctx, "/v5/order/history", q)
	if err != nil {
		return nil, err
	}
	if o := findOrder(orders, orderID); o != nil {
		return o, nil
	}
	return nil, fmt.Errorf("%s on %s: %w", orderID, symbol, domain.ErrOrderNotFound)
}

func findOrder(orders []*domain.Order, orderID string) *domain.Order {
	for _, o := range orders {
		if o.OrderID == orderID {
			return o
		}
	}
	return nil
}

func (b *BybitAdapter) queryOrders(ctx context.Context, path string, q url.Values) ([]*domain.Order, error) {
	result, err := b.get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	var list orderList
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	orders := make([]*domain.Order, 0, len(list.List))
	var errs []error
	for _, raw := range list.List {
		o, err := raw.toDomain()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		orders = append(orders, o)
	}
	if len(errs) > 0 {
		b.logger.Warn("Dropped malformed orders", zap.String("path", path), zap.Error(errors.Join(errs...)))
	}
	return orders, nil
}
