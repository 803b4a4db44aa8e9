package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

type rawPosition struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Size           string `json:"size"`
	AvgPrice       string `json:"avgPrice"`
	MarkPrice      string `json:"markPrice"`
	Leverage       string `json:"leverage"`
	StopLoss       string `json:"stopLoss"`
	TakeProfit     string `json:"takeProfit"`
	LiqPrice       string `json:"liqPrice"`
	UnrealisedPnl  string `json:"unrealisedPnl"`
	CumRealisedPnl string `json:"cumRealisedPnl"`
	UpdatedTime    string `json:"updatedTime"`
}

func (r rawPosition) toDomain() (*domain.Position, error) {
	var p numParser
	pos := &domain.Position{
		Symbol:           r.Symbol,
		Size:             p.num("size", r.Size),
		EntryPrice:       p.num("avgPrice", r.AvgPrice),
		MarkPrice:        p.num("markPrice", r.MarkPrice),
		Leverage:         p.num("leverage", r.Leverage),
		StopLoss:         p.num("stopLoss", r.StopLoss),
		TakeProfit:       p.num("takeProfit", r.TakeProfit),
		LiquidationPrice: p.num("liqPrice", r.LiqPrice),
		UnrealizedPnL:    p.num("unrealisedPnl", r.UnrealisedPnl),
		RealizedPnL:      p.num("cumRealisedPnl", r.CumRealisedPnl),
		UpdatedAt:        parseMillis(r.UpdatedTime),
	}
	if p.err != nil {
		return nil, fmt.Errorf("position %s: %w", r.Symbol, p.err)
	}
	// An empty side comes with size 0 and marks a flat slot.
	if r.Side != "" {
		side, err := fromExchangeSide(r.Side)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", r.Symbol, err)
		}
		pos.Side = side
	}
	if pos.Size > 0 && pos.Side == "" {
		return nil, fmt.Errorf("position %s: size %g without side", r.Symbol, pos.Size)
	}
	return pos, nil
}

func (b *BybitAdapter) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	if symbol != "" {
		q.Set("symbol", symbol)
	} else {
		q.Set("settleCoin", "USDT")
	}

	result, err := b.get(ctx, "/v5/position/list", q)
	if err != nil {
		return nil, err
	}

	var list struct {
		List []rawPosition `json:"list"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]*domain.Position, 0, len(list.List))
	for _, raw := range list.List {
		pos, err := raw.toDomain()
		if err != nil {
			// A position we cannot read is not safe to treat as absent.
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := b.post(ctx, "/v5/position/set-leverage", payload)
	var exErr *domain.ExchangeError
	if errors.As(err, &exErr) && exErr.Code == retCodeLeverageNotModified {
		return nil
	}
	return err
}

// SetTradingStop sends position-level SL/TP in full mode. Only non-zero
// fields are included, so a caller that omits one side leaves the exchange
// free to treat it as unset.
func (b *BybitAdapter) SetTradingStop(ctx context.Context, req *domain.TradingStopRequest) error {
	payload := map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      req.Symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
	}
	if !req.StopLoss.IsZero() {
		payload["stopLoss"] = req.StopLoss.String()
		payload["slTriggerBy"] = "MarkPrice"
	}
	if !req.TakeProfit.IsZero() {
		payload["takeProfit"] = req.TakeProfit.String()
		payload["tpTriggerBy"] = "MarkPrice"
	}
	if _, err := b.post(ctx, "/v5/position/trading-stop", payload); err != nil {
		return err
	}
	b.logger.Info("Trading stop set",
		zap.String("symbol", req.Symbol),
		zap.String("stop_loss", req.StopLoss.String()),
		zap.String("take_profit", req.TakeProfit.String()),
	)
	return nil
}

func (b *BybitAdapter) GetClosedPnL(ctx context.Context, symbol string, limit int) ([]domain.ClosedPnL, error) {
	if limit <= 0 {
		limit = 1
	}
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("limit", strconv.Itoa(limit))
	if symbol != "" {
		q.Set("symbol", symbol)
	}

	result, err := b.get(ctx, "/v5/position/closed-pnl", q)
	if err != nil {
		return nil, err
	}

	var list struct {
		List []struct {
			OrderID       string `json:"orderId"`
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnl     string `json:"closedPnl"`
			Leverage      string `json:"leverage"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode closed pnl: %w", err)
	}

	records := make([]domain.ClosedPnL, 0, len(list.List))
	for _, raw := range list.List {
		closing, err := fromExchangeSide(raw.Side)
		if err != nil {
			return nil, fmt.Errorf("closed pnl %s: %w", raw.OrderID, err)
		}
		// The record carries the closing order's side.
		var p numParser
		rec := domain.ClosedPnL{
			OrderID:    raw.OrderID,
			Symbol:     raw.Symbol,
			Side:       closing.Opposite(),
			Qty:        p.num("qty", raw.Qty),
			EntryPrice: p.num("avgEntryPrice", raw.AvgEntryPrice),
			ExitPrice:  p.num("avgExitPrice", raw.AvgExitPrice),
			PnL:        p.num("closedPnl", raw.ClosedPnl),
			Leverage:   p.num("leverage", raw.Leverage),
			CreatedAt:  parseMillis(raw.CreatedTime),
		}
		if p.err != nil {
			return nil, fmt.Errorf("closed pnl %s: %w", raw.OrderID, p.err)
		}
		records = append(records, rec)
	}
	return records, nil
}
