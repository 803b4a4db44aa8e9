package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

// OrderBookClient reads the public linear order book through the official SDK.
// SymbolFilter uses it when a ticker arrives without bid/ask.
type OrderBookClient struct {
	client *bybit.Client
	logger *zap.Logger
}

func NewOrderBookClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OrderBookClient {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(baseURL))
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &OrderBookClient{client: client, logger: logger}
}

type bookSnapshot struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

// TopOfBook returns the best bid and ask for symbol.
func (c *OrderBookClient) TopOfBook(ctx context.Context, symbol string) (bid, ask float64, err error) {
	params := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
		"limit":    1,
	}
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("orderbook %s: %w", symbol, err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return 0, 0, fmt.Errorf("orderbook %s: %w", symbol, err)
	}
	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, 0, fmt.Errorf("decode orderbook envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		c.logger.Warn("Bybit orderbook returned non-zero retCode",
			zap.String("symbol", symbol),
			zap.Int("ret_code", envelope.RetCode),
			zap.String("ret_msg", envelope.RetMsg),
		)
		return 0, 0, domain.ClassifyExchangeError(envelope.RetCode, envelope.RetMsg)
	}
	return parseTopOfBook(envelope.Result)
}

func parseTopOfBook(payload []byte) (bid, ask float64, err error) {
	var snap bookSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return 0, 0, fmt.Errorf("decode orderbook: %w", err)
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 || len(snap.Bids[0]) == 0 || len(snap.Asks[0]) == 0 {
		return 0, 0, fmt.Errorf("orderbook %s: empty side", snap.Symbol)
	}
	if bid, err = strconv.ParseFloat(snap.Bids[0][0], 64); err != nil {
		return 0, 0, fmt.Errorf("orderbook %s bid: %w", snap.Symbol, err)
	}
	if ask, err = strconv.ParseFloat(snap.Asks[0][0], 64); err != nil {
		return 0, 0, fmt.Errorf("orderbook %s ask: %w", snap.Symbol, err)
	}
	return bid, ask, nil
}
