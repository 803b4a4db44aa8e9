package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
	Header http.Header
}

// fakeBybit serves canned responses keyed by path and records every call.
type fakeBybit struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]string
}

func (f *fakeBybit) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.Body))
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		resp, ok := f.responses[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			resp = `{"retCode":0,"retMsg":"OK","result":{}}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}
}

func (f *fakeBybit) calls(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func newTestAdapter(t *testing.T, responses map[string]string) (*BybitAdapter, *fakeBybit) {
	fake := &fakeBybit{responses: responses}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	adapter := NewBybitAdapter("key", "secret", srv.URL, zap.NewNop(),
		WithHTTPTimeout(2*time.Second),
		WithRateLimit(1000, 100),
	)
	adapter.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return adapter, fake
}

func TestSendRequestSignsHeaders(t *testing.T) {
	adapter, fake := newTestAdapter(t, map[string]string{
		"/v5/position/list": `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`,
	})

	_, err := adapter.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	calls := fake.calls("/v5/position/list")
	require.Len(t, calls, 1)
	h := calls[0].Header
	assert.Equal(t, "key", h.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "1700000000000", h.Get("X-BAPI-TIMESTAMP"))
	assert.Equal(t, "5000", h.Get("X-BAPI-RECV-WINDOW"))
	assert.Equal(t, adapter.sign(calls[0].Query, 1700000000000), h.Get("X-BAPI-SIGN"))
	assert.Equal(t, "category=linear&symbol=BTCUSDT", calls[0].Query)
}

func TestNonZeroRetCodeIsClassified(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		kind domain.ExchangeErrorKind
	}{
		{"balance", "ab not enough for new order: insufficient available balance", domain.KindInsufficientBalance},
		{"duplicate", "OrderLinkedID is duplicate", domain.KindDuplicateOrder},
		{"invalid", "params error: invalid qty", domain.KindInvalidParameters},
		{"generic", "system busy", domain.KindGeneric},
		{"missing order", "order not exists or too late to cancel", domain.KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]interface{}{"retCode": 10001, "retMsg": tt.msg, "result": map[string]interface{}{}})
			adapter, _ := newTestAdapter(t, map[string]string{"/v5/order/create": string(body)})

			_, err := adapter.PlaceOrder(context.Background(), &domain.OrderRequest{
				Symbol: "BTCUSDT", Side: domain.SideLong, Type: domain.OrderTypeMarket, Qty: decimal.RequireFromString("0.01"),
			})
			var exErr *domain.ExchangeError
			require.True(t, errors.As(err, &exErr))
			assert.Equal(t, tt.kind, exErr.Kind)
			assert.Equal(t, 10001, exErr.Code)
		})
	}
}

func TestPlaceOrderPayload(t *testing.T) {
	adapter, fake := newTestAdapter(t, map[string]string{
		"/v5/order/create": `{"retCode":0,"retMsg":"OK","result":{"orderId":"abc","orderLinkId":"EP:1_tp1"}}`,
	})

	ack, err := adapter.PlaceOrder(context.Background(), &domain.OrderRequest{
		Symbol:      "ETHUSDT",
		Side:        domain.SideShort,
		Type:        domain.OrderTypeLimit,
		Qty:         decimal.RequireFromString("0.5"),
		Price:       decimal.RequireFromString("2500.10"),
		LinkID:      "EP:1_tp1",
		ReduceOnly:  true,
		TimeInForce: domain.TimeInForceGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", ack.OrderID)

	body := fake.calls("/v5/order/create")[0].Body
	assert.Equal(t, "Sell", body["side"])
	assert.Equal(t, "Limit", body["orderType"])
	assert.Equal(t, "0.5", body["qty"])
	assert.Equal(t, "2500.1", body["price"])
	assert.Equal(t, true, body["reduceOnly"])
	assert.Equal(t, "GTC", body["timeInForce"])
	assert.Equal(t, "EP:1_tp1", body["orderLinkId"])
}

func TestGetOrderFallsBackToHistory(t *testing.T) {
	adapter, fake := newTestAdapter(t, map[string]string{
		"/v5/order/realtime": `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`,
		"/v5/order/history": `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"o1","orderLinkId":"x","symbol":"BTCUSDT","side":"Buy","orderType":"Market",
			 "qty":"0.01","price":"0","avgPrice":"43000.5","cumExecQty":"0.01","orderStatus":"Filled",
			 "reduceOnly":false,"timeInForce":"IOC","createdTime":"1700000000000","updatedTime":"1700000001000"}]}}`,
	})

	order, err := adapter.GetOrder(context.Background(), "BTCUSDT", "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, 43000.5, order.AvgPrice)
	assert.Equal(t, domain.SideLong, order.Side)
	assert.Len(t, fake.calls("/v5/order/realtime"), 1)
	assert.Len(t, fake.calls("/v5/order/history"), 1)
}

func TestGetOrderNotFound(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/order/realtime": `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`,
		"/v5/order/history":  `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`,
	})

	_, err := adapter.GetOrder(context.Background(), "BTCUSDT", "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetPositionsParsesProtectiveStops(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/position/list": `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"Sell","size":"0.02","avgPrice":"42000","markPrice":"41800",
			 "leverage":"10","stopLoss":"43000","takeProfit":"","liqPrice":"46000",
			 "unrealisedPnl":"4","cumRealisedPnl":"-1.5","updatedTime":"1700000000000"},
			{"symbol":"ETHUSDT","side":"","size":"0","avgPrice":"0","markPrice":"2300","leverage":"5"}]}}`,
	})

	positions, err := adapter.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	p := positions[0]
	assert.Equal(t, domain.SideShort, p.Side)
	assert.Equal(t, 0.02, p.Size)
	assert.Equal(t, 43000.0, p.StopLoss)
	assert.Zero(t, p.TakeProfit)
	assert.Equal(t, -1.5, p.RealizedPnL)
	assert.Zero(t, positions[1].Size)
}

func TestGetPositionsRejectsMalformedSize(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/position/list": `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","side":"Buy","size":"abc"}]}}`,
	})

	_, err := adapter.GetPositions(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestSetLeverageNotModifiedIsSuccess(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/position/set-leverage": `{"retCode":110043,"retMsg":"leverage not modified","result":{}}`,
	})

	assert.NoError(t, adapter.SetLeverage(context.Background(), "BTCUSDT", 10))
}

func TestSetTradingStopOmitsZeroFields(t *testing.T) {
	adapter, fake := newTestAdapter(t, nil)

	err := adapter.SetTradingStop(context.Background(), &domain.TradingStopRequest{
		Symbol:   "BTCUSDT",
		StopLoss: decimal.RequireFromString("41000"),
	})
	require.NoError(t, err)

	body := fake.calls("/v5/position/trading-stop")[0].Body
	assert.Equal(t, "41000", body["stopLoss"])
	assert.Equal(t, "Full", body["tpslMode"])
	assert.Equal(t, "MarkPrice", body["slTriggerBy"])
	_, hasTP := body["takeProfit"]
	assert.False(t, hasTP)
}

func TestGetInstrument(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/market/instruments-info": `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"DOGEUSDT","status":"Trading",
			"lotSizeFilter":{"qtyStep":"1","minOrderQty":"1","maxOrderQty":"1000000","minNotionalValue":"5"},
			"priceFilter":{"tickSize":"0.00001"},
			"leverageFilter":{"minLeverage":"1","maxLeverage":"50.00"}}]}}`,
	})

	spec, err := adapter.GetInstrument(context.Background(), "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1", spec.QtyStep.String())
	assert.Equal(t, "0.00001", spec.TickSize.String())
	assert.Equal(t, 50.0, spec.MaxLeverage)
	assert.Equal(t, "5", spec.MinNotional.String())
}

func TestGetInstrumentUnknownSymbol(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/market/instruments-info": `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`,
	})

	_, err := adapter.GetInstrument(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, domain.ErrInstrumentNotFound)
}

func TestGetTickerParsesDailyRange(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/market/tickers": `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[{"symbol":"DOGEUSDT",
			"lastPrice":"0.1","bid1Price":"0.0999","ask1Price":"0.1001","highPrice24h":"0.105","lowPrice24h":"0.095",
			"turnover24h":"25000000","fundingRate":"0.0001"}]}}`,
	})

	tk, err := adapter.GetTicker(context.Background(), "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.105, tk.High24h)
	assert.Equal(t, 0.095, tk.Low24h)
	assert.InDelta(t, 10.0, tk.RangePct(), 1e-9)
}

func TestGetClosedPnLMapsClosingSide(t *testing.T) {
	adapter, _ := newTestAdapter(t, map[string]string{
		"/v5/position/closed-pnl": `{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"c1","symbol":"BTCUSDT",
			"side":"Sell","qty":"0.01","avgEntryPrice":"40000","avgExitPrice":"41000","closedPnl":"10","leverage":"5",
			"createdTime":"1700000000000"}]}}`,
	})

	recs, err := adapter.GetClosedPnL(context.Background(), "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SideLong, recs[0].Side)
	assert.Equal(t, 10.0, recs[0].PnL)
}

func TestTransportErrorIsNotExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()
	adapter := NewBybitAdapter("key", "secret", srv.URL, zap.NewNop())

	_, err := adapter.GetTicker(context.Background(), "BTCUSDT")
	require.Error(t, err)
	var exErr *domain.ExchangeError
	assert.False(t, errors.As(err, &exErr))
}
