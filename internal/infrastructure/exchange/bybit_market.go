package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
)

type rawInstrument struct {
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		QtyStep          string `json:"qtyStep"`
		MinOrderQty      string `json:"minOrderQty"`
		MaxOrderQty      string `json:"maxOrderQty"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LeverageFilter struct {
		MinLeverage string `json:"minLeverage"`
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
}

func decimalField(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed %s %q: %w", field, s, err)
	}
	return d, nil
}

func (r rawInstrument) toDomain() (*domain.InstrumentSpec, error) {
	spec := &domain.InstrumentSpec{Symbol: r.Symbol, Status: r.Status}

	var err error
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"qtyStep", r.LotSizeFilter.QtyStep, &spec.QtyStep},
		{"minOrderQty", r.LotSizeFilter.MinOrderQty, &spec.MinQty},
		{"maxOrderQty", r.LotSizeFilter.MaxOrderQty, &spec.MaxQty},
		{"minNotionalValue", r.LotSizeFilter.MinNotionalValue, &spec.MinNotional},
		{"tickSize", r.PriceFilter.TickSize, &spec.TickSize},
	}
	for _, f := range fields {
		if *f.dst, err = decimalField(f.name, f.raw); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", r.Symbol, err)
		}
	}
	if spec.QtyStep.Sign() <= 0 || spec.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("instrument %s: missing qty step or tick size", r.Symbol)
	}

	var p numParser
	spec.MinLeverage = p.num("minLeverage", r.LeverageFilter.MinLeverage)
	spec.MaxLeverage = p.num("maxLeverage", r.LeverageFilter.MaxLeverage)
	if p.err != nil {
		return nil, fmt.Errorf("instrument %s: %w", r.Symbol, p.err)
	}
	return spec, nil
}

func (b *BybitAdapter) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("symbol", symbol)

	result, err := b.get(ctx, "/v5/market/instruments-info", q)
	if err != nil {
		return nil, err
	}

	var list struct {
		List []rawInstrument `json:"list"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	for _, raw := range list.List {
		if raw.Symbol != symbol {
			continue
		}
		spec, err := raw.toDomain()
		if err != nil {
			return nil, err
		}
		spec.FetchedAt = b.now()
		return spec, nil
	}
	return nil, fmt.Errorf("%s: %w", symbol, domain.ErrInstrumentNotFound)
}

func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("symbol", symbol)

	result, err := b.get(ctx, "/v5/market/tickers", q)
	if err != nil {
		return nil, err
	}

	var list struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			MarkPrice    string `json:"markPrice"`
			Bid1Price    string `json:"bid1Price"`
			Ask1Price    string `json:"ask1Price"`
			Price24hPcnt string `json:"price24hPcnt"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Turnover24h  string `json:"turnover24h"`
			FundingRate  string `json:"fundingRate"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	if len(list.List) == 0 {
		return nil, fmt.Errorf("ticker %s: %w", symbol, domain.ErrInstrumentNotFound)
	}

	raw := list.List[0]
	var p numParser
	t := &domain.Ticker{
		Symbol:       raw.Symbol,
		LastPrice:    p.num("lastPrice", raw.LastPrice),
		MarkPrice:    p.num("markPrice", raw.MarkPrice),
		Bid1Price:    p.num("bid1Price", raw.Bid1Price),
		Ask1Price:    p.num("ask1Price", raw.Ask1Price),
		Price24hPcnt: p.num("price24hPcnt", raw.Price24hPcnt),
		High24h:      p.num("highPrice24h", raw.HighPrice24h),
		Low24h:       p.num("lowPrice24h", raw.LowPrice24h),
		Turnover24h:  p.num("turnover24h", raw.Turnover24h),
		FundingRate:  p.num("fundingRate", raw.FundingRate),
		UpdatedAt:    b.now(),
	}
	if p.err != nil {
		return nil, fmt.Errorf("ticker %s: %w", symbol, p.err)
	}
	return t, nil
}
