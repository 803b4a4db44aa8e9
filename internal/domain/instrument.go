package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentSpec holds the trading constraints of one linear contract.
// Steps and bounds are kept as decimals so rounding never drifts.
type InstrumentSpec struct {
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	MinLeverage float64         `json:"min_leverage"`
	MaxLeverage float64         `json:"max_leverage"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// RoundQtyDown returns the largest multiple of QtyStep not exceeding qty.
func (s *InstrumentSpec) RoundQtyDown(qty float64) decimal.Decimal {
	return floorToStep(decimal.NewFromFloat(qty), s.QtyStep)
}

func (s *InstrumentSpec) RoundQtyDownDecimal(qty decimal.Decimal) decimal.Decimal {
	return floorToStep(qty, s.QtyStep)
}

// RoundPrice returns the multiple of TickSize nearest to price.
func (s *InstrumentSpec) RoundPrice(price float64) decimal.Decimal {
	return s.RoundPriceDecimal(decimal.NewFromFloat(price))
}

func (s *InstrumentSpec) RoundPriceDecimal(price decimal.Decimal) decimal.Decimal {
	if s.TickSize.Sign() <= 0 {
		return price
	}
	return price.Div(s.TickSize).Round(0).Mul(s.TickSize)
}

// RoundPriceDown and RoundPriceUp keep a biased price on its side of the target.
func (s *InstrumentSpec) RoundPriceDown(price decimal.Decimal) decimal.Decimal {
	return floorToStep(price, s.TickSize)
}

func (s *InstrumentSpec) RoundPriceUp(price decimal.Decimal) decimal.Decimal {
	if s.TickSize.Sign() <= 0 {
		return price
	}
	return price.Div(s.TickSize).Ceil().Mul(s.TickSize)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

type Ticker struct {
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"last_price"`
	MarkPrice    float64   `json:"mark_price"`
	Bid1Price    float64   `json:"bid1_price"`
	Ask1Price    float64   `json:"ask1_price"`
	Price24hPcnt float64   `json:"price_24h_pcnt"`
	High24h      float64   `json:"high_24h"`
	Low24h       float64   `json:"low_24h"`
	Turnover24h  float64   `json:"turnover_24h"` // USD
	FundingRate  float64   `json:"funding_rate"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SpreadPct is the bid/ask spread as a percentage of the bid, or -1 when a side is missing.
func (t *Ticker) SpreadPct() float64 {
	if t.Bid1Price <= 0 || t.Ask1Price <= 0 {
		return -1
	}
	return (t.Ask1Price - t.Bid1Price) / t.Bid1Price * 100
}

// RangePct is the 24h high/low range as a percentage of the last price, or
// -1 when any of the three is missing.
func (t *Ticker) RangePct() float64 {
	if t.High24h <= 0 || t.Low24h <= 0 || t.LastPrice <= 0 || t.High24h < t.Low24h {
		return -1
	}
	return (t.High24h - t.Low24h) / t.LastPrice * 100
}
