package usecase

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// TickerSource is a cache of recent tickers, such as a websocket stream.
type TickerSource interface {
	Latest(symbol string) (*domain.Ticker, bool)
}

// BookSource returns the best bid and ask of a symbol.
type BookSource interface {
	TopOfBook(ctx context.Context, symbol string) (bid, ask float64, err error)
}

type SymbolFilterOption func(*SymbolFilter)

// WithTickerCache makes the filter prefer fresh cached tickers over REST.
func WithTickerCache(src TickerSource) SymbolFilterOption {
	return func(f *SymbolFilter) { f.cache = src }
}

// WithOrderBook supplies bid/ask when the ticker lacks them.
func WithOrderBook(src BookSource) SymbolFilterOption {
	return func(f *SymbolFilter) { f.book = src }
}

// SymbolFilter decides whether a symbol may be traded in a mode.
type SymbolFilter struct {
	registry *ModeRegistry
	market   domain.MarketGateway
	cache    TickerSource
	book     BookSource
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewSymbolFilter(registry *ModeRegistry, market domain.MarketGateway, logger *zap.Logger, m *metrics.Metrics, opts ...SymbolFilterOption) *SymbolFilter {
	f := &SymbolFilter{
		registry: registry,
		market:   market,
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CheckSymbol applies the mode whitelist, then the live-market checks of
// modes that define them. An unreachable market is allowed with a warning.
func (f *SymbolFilter) CheckSymbol(ctx context.Context, symbol, modeID string) domain.SymbolCheckResult {
	mode := f.registry.GetOrDefault(modeID)
	symbol = strings.ToUpper(symbol)

	if mode.HasWhitelist() && !slices.Contains(mode.AllowedSymbols, symbol) {
		f.metrics.SymbolDenial(mode.ID)
		return domain.SymbolCheckResult{
			Reason: fmt.Sprintf("Symbol %s not in %s whitelist. Allowed: %s",
				symbol, mode.Name, strings.Join(mode.AllowedSymbols, ", ")),
		}
	}

	if mode.RuntimeChecks == nil {
		return domain.SymbolCheckResult{Allowed: true}
	}
	res := f.runtimeChecks(ctx, symbol, mode.RuntimeChecks)
	if !res.Allowed {
		f.metrics.SymbolDenial(mode.ID)
		f.logger.Info("Symbol rejected by runtime checks",
			zap.String("symbol", symbol),
			zap.String("mode", mode.ID),
			zap.String("reason", res.Reason),
		)
	}
	return res
}

func (f *SymbolFilter) ticker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	if f.cache != nil {
		if t, ok := f.cache.Latest(symbol); ok {
			return t, nil
		}
	}
	return f.market.GetTicker(ctx, symbol)
}

func (f *SymbolFilter) runtimeChecks(ctx context.Context, symbol string, checks *domain.RuntimeChecks) domain.SymbolCheckResult {
	var warnings []string

	t, err := f.ticker(ctx, symbol)
	if err != nil {
		f.logger.Warn("Runtime symbol check skipped",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return domain.SymbolCheckResult{
			Allowed:  true,
			Warnings: []string{fmt.Sprintf("Runtime check error: %v", err)},
		}
	}

	if t.Turnover24h < checks.MinTurnover24hUSD {
		return domain.SymbolCheckResult{
			Reason: fmt.Sprintf("24h volume $%.0f below minimum $%.0f", t.Turnover24h, checks.MinTurnover24hUSD),
		}
	}

	spread := t.SpreadPct()
	if spread < 0 && f.book != nil {
		if bid, ask, err := f.book.TopOfBook(ctx, symbol); err == nil && bid > 0 && ask > 0 {
			spread = (ask - bid) / bid * 100
		}
	}
	switch {
	case spread < 0:
		warnings = append(warnings, "Could not calculate spread")
	case spread > checks.MaxSpreadPct:
		return domain.SymbolCheckResult{
			Reason:   fmt.Sprintf("Spread %.2f%% exceeds maximum %g%%", spread, checks.MaxSpreadPct),
			Warnings: warnings,
		}
	}

	// The 24h range stands in for ATR; a quiet market only warns.
	if rng := t.RangePct(); checks.MinATRPct > 0 && rng >= 0 && rng < checks.MinATRPct {
		warnings = append(warnings, fmt.Sprintf("24h range %.2f%% below %g%% volatility floor", rng, checks.MinATRPct))
	}

	if funding := t.FundingRate * 100; checks.MaxFundingAbsPct > 0 && math.Abs(funding) > checks.MaxFundingAbsPct {
		warnings = append(warnings, fmt.Sprintf("Funding rate %+.3f%% is extreme (>%g%%), increased risk", funding, checks.MaxFundingAbsPct))
	}

	return domain.SymbolCheckResult{Allowed: true, Warnings: warnings}
}
