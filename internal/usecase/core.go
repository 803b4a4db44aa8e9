package usecase

import (
	"time"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

type CoreConfig struct {
	FillTimeout        time.Duration
	PollInterval       time.Duration
	SettleDelay        time.Duration
	RetryDelay         time.Duration
	CloseMaxRetries    int
	InstrumentTTL      time.Duration
	TPPriceBufferPct   float64
	BreakevenBufferPct float64
	CounterTTL         time.Duration
	DefaultMode        string
	Modes              []domain.TradingModeConfig
}

// Core is the execution core: one handle per sub-service, built once at
// startup and shared by every caller.
type Core struct {
	Catalog   *InstrumentCatalog
	Orders    *OrderService
	Positions *PositionService
	Stops     *ProtectiveStopManager
	Modes     *ModeRegistry
	Safety    *SafetyChecker
	Symbols   *SymbolFilter

	logger *zap.Logger
}

func NewCore(ex domain.Exchange, counters domain.CounterStore, history domain.TradeHistory, cfg CoreConfig, logger *zap.Logger, m *metrics.Metrics, symbolOpts ...SymbolFilterOption) (*Core, error) {
	modes, err := NewModeRegistry(cfg.DefaultMode, cfg.Modes...)
	if err != nil {
		return nil, err
	}

	catalog := NewInstrumentCatalog(ex, cfg.InstrumentTTL, logger)
	orders := NewOrderService(ex, ex, catalog, modes, logger, m)
	orders.SetFillDefaults(cfg.FillTimeout, cfg.PollInterval)

	positions := NewPositionService(ex, orders, catalog, PositionServiceConfig{
		SettleDelay: cfg.SettleDelay,
		RetryDelay:  cfg.RetryDelay,
		MaxRetries:  cfg.CloseMaxRetries,
	}, logger, m)
	stops := NewProtectiveStopManager(positions, orders, ex, catalog, ProtectiveStopConfig{
		TPPriceBufferPct:   cfg.TPPriceBufferPct,
		BreakevenBufferPct: cfg.BreakevenBufferPct,
	}, logger, m)

	return &Core{
		Catalog:   catalog,
		Orders:    orders,
		Positions: positions,
		Stops:     stops,
		Modes:     modes,
		Safety:    NewSafetyChecker(history, counters, modes, cfg.CounterTTL, logger, m),
		Symbols:   NewSymbolFilter(modes, ex, logger, m, symbolOpts...),
		logger:    logger,
	}, nil
}

// RiskAdjuster returns an adjuster for modeID, falling back to the default mode.
func (c *Core) RiskAdjuster(modeID string) *RiskAdjuster {
	return NewRiskAdjuster(c.Modes.GetOrDefault(modeID), c.logger)
}

func (c *Core) CalculatePositionParams(modeID string, riskUSD, entryPrice, slPrice float64, requestedLeverage int, confidence float64) (domain.PositionParams, error) {
	return c.RiskAdjuster(modeID).CalculatePositionParams(riskUSD, entryPrice, slPrice, requestedLeverage, confidence)
}
