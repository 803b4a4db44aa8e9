package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// CloseOptions tunes ClosePositionWith.
type CloseOptions struct {
	Verify     bool
	MaxRetries int
}

type PositionServiceConfig struct {
	SettleDelay time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
}

// PositionService reads live positions and closes them with verification.
type PositionService struct {
	positions domain.PositionGateway
	orders    *OrderService
	catalog   *InstrumentCatalog
	stops     *ProtectiveStopManager
	cfg       PositionServiceConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewPositionService(positions domain.PositionGateway, orders *OrderService, catalog *InstrumentCatalog, cfg PositionServiceConfig, logger *zap.Logger, m *metrics.Metrics) *PositionService {
	return &PositionService{
		positions: positions,
		orders:    orders,
		catalog:   catalog,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// GetPositions returns open positions only. An empty symbol lists all of them.
func (s *PositionService) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	raw, err := s.positions.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	open := make([]*domain.Position, 0, len(raw))
	for _, p := range raw {
		if p.Size > 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// GetPosition returns the open position on symbol or domain.ErrNoPosition.
func (s *PositionService) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	positions, err := s.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoPosition)
}

// readLive is a verification read: transient failures are retried with a
// fixed delay. A nil position means the symbol is flat.
func (s *PositionService) readLive(ctx context.Context, symbol string) (*domain.Position, error) {
	var lastErr error
	for i := 0; i <= s.cfg.MaxRetries; i++ {
		pos, err := s.GetPosition(ctx, symbol)
		if err == nil {
			return pos, nil
		}
		if errors.Is(err, domain.ErrNoPosition) {
			return nil, nil
		}
		lastErr = err
		s.logger.Warn("Position read failed during verification",
			zap.String("symbol", symbol),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("verify %s: %w", symbol, lastErr)
}

func (s *PositionService) submitReduce(ctx context.Context, pos *domain.Position, qty float64) (*domain.OrderHandle, error) {
	return s.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:       pos.Symbol,
		Side:         pos.Side.Opposite(),
		Type:         domain.OrderTypeMarket,
		Qty:          qty,
		ReduceOnly:   true,
		PositionSide: pos.Side,
	})
}

func (s *PositionService) ClosePosition(ctx context.Context, symbol string) (*domain.CloseResult, error) {
	return s.ClosePositionWith(ctx, symbol, CloseOptions{Verify: true, MaxRetries: s.cfg.MaxRetries})
}

// ClosePositionWith submits a reduce-only market order for the full live
// size and, when verifying, re-reads after a settle delay. A residual is
// closed again from its live size until MaxRetries is spent. A negative
// MaxRetries uses the configured default.
func (s *PositionService) ClosePositionWith(ctx context.Context, symbol string, opts CloseOptions) (*domain.CloseResult, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = s.cfg.MaxRetries
	}
	pos, err := s.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	result := &domain.CloseResult{Symbol: symbol, Side: pos.Side, EntryPrice: pos.EntryPrice}
	originalSize := pos.Size

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		handle, err := s.submitReduce(ctx, pos, pos.Size)
		if err != nil {
			if attempt > 1 {
				// The previous attempt may have landed after our last read.
				if live, readErr := s.readLive(ctx, symbol); readErr == nil && live == nil {
					return s.closed(result, originalSize), nil
				}
			}
			return nil, fmt.Errorf("close %s attempt %d: %w", symbol, attempt, err)
		}
		result.ClosedQty += handle.Qty
		result.LastOrder = handle.OrderID

		if !opts.Verify {
			s.logger.Info("Close order submitted without verification",
				zap.String("symbol", symbol),
				zap.Float64("qty", handle.Qty),
			)
			return result, nil
		}

		if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
			return nil, err
		}
		residual, err := s.readLive(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if residual == nil {
			return s.closed(result, originalSize), nil
		}

		if attempt > opts.MaxRetries {
			s.metrics.CloseAttempt("fatal")
			s.metrics.ConsistencyError()
			s.logger.Error("Position still open after close retries",
				zap.String("symbol", symbol),
				zap.Float64("size_before", originalSize),
				zap.Float64("size_after", residual.Size),
				zap.Int("attempts", attempt),
			)
			return nil, &domain.ConsistencyError{Symbol: symbol, Remaining: residual.Size, Attempts: attempt}
		}

		s.metrics.CloseAttempt("retrying")
		s.logger.Warn("Residual position after close, retrying",
			zap.String("symbol", symbol),
			zap.Float64("residual", residual.Size),
			zap.Int("attempt", attempt),
		)
		pos = residual
	}
}

func (s *PositionService) closed(result *domain.CloseResult, originalSize float64) *domain.CloseResult {
	result.Verified = true
	s.metrics.CloseAttempt("closed")
	s.logger.Info("Position closed",
		zap.String("symbol", result.Symbol),
		zap.String("side", string(result.Side)),
		zap.Float64("size", originalSize),
		zap.Int("attempts", result.Attempts),
	)
	return result
}

// PartialClose closes percent of the live position, rounding the quantity
// down to the lot step so it never over-closes.
func (s *PositionService) PartialClose(ctx context.Context, symbol string, percent float64) (*domain.PartialCloseResult, error) {
	if percent <= 0 || percent > 100 {
		return nil, domain.NewValidationError("percent", "must be in (0, 100], got %g", percent)
	}

	pos, err := s.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if percent == 100 {
		res, err := s.ClosePosition(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return &domain.PartialCloseResult{
			Symbol:       symbol,
			ClosedQty:    pos.Size,
			OriginalSize: pos.Size,
			Percent:      percent,
			OrderID:      res.LastOrder,
		}, nil
	}

	inst, err := s.catalog.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", symbol, err)
	}
	qty := inst.RoundQtyDownDecimal(
		decimal.NewFromFloat(pos.Size).Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100)),
	)
	if qty.Sign() <= 0 || qty.LessThan(inst.MinQty) {
		return nil, domain.NewValidationError("percent", "%g%% of %g is below the minimum order size %s",
			percent, pos.Size, inst.MinQty.String())
	}

	handle, err := s.submitReduce(ctx, pos, qty.InexactFloat64())
	if err != nil {
		return nil, fmt.Errorf("partial close %s: %w", symbol, err)
	}

	remaining, err := s.awaitReduction(ctx, symbol, pos.Size)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Position partially closed",
		zap.String("symbol", symbol),
		zap.Float64("percent", percent),
		zap.Float64("closed_qty", handle.Qty),
		zap.Float64("size_before", pos.Size),
		zap.Float64("size_after", remaining),
	)
	return &domain.PartialCloseResult{
		Symbol:        symbol,
		ClosedQty:     handle.Qty,
		OriginalSize:  pos.Size,
		RemainingSize: remaining,
		Percent:       percent,
		OrderID:       handle.OrderID,
	}, nil
}

// awaitReduction waits until the live size drops below before.
func (s *PositionService) awaitReduction(ctx context.Context, symbol string, before float64) (float64, error) {
	if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
		return 0, err
	}
	for i := 0; ; i++ {
		live, err := s.readLive(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if live == nil {
			return 0, nil
		}
		if live.Size < before {
			return live.Size, nil
		}
		if i >= s.cfg.MaxRetries {
			s.metrics.ConsistencyError()
			s.logger.Error("Partial close not reflected in position",
				zap.String("symbol", symbol),
				zap.Float64("size_before", before),
				zap.Float64("size_after", live.Size),
			)
			return 0, &domain.ConsistencyError{Symbol: symbol, Remaining: live.Size, Attempts: i + 1}
		}
		if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
			return 0, err
		}
	}
}

// MoveSL validates the new stop against the entry price, then hands the
// write to the protective-stop merge.
func (s *PositionService) MoveSL(ctx context.Context, symbol string, newStop float64) (*domain.MoveSLResult, error) {
	pos, err := s.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	inst, err := s.catalog.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", symbol, err)
	}
	rounded := inst.RoundPrice(newStop).InexactFloat64()
	if err := validateStopDirection(pos.Side, rounded, pos.EntryPrice, "entry"); err != nil {
		return nil, err
	}

	res, err := s.stops.UpdateTradingStop(ctx, symbol, &rounded, nil)
	if err != nil {
		return nil, err
	}
	return &domain.MoveSLResult{
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		OldSL:      pos.StopLoss,
		NewSL:      res.StopLoss,
	}, nil
}

func (s *PositionService) GetClosedPnL(ctx context.Context, symbol string, limit int) ([]domain.ClosedPnL, error) {
	return s.positions.GetClosedPnL(ctx, symbol, limit)
}

// validateStopDirection requires a long stop strictly below ref and a short
// stop strictly above it.
func validateStopDirection(side domain.Side, stop, ref float64, refName string) error {
	if stop <= 0 {
		return domain.NewValidationError("stop_loss", "must be positive, got %g", stop)
	}
	switch side {
	case domain.SideLong:
		if stop >= ref {
			return domain.NewValidationError("stop_loss", "%g must be below %s price %g for a long position", stop, refName, ref)
		}
	case domain.SideShort:
		if stop <= ref {
			return domain.NewValidationError("stop_loss", "%g must be above %s price %g for a short position", stop, refName, ref)
		}
	default:
		return domain.NewValidationError("side", "unknown position side %q", side)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
