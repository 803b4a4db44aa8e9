package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// symbolLocks hands out one mutex per symbol.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *symbolLocks) lock(symbol string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

type ProtectiveStopConfig struct {
	// TPPriceBufferPct moves ladder prices toward the market, as a fraction (0.0005 = 0.05%).
	TPPriceBufferPct   float64
	BreakevenBufferPct float64
}

// ProtectiveStopManager owns every change to position-level SL/TP and
// places laddered take-profit orders.
type ProtectiveStopManager struct {
	positions *PositionService
	orders    *OrderService
	stops     domain.TradingStopGateway
	catalog   *InstrumentCatalog
	cfg       ProtectiveStopConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	locks     symbolLocks
}

func NewProtectiveStopManager(positions *PositionService, orders *OrderService, stops domain.TradingStopGateway, catalog *InstrumentCatalog, cfg ProtectiveStopConfig, logger *zap.Logger, m *metrics.Metrics) *ProtectiveStopManager {
	mgr := &ProtectiveStopManager{
		positions: positions,
		orders:    orders,
		stops:     stops,
		catalog:   catalog,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
	positions.stops = mgr
	return mgr
}

// UpdateTradingStop merges the given stops into the live position. A nil
// argument keeps the current value; it never clears it. Both final values
// go out in one request. Updates to the same symbol are serialized.
func (m *ProtectiveStopManager) UpdateTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit *float64) (*domain.TradingStopResult, error) {
	if stopLoss == nil && takeProfit == nil {
		return nil, domain.NewValidationError("stop_loss", "nothing to update")
	}

	unlock := m.locks.lock(symbol)
	defer unlock()

	pos, err := m.positions.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	inst, err := m.catalog.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", symbol, err)
	}

	result := &domain.TradingStopResult{
		Symbol:     symbol,
		PreviousSL: pos.StopLoss,
		PreviousTP: pos.TakeProfit,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
	}

	if stopLoss != nil {
		sl := inst.RoundPrice(*stopLoss).InexactFloat64()
		if err := validateStopDirection(pos.Side, sl, pos.MarkPrice, "mark"); err != nil {
			return nil, err
		}
		result.StopLoss = sl
	}
	if takeProfit != nil {
		tp := inst.RoundPrice(*takeProfit).InexactFloat64()
		if tp <= 0 {
			return nil, domain.NewValidationError("take_profit", "must be positive, got %g", *takeProfit)
		}
		result.TakeProfit = tp
	}

	req := &domain.TradingStopRequest{
		Symbol:     symbol,
		StopLoss:   decimal.NewFromFloat(result.StopLoss),
		TakeProfit: decimal.NewFromFloat(result.TakeProfit),
	}
	if err := m.stops.SetTradingStop(ctx, req); err != nil {
		m.metrics.TradingStopWrite("failed")
		m.logger.Error("Trading stop update failed",
			zap.String("symbol", symbol),
			zap.Float64("sl_before", result.PreviousSL),
			zap.Float64("tp_before", result.PreviousTP),
			zap.Float64("sl_intended", result.StopLoss),
			zap.Float64("tp_intended", result.TakeProfit),
			zap.Error(err),
		)
		return nil, fmt.Errorf("set trading stop %s: %w", symbol, err)
	}

	m.confirm(ctx, result)
	return result, nil
}

// confirm re-reads the position and flags a stop-loss that did not stick.
func (m *ProtectiveStopManager) confirm(ctx context.Context, result *domain.TradingStopResult) {
	after, err := m.positions.GetPosition(ctx, result.Symbol)
	if err != nil {
		m.metrics.TradingStopWrite("unconfirmed")
		m.logger.Warn("Could not confirm trading stop",
			zap.String("symbol", result.Symbol),
			zap.Error(err),
		)
		return
	}
	result.ConfirmedSL = after.StopLoss
	result.ConfirmedTP = after.TakeProfit

	if result.StopLoss > 0 && after.StopLoss == 0 {
		result.SLDisappeared = true
		m.metrics.TradingStopWrite("sl_missing")
		m.logger.Error("Stop loss missing after trading stop update",
			zap.String("severity", "critical"),
			zap.String("symbol", result.Symbol),
			zap.Float64("sl_before", result.PreviousSL),
			zap.Float64("sl_expected", result.StopLoss),
			zap.Float64("tp_expected", result.TakeProfit),
			zap.Float64("tp_after", after.TakeProfit),
		)
		return
	}

	m.metrics.TradingStopWrite("ok")
	m.logger.Info("Trading stop updated",
		zap.String("symbol", result.Symbol),
		zap.Float64("sl_before", result.PreviousSL),
		zap.Float64("sl_after", after.StopLoss),
		zap.Float64("tp_before", result.PreviousTP),
		zap.Float64("tp_after", after.TakeProfit),
	)
}

// SetTradingStopRaw sends exactly the given fields with no merge.
//
// Deprecated: a field left at zero may be cleared by the exchange. Use
// UpdateTradingStop.
func (m *ProtectiveStopManager) SetTradingStopRaw(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	m.logger.Warn("Raw trading stop write", zap.String("symbol", symbol))
	return m.stops.SetTradingStop(ctx, &domain.TradingStopRequest{
		Symbol:     symbol,
		StopLoss:   decimal.NewFromFloat(stopLoss),
		TakeProfit: decimal.NewFromFloat(takeProfit),
	})
}

// bufferedPrice pulls target toward immediate fill and rounds it on the
// same side, so the buffer never rounds back past the target.
func bufferedPrice(inst *domain.InstrumentSpec, positionSide domain.Side, target, buffer float64) decimal.Decimal {
	t := decimal.NewFromFloat(target)
	if buffer <= 0 {
		return inst.RoundPriceDecimal(t)
	}
	b := decimal.NewFromFloat(buffer)
	if positionSide == domain.SideLong {
		return inst.RoundPriceDown(t.Mul(decimal.NewFromInt(1).Sub(b)))
	}
	return inst.RoundPriceUp(t.Mul(decimal.NewFromInt(1).Add(b)))
}

// PlaceLadderTP places one reduce-only GTC limit per level. The orders are
// independent: on failure the ones already placed stay open and are returned
// alongside the error.
func (m *ProtectiveStopManager) PlaceLadderTP(ctx context.Context, symbol string, positionSide domain.Side, levels []domain.LadderLevel, linkPrefix string) ([]*domain.OrderHandle, error) {
	if len(levels) == 0 {
		return nil, domain.NewValidationError("levels", "at least one level required")
	}
	if !positionSide.Valid() {
		return nil, domain.NewValidationError("side", "unknown position side %q", positionSide)
	}

	pos, err := m.positions.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos.Side != positionSide {
		return nil, domain.NewValidationError("side", "position on %s is %s, not %s", symbol, pos.Side, positionSide)
	}
	inst, err := m.catalog.Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", symbol, err)
	}

	total := decimal.Zero
	for i, lvl := range levels {
		if lvl.Price <= 0 {
			return nil, domain.NewValidationError("levels", "level %d has no price", i+1)
		}
		total = total.Add(inst.RoundQtyDown(lvl.Qty))
	}
	if total.GreaterThan(decimal.NewFromFloat(pos.Size)) {
		return nil, domain.NewValidationError("levels", "ladder quantity %s exceeds position size %g", total.String(), pos.Size)
	}

	handles := make([]*domain.OrderHandle, 0, len(levels))
	for i, lvl := range levels {
		price := bufferedPrice(inst, positionSide, lvl.Price, m.cfg.TPPriceBufferPct)
		var linkID string
		if linkPrefix != "" {
			linkID = fmt.Sprintf("%s_tp%d", linkPrefix, i+1)
		}
		h, err := m.orders.PlaceOrder(ctx, domain.OrderSpec{
			Symbol:       symbol,
			Side:         positionSide.Opposite(),
			Type:         domain.OrderTypeLimit,
			Qty:          lvl.Qty,
			Price:        price.InexactFloat64(),
			LinkID:       linkID,
			ReduceOnly:   true,
			TimeInForce:  domain.TimeInForceGTC,
			PositionSide: positionSide,
		})
		if err != nil {
			m.logger.Error("Ladder TP level failed",
				zap.String("symbol", symbol),
				zap.Int("level", i+1),
				zap.Int("placed", len(handles)),
				zap.Error(err),
			)
			return handles, fmt.Errorf("ladder level %d: %w", i+1, err)
		}
		m.logger.Info("Ladder TP placed",
			zap.String("symbol", symbol),
			zap.Int("level", i+1),
			zap.Float64("target", lvl.Price),
			zap.Float64("price", h.Price),
			zap.Float64("qty", h.Qty),
		)
		handles = append(handles, h)
	}
	return handles, nil
}

// BuildLadderLevels turns percentage targets into quantities rounded down to
// the lot step. A level too small to trade rolls into the next one and the
// last level absorbs the rounding remainder.
func BuildLadderLevels(targets []domain.TPTarget, totalQty float64, inst *domain.InstrumentSpec) ([]domain.LadderLevel, error) {
	if len(targets) == 0 {
		return nil, domain.NewValidationError("targets", "at least one target required")
	}
	sum := 0.0
	for _, t := range targets {
		if t.Percent <= 0 || t.Price <= 0 {
			return nil, domain.NewValidationError("targets", "price and percent must be positive")
		}
		sum += t.Percent
	}
	if sum > 100+1e-9 {
		return nil, domain.NewValidationError("targets", "percentages sum to %g, above 100", sum)
	}

	total := decimal.NewFromFloat(totalQty)
	hundred := decimal.NewFromInt(100)
	allocated := decimal.Zero
	carry := decimal.Zero
	var levels []domain.LadderLevel

	for i, t := range targets {
		raw := total.Mul(decimal.NewFromFloat(t.Percent)).Div(hundred).Add(carry)
		qty := inst.RoundQtyDownDecimal(raw)
		if i == len(targets)-1 && sum >= 100-1e-9 {
			qty = inst.RoundQtyDownDecimal(total.Sub(allocated))
		}
		if qty.Sign() <= 0 || qty.LessThan(inst.MinQty) {
			carry = raw
			continue
		}
		carry = raw.Sub(qty)
		allocated = allocated.Add(qty)
		levels = append(levels, domain.LadderLevel{Price: t.Price, Qty: qty.InexactFloat64()})
	}

	if len(levels) == 0 {
		return nil, domain.NewValidationError("targets", "no level reaches the minimum order size %s", inst.MinQty.String())
	}
	if extra := inst.RoundQtyDownDecimal(carry); extra.Sign() > 0 && allocated.Add(extra).LessThanOrEqual(total) {
		last := &levels[len(levels)-1]
		last.Qty = decimal.NewFromFloat(last.Qty).Add(extra).InexactFloat64()
	}
	return levels, nil
}

// MoveToBreakeven moves the stop just past entry. It reports false without
// writing when the current stop already protects at least that much.
func (m *ProtectiveStopManager) MoveToBreakeven(ctx context.Context, symbol string, bufferPct float64) (bool, *domain.TradingStopResult, error) {
	if bufferPct < 0 {
		bufferPct = m.cfg.BreakevenBufferPct
	}
	pos, err := m.positions.GetPosition(ctx, symbol)
	if err != nil {
		return false, nil, err
	}

	inst, err := m.catalog.Get(ctx, symbol)
	if err != nil {
		return false, nil, fmt.Errorf("instrument %s: %w", symbol, err)
	}

	entry := decimal.NewFromFloat(pos.EntryPrice)
	buffer := decimal.NewFromFloat(bufferPct)
	var be float64
	switch pos.Side {
	case domain.SideLong:
		be = inst.RoundPriceUp(entry.Mul(decimal.NewFromInt(1).Add(buffer))).InexactFloat64()
		if pos.StopLoss > 0 && pos.StopLoss >= be {
			return false, nil, nil
		}
	case domain.SideShort:
		be = inst.RoundPriceDown(entry.Mul(decimal.NewFromInt(1).Sub(buffer))).InexactFloat64()
		if pos.StopLoss > 0 && pos.StopLoss <= be {
			return false, nil, nil
		}
	default:
		return false, nil, domain.NewValidationError("side", "unknown position side %q", pos.Side)
	}

	res, err := m.UpdateTradingStop(ctx, symbol, &be, nil)
	if err != nil {
		return false, nil, err
	}
	m.logger.Info("Stop moved to breakeven",
		zap.String("symbol", symbol),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop_loss", res.StopLoss),
	)
	return true, res, nil
}
