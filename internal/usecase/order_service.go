package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const (
	DefaultFillTimeout  = 20 * time.Second
	DefaultPollInterval = 500 * time.Millisecond

	cleanupCancelTimeout = 5 * time.Second
)

// OrderService places, watches and cancels orders.
type OrderService struct {
	orders    domain.OrderGateway
	leverage  domain.PositionGateway
	catalog   *InstrumentCatalog
	modes     *ModeRegistry
	logger    *zap.Logger
	metrics   *metrics.Metrics
	newLinkID func() string

	fillTimeout  time.Duration
	pollInterval time.Duration
}

func NewOrderService(orders domain.OrderGateway, leverage domain.PositionGateway, catalog *InstrumentCatalog, modes *ModeRegistry, logger *zap.Logger, m *metrics.Metrics) *OrderService {
	return &OrderService{
		orders:       orders,
		leverage:     leverage,
		catalog:      catalog,
		modes:        modes,
		logger:       logger,
		metrics:      m,
		newLinkID:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		fillTimeout:  DefaultFillTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// SetFillDefaults changes the timeout and poll interval used when
// WaitUntilFilled is called with zero values.
func (s *OrderService) SetFillDefaults(timeout, poll time.Duration) {
	if timeout > 0 {
		s.fillTimeout = timeout
	}
	if poll > 0 {
		s.pollInterval = poll
	}
}

// TruncateLinkID keeps the trailing MaxLinkIDLength characters of tag.
// Ladder suffixes such as "_tp3" sit at the end, so the tail is what keeps
// sibling orders distinguishable.
func TruncateLinkID(tag string) string {
	if len(tag) <= domain.MaxLinkIDLength {
		return tag
	}
	return tag[len(tag)-domain.MaxLinkIDLength:]
}

func validateOrderSpec(spec *domain.OrderSpec) error {
	if spec.Symbol == "" {
		return domain.NewValidationError("symbol", "required")
	}
	if !spec.Side.Valid() {
		return domain.NewValidationError("side", "unknown side %q", spec.Side)
	}
	if spec.Qty <= 0 {
		return domain.NewValidationError("qty", "must be positive, got %g", spec.Qty)
	}
	switch spec.Type {
	case domain.OrderTypeLimit:
		if spec.Price <= 0 {
			return domain.NewValidationError("price", "limit order needs a positive price")
		}
	case domain.OrderTypeMarket:
		if spec.Price != 0 {
			return domain.NewValidationError("price", "market order must not carry a price")
		}
		if spec.PostOnly {
			return domain.NewValidationError("post_only", "market order cannot be post-only")
		}
	default:
		return domain.NewValidationError("type", "unknown order type %q", spec.Type)
	}
	if spec.PostOnly && spec.TimeInForce != "" && spec.TimeInForce != domain.TimeInForcePostOnly {
		return domain.NewValidationError("time_in_force", "%s conflicts with post-only", spec.TimeInForce)
	}
	if spec.ReduceOnly && spec.PositionSide != "" && spec.Side != spec.PositionSide.Opposite() {
		return domain.NewValidationError("side", "reduce-only %s order cannot reduce a %s position", spec.Side, spec.PositionSide)
	}
	if spec.Leverage < 0 {
		return domain.NewValidationError("leverage", "must not be negative")
	}
	if spec.Leverage > 0 && spec.MaxLeverage > 0 && spec.Leverage > spec.MaxLeverage {
		return domain.NewValidationError("leverage", "%dx exceeds mode maximum %dx", spec.Leverage, spec.MaxLeverage)
	}
	return nil
}

// PlaceOrder validates spec, rounds it to the instrument and submits it once.
func (s *OrderService) PlaceOrder(ctx context.Context, spec domain.OrderSpec) (*domain.OrderHandle, error) {
	if err := validateOrderSpec(&spec); err != nil {
		return nil, err
	}
	if spec.Leverage > 0 {
		if err := s.checkModeLeverage(spec); err != nil {
			return nil, err
		}
	}
	if spec.ReduceOnly && spec.PositionSide == "" {
		if err := s.resolvePositionSide(ctx, &spec); err != nil {
			return nil, err
		}
	}

	inst, err := s.catalog.Get(ctx, spec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", spec.Symbol, err)
	}

	qty := inst.RoundQtyDown(spec.Qty)
	if qty.Sign() <= 0 || qty.LessThan(inst.MinQty) {
		return nil, domain.NewValidationError("qty", "%g rounds to %s, below minimum %s (step %s)",
			spec.Qty, qty.String(), inst.MinQty.String(), inst.QtyStep.String())
	}
	if inst.MaxQty.Sign() > 0 && qty.GreaterThan(inst.MaxQty) {
		return nil, domain.NewValidationError("qty", "%s exceeds maximum %s", qty.String(), inst.MaxQty.String())
	}

	var price decimal.Decimal
	if spec.Type == domain.OrderTypeLimit {
		price = inst.RoundPrice(spec.Price)
		if price.Sign() <= 0 {
			return nil, domain.NewValidationError("price", "%g rounds to zero at tick %s", spec.Price, inst.TickSize.String())
		}
	}

	if spec.Leverage > 0 {
		if err := s.applyLeverage(ctx, inst, spec.Leverage); err != nil {
			return nil, err
		}
	}

	tif := spec.TimeInForce
	switch {
	case spec.PostOnly:
		tif = domain.TimeInForcePostOnly
	case tif == "" && spec.Type == domain.OrderTypeMarket:
		tif = domain.TimeInForceIOC
	case tif == "":
		tif = domain.TimeInForceGTC
	}

	linkID := TruncateLinkID(spec.LinkID)
	if linkID == "" {
		linkID = s.newLinkID()
	}

	req := &domain.OrderRequest{
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Type:        spec.Type,
		Qty:         qty,
		Price:       price,
		LinkID:      linkID,
		ReduceOnly:  spec.ReduceOnly,
		TimeInForce: tif,
	}
	ack, err := s.orders.PlaceOrder(ctx, req)
	if err != nil {
		s.logger.Error("Order rejected",
			zap.String("symbol", spec.Symbol),
			zap.String("side", string(spec.Side)),
			zap.String("qty", qty.String()),
			zap.String("link_id", linkID),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.OrderPlaced(string(spec.Type), string(spec.Side), spec.ReduceOnly)

	return &domain.OrderHandle{
		Symbol:  spec.Symbol,
		OrderID: ack.OrderID,
		LinkID:  linkID,
		Side:    spec.Side,
		Type:    spec.Type,
		Qty:     qty.InexactFloat64(),
		Price:   price.InexactFloat64(),
	}, nil
}

func (s *OrderService) checkModeLeverage(spec domain.OrderSpec) error {
	if s.modes == nil {
		return nil
	}
	mode := s.modes.GetOrDefault(spec.Mode)
	limit, owner := mode.MaxLeverage, mode.ID
	if spec.MaxLeverage > 0 && (limit <= 0 || spec.MaxLeverage < limit) {
		limit, owner = spec.MaxLeverage, "requested"
	}
	if limit > 0 && spec.Leverage > limit {
		return domain.NewValidationError("leverage", "%dx exceeds %s maximum %dx", spec.Leverage, owner, limit)
	}
	return nil
}

// resolvePositionSide fills PositionSide from the open position so a
// reduce-only order cannot be sent on the side that would grow it.
func (s *OrderService) resolvePositionSide(ctx context.Context, spec *domain.OrderSpec) error {
	positions, err := s.leverage.GetPositions(ctx, spec.Symbol)
	if err != nil {
		return fmt.Errorf("positions %s: %w", spec.Symbol, err)
	}
	for _, p := range positions {
		if p == nil || p.Size <= 0 || !p.Side.Valid() {
			continue
		}
		if spec.Side != p.Side.Opposite() {
			return domain.NewValidationError("side", "reduce-only %s order cannot reduce a %s position", spec.Side, p.Side)
		}
		spec.PositionSide = p.Side
		return nil
	}
	return domain.NewValidationError("reduce_only", "no open position on %s", spec.Symbol)
}

func (s *OrderService) applyLeverage(ctx context.Context, inst *domain.InstrumentSpec, leverage int) error {
	lev := float64(leverage)
	if inst.MaxLeverage > 0 && lev > inst.MaxLeverage {
		return domain.NewValidationError("leverage", "%dx above %s maximum %gx", leverage, inst.Symbol, inst.MaxLeverage)
	}
	if inst.MinLeverage > 0 && lev < inst.MinLeverage {
		return domain.NewValidationError("leverage", "%dx below %s minimum %gx", leverage, inst.Symbol, inst.MinLeverage)
	}
	if err := s.leverage.SetLeverage(ctx, inst.Symbol, leverage); err != nil {
		return fmt.Errorf("set leverage %s %dx: %w", inst.Symbol, leverage, err)
	}
	return nil
}

// SetLeverage applies leverage to symbol, capped by the mode and the instrument.
func (s *OrderService) SetLeverage(ctx context.Context, symbol string, leverage int, mode domain.TradingModeConfig) error {
	if leverage <= 0 {
		return domain.NewValidationError("leverage", "must be positive")
	}
	if mode.MaxLeverage > 0 && leverage > mode.MaxLeverage {
		return domain.NewValidationError("leverage", "%dx exceeds %s maximum %dx", leverage, mode.ID, mode.MaxLeverage)
	}
	inst, err := s.catalog.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", symbol, err)
	}
	return s.applyLeverage(ctx, inst, leverage)
}

// WaitUntilFilled polls the order until it is filled with an average price.
// Zero timeout or pollInterval fall back to the service defaults. When the
// budget or ctx runs out the order is cancelled best-effort before returning.
func (s *OrderService) WaitUntilFilled(ctx context.Context, handle *domain.OrderHandle, timeout, pollInterval time.Duration) (*domain.Order, error) {
	if timeout <= 0 {
		timeout = s.fillTimeout
	}
	if pollInterval <= 0 {
		pollInterval = s.pollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		order, err := s.orders.GetOrder(waitCtx, handle.Symbol, handle.OrderID)
		switch {
		case err == nil:
			if order.Status == domain.OrderStatusFilled && order.AvgPrice > 0 {
				s.metrics.OrderFilled(handle.Symbol)
				s.logger.Info("Order filled",
					zap.String("symbol", handle.Symbol),
					zap.String("order_id", handle.OrderID),
					zap.Float64("avg_price", order.AvgPrice),
					zap.Float64("qty", order.CumExecQty),
				)
				return order, nil
			}
			if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRejected {
				reason := order.RejectReason
				if reason == "" {
					reason = "no reason reported"
				}
				return nil, &domain.ExchangeError{
					Kind:    domain.KindGeneric,
					Message: fmt.Sprintf("order %s %s: %s", handle.OrderID, order.Status, reason),
				}
			}
		case errors.Is(err, domain.ErrOrderNotFound):
			// not visible yet
		default:
			var exErr *domain.ExchangeError
			if errors.As(err, &exErr) {
				return nil, err
			}
			s.logger.Debug("Order poll failed, retrying",
				zap.String("order_id", handle.OrderID),
				zap.Error(err),
			)
		}

		select {
		case <-waitCtx.Done():
			return s.abandon(ctx, handle, timeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// abandon cancels an unfilled order after the wait ended. A fill that raced
// the cancel is still reported as a fill.
func (s *OrderService) abandon(ctx context.Context, handle *domain.OrderHandle, timeout time.Duration, cause error) (*domain.Order, error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupCancelTimeout)
	defer cancel()

	if err := s.orders.CancelOrder(cleanupCtx, handle.Symbol, handle.OrderID, handle.LinkID); err != nil {
		s.logger.Warn("Cancel after fill wait failed",
			zap.String("symbol", handle.Symbol),
			zap.String("order_id", handle.OrderID),
			zap.Error(err),
		)
	}
	if order, err := s.orders.GetOrder(cleanupCtx, handle.Symbol, handle.OrderID); err == nil &&
		order.Status == domain.OrderStatusFilled && order.AvgPrice > 0 {
		s.metrics.OrderFilled(handle.Symbol)
		return order, nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, fmt.Errorf("wait for order %s: %w", handle.OrderID, ctx.Err())
	}

	s.metrics.FillTimeout()
	s.logger.Warn("Order not filled in time, cancelled",
		zap.String("symbol", handle.Symbol),
		zap.String("order_id", handle.OrderID),
		zap.Duration("timeout", timeout),
	)
	return nil, &domain.TimeoutError{Symbol: handle.Symbol, OrderID: handle.OrderID, After: timeout, Err: cause}
}

// CancelOrder cancels one order and reports any failure.
func (s *OrderService) CancelOrder(ctx context.Context, handle *domain.OrderHandle) error {
	if err := s.orders.CancelOrder(ctx, handle.Symbol, handle.OrderID, handle.LinkID); err != nil {
		return fmt.Errorf("cancel %s on %s: %w", handle.OrderID, handle.Symbol, err)
	}
	s.logger.Info("Order cancelled", zap.String("symbol", handle.Symbol), zap.String("order_id", handle.OrderID))
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, symbol, orderID)
}

func (s *OrderService) GetOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return s.orders.GetOpenOrders(ctx, symbol)
}

// CancelOrdersByPrefix cancels every open order on symbol whose link id
// starts with prefix and returns the ids it cancelled.
func (s *OrderService) CancelOrdersByPrefix(ctx context.Context, symbol, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, domain.NewValidationError("prefix", "required")
	}
	open, err := s.orders.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var cancelled []string
	var errs []error
	for _, o := range open {
		if !strings.HasPrefix(o.LinkID, prefix) || o.Status.IsTerminal() {
			continue
		}
		if err := s.orders.CancelOrder(ctx, o.Symbol, o.OrderID, o.LinkID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.OrderID, err))
			continue
		}
		cancelled = append(cancelled, o.OrderID)
	}
	s.logger.Info("Cancelled orders by prefix",
		zap.String("symbol", symbol),
		zap.String("prefix", prefix),
		zap.Int("cancelled", len(cancelled)),
		zap.Int("failed", len(errs)),
	)
	return cancelled, errors.Join(errs...)
}
