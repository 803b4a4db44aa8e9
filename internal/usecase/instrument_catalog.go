package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

// InstrumentCatalog caches per-symbol trading constraints. Entries are
// refreshed after ttl; a failed refresh falls back to the stale entry.
type InstrumentCatalog struct {
	gateway domain.InstrumentGateway
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	specs map[string]*domain.InstrumentSpec
}

func NewInstrumentCatalog(gateway domain.InstrumentGateway, ttl time.Duration, logger *zap.Logger) *InstrumentCatalog {
	return &InstrumentCatalog{
		gateway: gateway,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		specs:   make(map[string]*domain.InstrumentSpec),
	}
}

func (c *InstrumentCatalog) Get(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	c.mu.RLock()
	cached, ok := c.specs[symbol]
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		return cached, nil
	}

	spec, err := c.gateway.GetInstrument(ctx, symbol)
	if err != nil {
		if ok {
			c.logger.Warn("Instrument refresh failed, using cached spec",
				zap.String("symbol", symbol),
				zap.Time("fetched_at", cached.FetchedAt),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, err
	}
	if spec.FetchedAt.IsZero() {
		spec.FetchedAt = c.now()
	}

	c.mu.Lock()
	c.specs[symbol] = spec
	c.mu.Unlock()

	c.logger.Debug("Instrument spec cached",
		zap.String("symbol", symbol),
		zap.String("qty_step", spec.QtyStep.String()),
		zap.String("tick_size", spec.TickSize.String()),
	)
	return spec, nil
}

func (c *InstrumentCatalog) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.specs, symbol)
	c.mu.Unlock()
}
