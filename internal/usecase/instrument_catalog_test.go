package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInstrumentCatalogCachesUntilTTL(t *testing.T) {
	ex := newFakeExchange()
	c := NewInstrumentCatalog(ex, time.Hour, zap.NewNop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, ex.instrumentHit)

	now = now.Add(2 * time.Hour)
	_, err = c.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, ex.instrumentHit)
}

func TestInstrumentCatalogFallsBackToStale(t *testing.T) {
	ex := newFakeExchange()
	c := NewInstrumentCatalog(ex, time.Minute, zap.NewNop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := c.Get(ctx, "SOLUSDT")
	require.NoError(t, err)

	ex.instrumentErr = errors.New("gateway timeout")
	now = now.Add(time.Hour)
	spec, err := c.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Same(t, first, spec)

	c.Invalidate("SOLUSDT")
	_, err = c.Get(ctx, "SOLUSDT")
	assert.Error(t, err)
}
