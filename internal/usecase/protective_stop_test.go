package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_core/internal/domain"
)

func protectedLong() domain.Position {
	p := longBTC(1)
	p.StopLoss = 90
	p.TakeProfit = 120
	return p
}

func ptr(v float64) *float64 { return &v }

func TestUpdateTradingStopKeepsAbsentField(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(protectedLong())
	tc := newTestCore(ex)

	res, err := tc.core.Stops.UpdateTradingStop(context.Background(), "BTCUSDT", nil, ptr(130))
	require.NoError(t, err)

	require.Len(t, ex.stopRequests, 1)
	assert.Equal(t, "90", ex.stopRequests[0].StopLoss.String())
	assert.Equal(t, "130", ex.stopRequests[0].TakeProfit.String())
	assert.Equal(t, 90.0, res.PreviousSL)
	assert.Equal(t, 90.0, res.ConfirmedSL)
	assert.Equal(t, 130.0, res.ConfirmedTP)
	assert.False(t, res.SLDisappeared)
}

func TestUpdateTradingStopIsIdempotent(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(protectedLong())
	tc := newTestCore(ex)
	ctx := context.Background()

	first, err := tc.core.Stops.UpdateTradingStop(ctx, "BTCUSDT", ptr(92), ptr(125))
	require.NoError(t, err)
	second, err := tc.core.Stops.UpdateTradingStop(ctx, "BTCUSDT", ptr(92), ptr(125))
	require.NoError(t, err)

	assert.Equal(t, first.ConfirmedSL, second.ConfirmedSL)
	assert.Equal(t, first.ConfirmedTP, second.ConfirmedTP)
	require.Len(t, ex.stopRequests, 2)
	assert.Equal(t, ex.stopRequests[0].StopLoss.String(), ex.stopRequests[1].StopLoss.String())
	assert.Equal(t, ex.stopRequests[0].TakeProfit.String(), ex.stopRequests[1].TakeProfit.String())
}

func TestUpdateTradingStopValidatesAgainstMark(t *testing.T) {
	tests := []struct {
		name string
		side domain.Side
		sl   float64
	}{
		{"long stop above mark", domain.SideLong, 105},
		{"short stop below mark", domain.SideShort, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newFakeExchange()
			p := longBTC(1)
			p.Side = tt.side
			ex.setPosition(p)
			tc := newTestCore(ex)

			_, err := tc.core.Stops.UpdateTradingStop(context.Background(), "BTCUSDT", ptr(tt.sl), nil)
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Empty(t, ex.stopRequests)
		})
	}
}

func TestUpdateTradingStopNeedsAField(t *testing.T) {
	tc := newTestCore(newFakeExchange())

	_, err := tc.core.Stops.UpdateTradingStop(context.Background(), "BTCUSDT", nil, nil)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestUpdateTradingStopFlagsMissingSL(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(protectedLong())
	ex.dropSL = true
	tc := newTestCore(ex)

	res, err := tc.core.Stops.UpdateTradingStop(context.Background(), "BTCUSDT", nil, ptr(140))
	require.NoError(t, err)
	assert.True(t, res.SLDisappeared)
	assert.Zero(t, res.ConfirmedSL)
}

func TestUpdateTradingStopSurfacesWriteFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(protectedLong())
	ex.stopErr = domain.ClassifyExchangeError(10001, "invalid stop loss price")
	tc := newTestCore(ex)

	_, err := tc.core.Stops.UpdateTradingStop(context.Background(), "BTCUSDT", ptr(95), nil)
	assert.True(t, domain.IsExchangeKind(err, domain.KindInvalidParameters))
}

func TestConcurrentUpdatesOnSameSymbolKeepBothStops(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(longBTC(1))
	tc := newTestCore(ex)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := tc.core.Stops.UpdateTradingStop(ctx, "BTCUSDT", ptr(90), nil)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := tc.core.Stops.UpdateTradingStop(ctx, "BTCUSDT", nil, ptr(130))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, err := tc.core.Positions.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 90.0, pos.StopLoss)
	assert.Equal(t, 130.0, pos.TakeProfit)
}

func TestPlaceLadderTPBuffersTowardFill(t *testing.T) {
	tests := []struct {
		name      string
		side      domain.Side
		wantPrice string
		wantSide  domain.Side
	}{
		{"long sells below target", domain.SideLong, "139.9", domain.SideShort},
		{"short buys above target", domain.SideShort, "140.1", domain.SideLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newFakeExchange()
			p := longBTC(1)
			p.Side = tt.side
			ex.setPosition(p)
			tc := newTestCore(ex)

			handles, err := tc.core.Stops.PlaceLadderTP(context.Background(), "BTCUSDT", tt.side,
				[]domain.LadderLevel{{Price: 140, Qty: 0.5}, {Price: 150, Qty: 0.5}}, "plan42")
			require.NoError(t, err)
			require.Len(t, handles, 2)

			req := ex.placed[0]
			assert.Equal(t, tt.wantPrice, req.Price.String())
			assert.Equal(t, tt.wantSide, req.Side)
			assert.Equal(t, domain.OrderTypeLimit, req.Type)
			assert.Equal(t, domain.TimeInForceGTC, req.TimeInForce)
			assert.True(t, req.ReduceOnly)
			assert.Equal(t, "plan42_tp1", req.LinkID)
			assert.Equal(t, "plan42_tp2", ex.placed[1].LinkID)

			target := decimal.NewFromInt(140)
			if tt.side == domain.SideLong {
				assert.True(t, req.Price.LessThan(target))
			} else {
				assert.True(t, req.Price.GreaterThan(target))
			}
		})
	}
}

func TestPlaceLadderTPRejectsOversizedLadder(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(longBTC(1))
	tc := newTestCore(ex)

	_, err := tc.core.Stops.PlaceLadderTP(context.Background(), "BTCUSDT", domain.SideLong,
		[]domain.LadderLevel{{Price: 140, Qty: 0.6}, {Price: 150, Qty: 0.5}}, "")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, ex.placed)
}

func TestPlaceLadderTPRejectsWrongSide(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(longBTC(1))
	tc := newTestCore(ex)

	_, err := tc.core.Stops.PlaceLadderTP(context.Background(), "BTCUSDT", domain.SideShort,
		[]domain.LadderLevel{{Price: 90, Qty: 0.5}}, "")
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestPlaceLadderTPReturnsPlacedOnFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition(longBTC(1))
	ex.onPlace = func(f *fakeExchange, req *domain.OrderRequest) {
		f.placeErr = errors.New("too many requests")
	}
	tc := newTestCore(ex)

	handles, err := tc.core.Stops.PlaceLadderTP(context.Background(), "BTCUSDT", domain.SideLong,
		[]domain.LadderLevel{{Price: 140, Qty: 0.3}, {Price: 150, Qty: 0.3}, {Price: 160, Qty: 0.4}}, "p")
	require.Error(t, err)
	assert.Len(t, handles, 1)
	assert.Empty(t, ex.cancelled)
}

func TestBuildLadderLevels(t *testing.T) {
	ex := newFakeExchange()
	btc := ex.instruments["BTCUSDT"]
	sol := ex.instruments["SOLUSDT"]

	levels, err := BuildLadderLevels([]domain.TPTarget{
		{Price: 110, Percent: 50}, {Price: 120, Percent: 30}, {Price: 130, Percent: 20},
	}, 1, btc)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, 0.5, levels[0].Qty)
	assert.Equal(t, 0.3, levels[1].Qty)
	assert.Equal(t, 0.2, levels[2].Qty)

	// 30% of 0.025 is below the 0.01 minimum and rolls forward.
	levels, err = BuildLadderLevels([]domain.TPTarget{
		{Price: 110, Percent: 30}, {Price: 120, Percent: 30}, {Price: 130, Percent: 40},
	}, 0.025, sol)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, 120.0, levels[0].Price)
	total := 0.0
	for _, l := range levels {
		total += l.Qty
	}
	assert.LessOrEqual(t, total, 0.025)

	_, err = BuildLadderLevels([]domain.TPTarget{{Price: 110, Percent: 70}, {Price: 120, Percent: 40}}, 1, btc)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestMoveToBreakeven(t *testing.T) {
	ex := newFakeExchange()
	p := protectedLong()
	p.MarkPrice = 110
	ex.setPosition(p)
	tc := newTestCore(ex)
	ctx := context.Background()

	moved, res, err := tc.core.Stops.MoveToBreakeven(ctx, "BTCUSDT", 0.001)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, 100.1, res.StopLoss)
	assert.Equal(t, 120.0, res.TakeProfit)

	moved, _, err = tc.core.Stops.MoveToBreakeven(ctx, "BTCUSDT", 0.001)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Len(t, ex.stopRequests, 1)
}
