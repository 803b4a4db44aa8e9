package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const (
	DefaultCounterTTL = 24 * time.Hour

	fieldConsecutiveLosses = "consecutive_losses"
	fieldLastLossMs        = "last_loss_ms"

	recentTradesWindow = 10
)

// SafetyChecker enforces the daily caps and cooldowns of a trading mode.
// Day statistics come from the trade history; the consecutive-loss streak
// and last loss time live in the counter store.
type SafetyChecker struct {
	history  domain.TradeHistory
	counters domain.CounterStore
	registry *ModeRegistry
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSafetyChecker(history domain.TradeHistory, counters domain.CounterStore, registry *ModeRegistry, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *SafetyChecker {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &SafetyChecker{
		history:  history,
		counters: counters,
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

func counterKey(userID int64, modeID string) string {
	return fmt.Sprintf("safety:%d:%s", userID, modeID)
}

// CheckCanTrade reports whether userID may open a trade risking riskUSD in
// modeID. A denial is a result, not an error; errors mean the state could
// not be read.
func (c *SafetyChecker) CheckCanTrade(ctx context.Context, userID int64, modeID string, riskUSD float64) (domain.SafetyCheckResult, error) {
	mode := c.registry.GetOrDefault(modeID)
	state, err := c.State(ctx, userID, mode.ID)
	if err != nil {
		return domain.SafetyCheckResult{}, err
	}

	res := evaluateSafety(mode, state, riskUSD, c.now())
	if !res.Allowed {
		c.metrics.SafetyDenial(mode.ID)
		c.logger.Info("Trade blocked by safety caps",
			zap.Int64("user_id", userID),
			zap.String("mode", mode.ID),
			zap.String("reason", res.Reason),
			zap.Int("cooldown_min", res.CooldownRemainingMin),
		)
	}
	return res, nil
}

// evaluateSafety applies the checks in order; the first failure decides.
func evaluateSafety(mode domain.TradingModeConfig, state domain.SafetyState, riskUSD float64, now time.Time) domain.SafetyCheckResult {
	if mode.MaxTradesPerDay > 0 && state.TradesToday >= mode.MaxTradesPerDay {
		return domain.SafetyCheckResult{
			Reason: fmt.Sprintf("Daily trade limit reached (%d/%d)", state.TradesToday, mode.MaxTradesPerDay),
		}
	}

	cooldown := cooldownRemaining(state.LastLossAt, mode.CooldownAfterLossMin, now)

	if mode.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= mode.MaxConsecutiveLosses && cooldown > 0 {
		return domain.SafetyCheckResult{
			Reason: fmt.Sprintf("Cooldown active after %d consecutive losses (%d min remaining)",
				state.ConsecutiveLosses, cooldown),
			CooldownRemainingMin: cooldown,
		}
	}

	if projected := state.LossTodayUSD + riskUSD; mode.DailyLossCapUSD > 0 && projected > mode.DailyLossCapUSD {
		return domain.SafetyCheckResult{
			Reason: fmt.Sprintf("Daily loss cap would be exceeded ($%.2f + $%.2f > $%.2f)",
				state.LossTodayUSD, riskUSD, mode.DailyLossCapUSD),
		}
	}

	if cooldown > 0 {
		return domain.SafetyCheckResult{
			Reason:               fmt.Sprintf("Cooldown active after last loss (%d min remaining)", cooldown),
			CooldownRemainingMin: cooldown,
		}
	}

	return domain.SafetyCheckResult{Allowed: true}
}

// cooldownRemaining is the whole minutes, rounded up, until the cooldown
// after lastLoss ends; zero once it has.
func cooldownRemaining(lastLoss *time.Time, cooldownMin int, now time.Time) int {
	if lastLoss == nil || cooldownMin <= 0 {
		return 0
	}
	end := lastLoss.Add(time.Duration(cooldownMin) * time.Minute)
	if !now.Before(end) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Minutes()))
}

// State builds today's (UTC) statistics for userID in modeID.
func (c *SafetyChecker) State(ctx context.Context, userID int64, modeID string) (domain.SafetyState, error) {
	modeID = c.registry.GetOrDefault(modeID).ID
	now := c.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	state := domain.SafetyState{UserID: userID, ModeID: modeID}

	trades, err := c.history.TradesSince(ctx, userID, modeID, dayStart)
	if err != nil {
		return state, fmt.Errorf("trade history: %w", err)
	}
	state.TradesToday = len(trades)
	for _, t := range trades {
		if !t.IsLoss() {
			continue
		}
		state.LossesToday++
		state.LossTodayUSD += math.Abs(t.PnLUSD)
		closed := t.ClosedAt
		if state.LastLossAt == nil || closed.After(*state.LastLossAt) {
			state.LastLossAt = &closed
		}
	}

	counters, err := c.counters.GetAll(ctx, counterKey(userID, modeID))
	if err != nil {
		c.logger.Warn("Safety counters unavailable, using trade history",
			zap.Int64("user_id", userID),
			zap.String("mode", modeID),
			zap.Error(err),
		)
		counters = nil
	}

	if ms, ok := counters[fieldLastLossMs]; ok && ms > 0 {
		recorded := time.UnixMilli(ms).UTC()
		if state.LastLossAt == nil || recorded.After(*state.LastLossAt) {
			state.LastLossAt = &recorded
		}
	}

	if n, ok := counters[fieldConsecutiveLosses]; ok {
		state.ConsecutiveLosses = int(n)
		return state, nil
	}

	recent, err := c.history.RecentTrades(ctx, userID, modeID, recentTradesWindow)
	if err != nil {
		return state, fmt.Errorf("recent trades: %w", err)
	}
	for _, t := range recent {
		if !t.IsLoss() {
			break
		}
		state.ConsecutiveLosses++
	}
	return state, nil
}

// RecordTradeResult updates the loss streak after a trade closes. A win
// resets it; a loss increments it atomically and stamps the loss time.
func (c *SafetyChecker) RecordTradeResult(ctx context.Context, userID int64, modeID string, isWin bool) error {
	// Key by the resolved id so checks through the default mode see the streak.
	modeID = c.registry.GetOrDefault(modeID).ID
	key := counterKey(userID, modeID)
	if isWin {
		if err := c.counters.Set(ctx, key, fieldConsecutiveLosses, 0, c.ttl); err != nil {
			return fmt.Errorf("reset loss streak: %w", err)
		}
		return nil
	}

	streak, err := c.counters.Incr(ctx, key, fieldConsecutiveLosses, 1, c.ttl)
	if err != nil {
		return fmt.Errorf("increment loss streak: %w", err)
	}
	if err := c.counters.Set(ctx, key, fieldLastLossMs, c.now().UnixMilli(), c.ttl); err != nil {
		return fmt.Errorf("stamp last loss: %w", err)
	}
	c.logger.Info("Loss recorded",
		zap.Int64("user_id", userID),
		zap.String("mode", modeID),
		zap.Int64("consecutive_losses", streak),
	)
	return nil
}

func (c *SafetyChecker) Status(ctx context.Context, userID int64, modeID string) (domain.SafetyStatus, error) {
	mode := c.registry.GetOrDefault(modeID)
	state, err := c.State(ctx, userID, mode.ID)
	if err != nil {
		return domain.SafetyStatus{}, err
	}
	return domain.SafetyStatus{
		State:                state,
		MaxTradesPerDay:      mode.MaxTradesPerDay,
		MaxConsecutiveLosses: mode.MaxConsecutiveLosses,
		DailyLossCapUSD:      mode.DailyLossCapUSD,
		CooldownRemainingMin: cooldownRemaining(state.LastLossAt, mode.CooldownAfterLossMin, c.now()),
	}, nil
}
