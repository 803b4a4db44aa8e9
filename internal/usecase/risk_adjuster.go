package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"go.uber.org/zap"
)

// lowConfidence is the threshold below which leverage drops to the mode default.
const lowConfidence = 0.4

// neutralConfidence stands in for an unknown confidence when scaling risk.
const neutralConfidence = 0.5

// NoConfidence marks a confidence value as unknown. Risk is scaled at the
// middle of the mode range and leverage is not cut.
const NoConfidence = -1.0

// RiskAdjuster scales risk and leverage to a trading mode.
type RiskAdjuster struct {
	mode   domain.TradingModeConfig
	logger *zap.Logger
}

func NewRiskAdjuster(mode domain.TradingModeConfig, logger *zap.Logger) *RiskAdjuster {
	return &RiskAdjuster{mode: mode, logger: logger}
}

func (a *RiskAdjuster) Mode() domain.TradingModeConfig {
	return a.mode
}

// RiskMultiplier interpolates the mode's multiplier range at confidence,
// which is clamped to [0, 1]. A negative confidence is unknown and lands
// on the midpoint.
func (a *RiskAdjuster) RiskMultiplier(confidence float64) float64 {
	if confidence < 0 {
		confidence = neutralConfidence
	}
	c := math.Max(0, math.Min(1, confidence))
	return a.mode.RiskMultiplierMin + (a.mode.RiskMultiplierMax-a.mode.RiskMultiplierMin)*c
}

func (a *RiskAdjuster) AdjustRisk(baseRiskUSD, confidence float64) float64 {
	return baseRiskUSD * a.RiskMultiplier(confidence)
}

// GetLeverage caps requested leverage at the mode maximum. A known
// confidence below 0.4 caps it further at the mode default; pass
// NoConfidence when there is none. Non-positive requests get the default.
func (a *RiskAdjuster) GetLeverage(requested int, confidence float64) int {
	if requested <= 0 {
		requested = a.mode.DefaultLeverage
	}
	leverage := min(requested, a.mode.MaxLeverage)
	if confidence >= 0 && confidence < lowConfidence {
		leverage = min(leverage, a.mode.DefaultLeverage)
	}
	if leverage != requested {
		a.logger.Debug("Leverage capped",
			zap.String("mode", a.mode.ID),
			zap.Int("requested", requested),
			zap.Int("leverage", leverage),
			zap.Float64("confidence", confidence),
		)
	}
	return max(leverage, 1)
}

// CalculatePositionParams sizes a position so that hitting the stop loses
// the adjusted risk, scaled by the mode's size multiplier.
func (a *RiskAdjuster) CalculatePositionParams(riskUSD, entryPrice, slPrice float64, requestedLeverage int, confidence float64) (domain.PositionParams, error) {
	if riskUSD <= 0 {
		return domain.PositionParams{}, domain.NewValidationError("risk_usd", "must be positive, got %g", riskUSD)
	}
	if entryPrice <= 0 {
		return domain.PositionParams{}, domain.NewValidationError("entry_price", "must be positive, got %g", entryPrice)
	}
	if slPrice < 0 {
		return domain.PositionParams{}, domain.NewValidationError("sl_price", "must not be negative, got %g", slPrice)
	}

	adjusted := a.AdjustRisk(riskUSD, confidence)
	leverage := a.GetLeverage(requestedLeverage, confidence)
	slPct := math.Abs(entryPrice-slPrice) / entryPrice * 100

	var notional float64
	if slPct > 0 {
		notional = adjusted / (slPct / 100)
	} else {
		notional = adjusted * float64(leverage)
	}
	notional *= a.mode.PositionSizeMult
	if rc := a.mode.RuntimeChecks; rc != nil && rc.MinNotionalUSD > 0 && notional < rc.MinNotionalUSD {
		return domain.PositionParams{}, domain.NewValidationError("notional",
			"%.2f USD below %s minimum %.2f USD", notional, a.mode.ID, rc.MinNotionalUSD)
	}

	return domain.PositionParams{
		ModeID:           a.mode.ID,
		BaseRiskUSD:      riskUSD,
		AdjustedRiskUSD:  adjusted,
		RiskMultiplier:   a.RiskMultiplier(confidence),
		Leverage:         leverage,
		SLDistancePct:    slPct,
		PositionSizeMult: a.mode.PositionSizeMult,
		NotionalUSD:      notional,
		Qty:              notional / entryPrice,
		MarginUSD:        notional / float64(leverage),
	}, nil
}

// ValidateSLDistance checks the stop distance against the mode's ATR range.
// Without an ATR reading the distance is accepted.
func (a *RiskAdjuster) ValidateSLDistance(slDistancePct, atrPct float64) (bool, string) {
	if atrPct <= 0 {
		return true, "ATR not available"
	}
	mult := slDistancePct / atrPct
	if mult < a.mode.SLATRMin {
		return false, fmt.Sprintf("SL too tight: %.2fx ATR (min %gx for %s)", mult, a.mode.SLATRMin, a.mode.Name)
	}
	if mult > a.mode.SLATRMax {
		return false, fmt.Sprintf("SL too wide: %.2fx ATR (max %gx for %s)", mult, a.mode.SLATRMax, a.mode.Name)
	}
	return true, fmt.Sprintf("SL OK: %.2fx ATR", mult)
}
