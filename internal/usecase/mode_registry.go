package usecase

import (
	"fmt"
	"slices"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

const DefaultModeID = "standard"

// MemeSymbols is the whitelist of the meme preset.
var MemeSymbols = []string{"DOGEUSDT", "SHIBUSDT", "PEPEUSDT", "WIFUSDT", "BONKUSDT", "FLOKIUSDT"}

// DefaultModes returns the built-in presets in display order.
func DefaultModes() []domain.TradingModeConfig {
	return []domain.TradingModeConfig{
		{
			ID:                   "conservative",
			Family:               domain.FamilyCautious,
			Name:                 "Conservative",
			Description:          "Low risk, strong setups only, tight stops",
			MaxLeverage:          5,
			DefaultLeverage:      3,
			RiskMultiplierMin:    0.5,
			RiskMultiplierMax:    1.0,
			SLATRMin:             0.5,
			SLATRMax:             1.0,
			PositionSizeMult:     1.0,
			MaxHoldHours:         72,
			MaxTradesPerDay:      3,
			MaxConsecutiveLosses: 2,
			DailyLossCapUSD:      30,
			CooldownAfterLossMin: 60,
		},
		{
			ID:                   "standard",
			Family:               domain.FamilyBalanced,
			Name:                 "Standard",
			Description:          "Balanced mode with moderate risk",
			MaxLeverage:          10,
			DefaultLeverage:      5,
			RiskMultiplierMin:    0.7,
			RiskMultiplierMax:    1.3,
			SLATRMin:             1.0,
			SLATRMax:             1.5,
			PositionSizeMult:     1.0,
			MaxHoldHours:         168,
			MaxTradesPerDay:      5,
			MaxConsecutiveLosses: 3,
			DailyLossCapUSD:      50,
			CooldownAfterLossMin: 30,
		},
		{
			ID:                   "high_risk",
			Family:               domain.FamilySpeculative,
			Name:                 "High Risk",
			Description:          "High leverage with tight stops",
			MaxLeverage:          50,
			DefaultLeverage:      20,
			RiskMultiplierMin:    1.0,
			RiskMultiplierMax:    2.0,
			SLATRMin:             0.8,
			SLATRMax:             1.5,
			PositionSizeMult:     1.0,
			MaxHoldHours:         24,
			MaxTradesPerDay:      3,
			MaxConsecutiveLosses: 2,
			DailyLossCapUSD:      100,
			CooldownAfterLossMin: 120,
		},
		{
			ID:                   "meme",
			Family:               domain.FamilySpeculative,
			Name:                 "Meme/Volatile",
			Description:          "Meme coins: wide stops, levels are unreliable",
			MaxLeverage:          20,
			DefaultLeverage:      10,
			RiskMultiplierMin:    0.6,
			RiskMultiplierMax:    1.5,
			SLATRMin:             2.0,
			SLATRMax:             5.0,
			PositionSizeMult:     0.5,
			MaxHoldHours:         12,
			MaxTradesPerDay:      2,
			MaxConsecutiveLosses: 2,
			DailyLossCapUSD:      60,
			CooldownAfterLossMin: 90,
			AllowedSymbols:       slices.Clone(MemeSymbols),
			RuntimeChecks: &domain.RuntimeChecks{
				MinTurnover24hUSD: 10_000_000,
				MaxSpreadPct:      0.3,
				MinATRPct:         2.0,
				MinNotionalUSD:    5.0,
				MaxFundingAbsPct:  0.1,
			},
		},
	}
}

// ModeRegistry holds the trading presets. It is built once at startup and
// read concurrently afterwards.
type ModeRegistry struct {
	order     []string
	modes     map[string]domain.TradingModeConfig
	defaultID string
}

// NewModeRegistry loads the presets and applies overrides by id. An override
// with a new id adds a mode.
func NewModeRegistry(defaultID string, overrides ...domain.TradingModeConfig) (*ModeRegistry, error) {
	if defaultID == "" {
		defaultID = DefaultModeID
	}
	r := &ModeRegistry{
		modes:     make(map[string]domain.TradingModeConfig),
		defaultID: defaultID,
	}
	for _, m := range append(DefaultModes(), overrides...) {
		if m.ID == "" {
			return nil, fmt.Errorf("mode without id")
		}
		if m.RiskMultiplierMax < m.RiskMultiplierMin {
			return nil, fmt.Errorf("mode %s: risk multiplier max below min", m.ID)
		}
		if m.DefaultLeverage > m.MaxLeverage {
			return nil, fmt.Errorf("mode %s: default leverage above max", m.ID)
		}
		if _, seen := r.modes[m.ID]; !seen {
			r.order = append(r.order, m.ID)
		}
		r.modes[m.ID] = m
	}
	if _, ok := r.modes[defaultID]; !ok {
		return nil, fmt.Errorf("default mode %q is not defined", defaultID)
	}
	return r, nil
}

// Get returns a copy of the mode, so callers cannot mutate the preset.
func (r *ModeRegistry) Get(id string) (domain.TradingModeConfig, bool) {
	m, ok := r.modes[id]
	if !ok {
		return domain.TradingModeConfig{}, false
	}
	return cloneMode(m), true
}

// GetOrDefault never fails: unknown and empty ids resolve to the default mode.
func (r *ModeRegistry) GetOrDefault(id string) domain.TradingModeConfig {
	if m, ok := r.Get(id); ok {
		return m
	}
	return r.Default()
}

func (r *ModeRegistry) Default() domain.TradingModeConfig {
	return cloneMode(r.modes[r.defaultID])
}

func (r *ModeRegistry) List() []domain.TradingModeConfig {
	out := make([]domain.TradingModeConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneMode(r.modes[id]))
	}
	return out
}

func (r *ModeRegistry) IsSymbolAllowed(modeID, symbol string) bool {
	m := r.GetOrDefault(modeID)
	return !m.HasWhitelist() || slices.Contains(m.AllowedSymbols, symbol)
}

func cloneMode(m domain.TradingModeConfig) domain.TradingModeConfig {
	m.AllowedSymbols = slices.Clone(m.AllowedSymbols)
	if m.RuntimeChecks != nil {
		rc := *m.RuntimeChecks
		m.RuntimeChecks = &rc
	}
	return m
}
