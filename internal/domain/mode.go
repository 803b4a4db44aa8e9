package domain

// ModeFamily groups presets by appetite for risk.
type ModeFamily string

const (
	FamilyCautious    ModeFamily = "cautious"
	FamilyBalanced    ModeFamily = "balanced"
	FamilySpeculative ModeFamily = "speculative"
)

// RuntimeChecks are the live-market thresholds applied to a symbol before trading.
type RuntimeChecks struct {
	MinTurnover24hUSD float64 `yaml:"min_turnover_24h_usd" json:"min_turnover_24h_usd"`
	MaxSpreadPct      float64 `yaml:"max_spread_pct" json:"max_spread_pct"`
	MinATRPct         float64 `yaml:"min_atr_pct" json:"min_atr_pct"`
	MinNotionalUSD    float64 `yaml:"min_notional_usd" json:"min_notional_usd"`
	MaxFundingAbsPct  float64 `yaml:"max_funding_abs_pct" json:"max_funding_abs_pct"`
}

// TradingModeConfig is an immutable trading preset.
type TradingModeConfig struct {
	ID          string     `yaml:"id" json:"id"`
	Family      ModeFamily `yaml:"family" json:"family"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`

	MaxLeverage     int `yaml:"max_leverage" json:"max_leverage"`
	DefaultLeverage int `yaml:"default_leverage" json:"default_leverage"`

	RiskMultiplierMin float64 `yaml:"risk_multiplier_min" json:"risk_multiplier_min"`
	RiskMultiplierMax float64 `yaml:"risk_multiplier_max" json:"risk_multiplier_max"`
	SLATRMin          float64 `yaml:"sl_atr_min" json:"sl_atr_min"`
	SLATRMax          float64 `yaml:"sl_atr_max" json:"sl_atr_max"`

	PositionSizeMult float64 `yaml:"position_size_mult" json:"position_size_mult"`
	MaxHoldHours     int     `yaml:"max_hold_hours" json:"max_hold_hours"`

	MaxTradesPerDay      int     `yaml:"max_trades_per_day" json:"max_trades_per_day"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	DailyLossCapUSD      float64 `yaml:"daily_loss_cap_usd" json:"daily_loss_cap_usd"`
	CooldownAfterLossMin int     `yaml:"cooldown_after_loss_min" json:"cooldown_after_loss_min"`

	AllowedSymbols []string       `yaml:"allowed_symbols" json:"allowed_symbols,omitempty"`
	RuntimeChecks  *RuntimeChecks `yaml:"runtime_checks" json:"runtime_checks,omitempty"`
}

// HasWhitelist reports whether the mode restricts tradable symbols.
func (m *TradingModeConfig) HasWhitelist() bool {
	return len(m.AllowedSymbols) > 0
}

// PositionParams is the sizing derived for one entry.
type PositionParams struct {
	ModeID           string  `json:"mode_id"`
	BaseRiskUSD      float64 `json:"base_risk_usd"`
	AdjustedRiskUSD  float64 `json:"adjusted_risk_usd"`
	RiskMultiplier   float64 `json:"risk_multiplier"`
	Leverage         int     `json:"leverage"`
	SLDistancePct    float64 `json:"sl_distance_pct"`
	PositionSizeMult float64 `json:"position_size_mult"`
	NotionalUSD      float64 `json:"notional_usd"`
	Qty              float64 `json:"qty"`
	MarginUSD        float64 `json:"margin_usd"`
}
