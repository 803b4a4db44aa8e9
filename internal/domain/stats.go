package domain

import "time"

// TradeRecord is a closed trade as written by the external trade logger.
type TradeRecord struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	ModeID   string    `json:"mode_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	PnLUSD   float64   `json:"pnl_usd"`
	ClosedAt time.Time `json:"closed_at"`
}

func (t TradeRecord) IsLoss() bool {
	return t.PnLUSD < 0
}

// SafetyState is the day-scoped trading record of one (user, mode) pair.
type SafetyState struct {
	UserID            int64      `json:"user_id"`
	ModeID            string     `json:"mode_id"`
	TradesToday       int        `json:"trades_today"`
	LossesToday       int        `json:"losses_today"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	LossTodayUSD      float64    `json:"loss_today_usd"`
	LastLossAt        *time.Time `json:"last_loss_at,omitempty"`
}

// SafetyCheckResult is a deliberate allow/deny outcome, never an error.
type SafetyCheckResult struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason,omitempty"`
	CooldownRemainingMin int    `json:"cooldown_remaining_min,omitempty"`
}

// SafetyStatus combines current counters with the caps they are measured against.
type SafetyStatus struct {
	State                SafetyState `json:"state"`
	MaxTradesPerDay      int         `json:"max_trades_per_day"`
	MaxConsecutiveLosses int         `json:"max_consecutive_losses"`
	DailyLossCapUSD      float64     `json:"daily_loss_cap_usd"`
	CooldownRemainingMin int         `json:"cooldown_remaining_min"`
}

type SymbolCheckResult struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
