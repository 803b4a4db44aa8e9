package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the execution-core collectors. A nil *Metrics is valid and
// records nothing, so services can run without a registry.
type Metrics struct {
	ExchangeErrors    *prometheus.CounterVec
	OrdersPlaced      *prometheus.CounterVec
	OrdersFilled      *prometheus.CounterVec
	FillTimeouts      prometheus.Counter
	CloseAttempts     *prometheus.CounterVec
	ConsistencyErrors prometheus.Counter
	TradingStopWrites *prometheus.CounterVec
	SafetyDenials     *prometheus.CounterVec
	SymbolDenials     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExchangeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_exchange_errors_total",
				Help: "Non-zero exchange responses by error kind",
			},
			[]string{"kind"},
		),
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_orders_placed_total",
				Help: "Orders accepted by the exchange",
			},
			[]string{"type", "side", "reduce_only"},
		),
		OrdersFilled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_orders_filled_total",
				Help: "Orders observed as filled while waiting",
			},
			[]string{"symbol"},
		),
		FillTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "core_fill_timeouts_total",
				Help: "Orders cancelled because no fill was seen in time",
			},
		),
		CloseAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_close_attempts_total",
				Help: "Close attempts by outcome (closed, retrying, fatal)",
			},
			[]string{"outcome"},
		),
		ConsistencyErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "core_consistency_errors_total",
				Help: "Verification loops that exhausted their retries",
			},
		),
		TradingStopWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_trading_stop_writes_total",
				Help: "Protective stop writes by result",
			},
			[]string{"result"},
		),
		SafetyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_safety_denials_total",
				Help: "Trades denied by safety caps",
			},
			[]string{"mode"},
		),
		SymbolDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_symbol_denials_total",
				Help: "Symbols rejected by the mode filter",
			},
			[]string{"mode"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.ExchangeErrors, m.OrdersPlaced, m.OrdersFilled, m.FillTimeouts,
			m.CloseAttempts, m.ConsistencyErrors, m.TradingStopWrites,
			m.SafetyDenials, m.SymbolDenials,
		)
	}
	return m
}

func (m *Metrics) ExchangeError(kind string) {
	if m == nil {
		return
	}
	m.ExchangeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) OrderPlaced(orderType, side string, reduceOnly bool) {
	if m == nil {
		return
	}
	ro := "false"
	if reduceOnly {
		ro = "true"
	}
	m.OrdersPlaced.WithLabelValues(orderType, side, ro).Inc()
}

func (m *Metrics) OrderFilled(symbol string) {
	if m == nil {
		return
	}
	m.OrdersFilled.WithLabelValues(symbol).Inc()
}

func (m *Metrics) FillTimeout() {
	if m == nil {
		return
	}
	m.FillTimeouts.Inc()
}

func (m *Metrics) CloseAttempt(outcome string) {
	if m == nil {
		return
	}
	m.CloseAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConsistencyError() {
	if m == nil {
		return
	}
	m.ConsistencyErrors.Inc()
}

func (m *Metrics) TradingStopWrite(result string) {
	if m == nil {
		return
	}
	m.TradingStopWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) SafetyDenial(mode string) {
	if m == nil {
		return
	}
	m.SafetyDenials.WithLabelValues(mode).Inc()
}

func (m *Metrics) SymbolDenial(mode string) {
	if m == nil {
		return
	}
	m.SymbolDenials.WithLabelValues(mode).Inc()
}
