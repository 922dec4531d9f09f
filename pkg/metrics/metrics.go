// Package metrics exposes engine counters and gauges for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pairsbot_ticks_total", Help: "Scheduler ticks processed"},
	)
	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pairsbot_tick_errors_total", Help: "Ticks aborted on transport errors"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_orders_total", Help: "Leg orders placed"},
		[]string{"symbol", "side"},
	)
	OrderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_order_errors_total", Help: "Leg orders rejected"},
		[]string{"symbol", "side"},
	)
	TradesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_trades_opened_total", Help: "Positions opened"},
		[]string{"side"},
	)
	TradesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairsbot_trades_closed_total", Help: "Full position closes"},
		[]string{"reason"},
	)
	SpreadZScore = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pairsbot_spread_zscore", Help: "Latest spread z-score (0 while undefined)"},
	)
	Spread = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pairsbot_spread", Help: "Latest dollar-neutral percentage spread"},
	)
	EstimatedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pairsbot_estimated_pnl", Help: "Estimated open-position PnL in quote currency"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TickErrorsTotal,
		OrdersTotal, OrderErrorsTotal,
		TradesOpenedTotal, TradesClosedTotal,
		SpreadZScore, Spread, EstimatedPnL,
	)
}
