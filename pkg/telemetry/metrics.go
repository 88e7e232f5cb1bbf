// Package telemetry exposes Prometheus instruments for the trading engine.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names.
const (
	MetricCandlesTotal      = "trend_trader_candles_processed_total"
	MetricSignalsTotal      = "trend_trader_signals_total"
	MetricOrdersPlacedTotal = "trend_trader_orders_placed_total"
	MetricFlipsTotal        = "trend_trader_flips_total"
	MetricReconnectsTotal   = "trend_trader_stream_reconnects_total"
	MetricPnLRealizedTotal  = "trend_trader_pnl_realized_total"
	MetricBreakerOpen       = "trend_trader_circuit_breaker_open"
	MetricEnginesRunning    = "trend_trader_engines_running"
)

// MetricsHolder holds the registered instruments.
type MetricsHolder struct {
	CandlesTotal      *prometheus.CounterVec
	SignalsTotal      *prometheus.CounterVec
	OrdersPlacedTotal *prometheus.CounterVec
	FlipsTotal        *prometheus.CounterVec
	ReconnectsTotal   *prometheus.CounterVec
	PnLRealizedTotal  *prometheus.GaugeVec
	BreakerOpen       *prometheus.GaugeVec
	EnginesRunning    prometheus.Gauge
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder, registering the
// instruments on first use.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			CandlesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: MetricCandlesTotal,
				Help: "Closed candles processed per symbol",
			}, []string{"symbol"}),
			SignalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: MetricSignalsTotal,
				Help: "Non-hold signals detected per symbol and direction",
			}, []string{"symbol", "signal"}),
			OrdersPlacedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: MetricOrdersPlacedTotal,
				Help: "Orders placed per symbol and type",
			}, []string{"symbol", "type"}),
			FlipsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: MetricFlipsTotal,
				Help: "Position flips per symbol",
			}, []string{"symbol"}),
			ReconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: MetricReconnectsTotal,
				Help: "Candle stream reconnect attempts per symbol",
			}, []string{"symbol"}),
			PnLRealizedTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: MetricPnLRealizedTotal,
				Help: "Cumulative realized PnL per symbol, losses subtract",
			}, []string{"symbol"}),
			BreakerOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: MetricBreakerOpen,
				Help: "1 when the named dependency breaker is open",
			}, []string{"dependency"}),
			EnginesRunning: promauto.NewGauge(prometheus.GaugeOpts{
				Name: MetricEnginesRunning,
				Help: "Number of running engine instances",
			}),
		}
	})
	return globalMetrics
}

// SetBreakerOpen reports the breaker state for a dependency.
func (m *MetricsHolder) SetBreakerOpen(dependency string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.BreakerOpen.WithLabelValues(dependency).Set(v)
}
