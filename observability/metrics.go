package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	marketdMetricsOnce sync.Once
	marketdRegistry    *MarketdMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "marketd",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so
// dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// MarketdMetrics bundles collectors tracking the market engine and its crank
// loop, one set of label values per market symbol.
type MarketdMetrics struct {
	openPositions   *prometheus.GaugeVec
	poolUtilization *prometheus.GaugeVec
	crankExecutions *prometheus.CounterVec
	crankIdle       *prometheus.CounterVec
	closes          *prometheus.CounterVec
}

// Marketd returns the singleton metrics registry for the market engine.
func Marketd() *MarketdMetrics {
	marketdMetricsOnce.Do(func() {
		marketdRegistry = &MarketdMetrics{
			openPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketd",
				Subsystem: "market",
				Name:      "open_positions",
				Help:      "Count of currently open positions per market.",
			}, []string{"market"}),
			poolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketd",
				Subsystem: "market",
				Name:      "pool_utilization",
				Help:      "Locked counter_collateral as a fraction of total pool backing (0-1).",
			}, []string{"market"}),
			crankExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "crank",
				Name:      "executions_total",
				Help:      "Count of crank calls that performed work, segmented by step kind.",
			}, []string{"market", "step"}),
			crankIdle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "crank",
				Name:      "idle_total",
				Help:      "Count of crank calls that found no work to do.",
			}, []string{"market"}),
			closes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "market",
				Name:      "position_closes_total",
				Help:      "Count of position closes segmented by reason (Liquidation, TakeProfit, StopLoss, UserClose, WindDown).",
			}, []string{"market", "reason"}),
		}
		prometheus.MustRegister(
			marketdRegistry.openPositions,
			marketdRegistry.poolUtilization,
			marketdRegistry.crankExecutions,
			marketdRegistry.crankIdle,
			marketdRegistry.closes,
		)
	})
	return marketdRegistry
}

// SetOpenPositions records the current open-position count for a market.
func (m *MarketdMetrics) SetOpenPositions(market string, count int) {
	if m == nil {
		return
	}
	m.openPositions.WithLabelValues(market).Set(float64(count))
}

// SetPoolUtilization records the current pool utilization ratio for a market.
func (m *MarketdMetrics) SetPoolUtilization(market string, ratio float64) {
	if m == nil {
		return
	}
	m.poolUtilization.WithLabelValues(market).Set(ratio)
}

// RecordCrank records the outcome of one Crank call.
func (m *MarketdMetrics) RecordCrank(market, step string, processed int) {
	if m == nil {
		return
	}
	if processed == 0 {
		m.crankIdle.WithLabelValues(market).Inc()
		return
	}
	m.crankExecutions.WithLabelValues(market, step).Inc()
}

// RecordClose increments the close counter for a market/reason pair.
func (m *MarketdMetrics) RecordClose(market, reason string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(market, reason).Inc()
}
