package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"marketd/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured engine events, one
// counter increment per core/events.Event emitted by native/market.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketd",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events emitted segmented by market and event type.",
			}, []string{"market", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the emitted counter for the supplied market/event
// type pair. eventType should be an events.Event's EventType() value, e.g.
// "market.position_open" or "market.crank_exec".
func (m *eventMetrics) RecordEvent(market, eventType string) {
	if m == nil {
		return
	}
	market = strings.TrimSpace(market)
	if market == "" {
		market = "unknown"
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(market, eventType).Inc()
}

// EventSink adapts a market symbol and the metrics registry into an
// events.Emitter, so it can sit alongside native/market.Archive in a
// core/events.MultiEmitter.
type EventSink struct {
	Market  string
	Metrics *eventMetrics
}

// Emit implements events.Emitter.
func (s EventSink) Emit(ev events.Event) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.RecordEvent(s.Market, ev.EventType())
}
