// Package metrics exposes Prometheus collectors for the pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the pipeline updates
type Metrics struct {
	breakerState   *prometheus.GaugeVec
	shortCircuits  *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	sources        *prometheus.CounterVec
	analysisScores prometheus.Histogram
}

// New creates the collectors and registers them with reg (if non-nil)
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "promessa",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		shortCircuits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promessa",
			Name:      "breaker_short_circuits_total",
			Help:      "Calls rejected by an open circuit breaker.",
		}, []string{"service"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promessa",
			Name:      "cache_requests_total",
			Help:      "Intelligent cache lookups by result.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promessa",
			Name:      "dispatch_total",
			Help:      "Dispatched analyses by outcome.",
		}, []string{"mode"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promessa",
			Name:      "connector_sources_total",
			Help:      "Sources returned per connector.",
		}, []string{"connector"}),
		analysisScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promessa",
			Name:      "analysis_score",
			Help:      "Distribution of viability scores.",
			Buckets:   []float64{10, 20, 35, 50, 60, 75, 90, 100},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.breakerState,
			m.shortCircuits,
			m.cacheRequests,
			m.dispatches,
			m.sources,
			m.analysisScores,
		)
	}

	return m
}

// BreakerState records the numeric state of a service breaker
func (m *Metrics) BreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// ShortCircuit counts a call rejected by an open breaker
func (m *Metrics) ShortCircuit(service string) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(service).Inc()
}

// CacheResult counts a cache lookup ("hit", "miss" or "shared")
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// Dispatch counts a dispatched analysis by outcome: async, sync, timeout
// or error
func (m *Metrics) Dispatch(mode string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(mode).Inc()
}

// Sources adds n sources returned by a connector
func (m *Metrics) Sources(connector string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sources.WithLabelValues(connector).Add(float64(n))
}

// Score observes a finished analysis score
func (m *Metrics) Score(score float64) {
	if m == nil {
		return
	}
	m.analysisScores.Observe(score)
}
