// Package monitoring exposes refresh metrics to Prometheus and raises
// operator alerts when a source stops making progress.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market"

// Metrics holds the refresh loop instruments on a private registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry    *prometheus.Registry
	refreshes   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	candidates  *prometheus.GaugeVec
	outstanding *prometheus.GaugeVec
	cacheOps    *prometheus.CounterVec
	rows        prometheus.Gauge
}

// NewMetrics creates and registers the instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Completed refresh jobs by source and outcome.",
		}, []string{"source", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Failed refresh jobs by source and failure kind.",
		}, []string{"source", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of one refresh job including fallback.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"source"}),
		candidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_candidates",
			Help:      "Candidates seen by the last selection, by kind (never, stale).",
		}, []string{"source", "kind"}),
		outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_outstanding",
			Help:      "Admitted refresh jobs not yet finished.",
		}, []string{"source"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Durable cache operations by source, operation and result.",
		}, []string{"source", "op", "result"}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Miners in the entity table.",
		}),
	}
	m.registry.MustRegister(
		m.refreshes, m.failures, m.duration, m.candidates, m.outstanding, m.cacheOps, m.rows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRefresh records one finished job. An empty failureKind means success.
func (m *Metrics) ObserveRefresh(source, failureKind string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failureKind != "" {
		outcome = "failed"
		m.failures.WithLabelValues(source, failureKind).Inc()
	}
	m.refreshes.WithLabelValues(source, outcome).Inc()
	m.duration.WithLabelValues(source).Observe(d.Seconds())
}

// SetCandidates records the never/stale split of the last selection.
func (m *Metrics) SetCandidates(source string, never, stale int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(source, "never").Set(float64(never))
	m.candidates.WithLabelValues(source, "stale").Set(float64(stale))
}

// SetOutstanding records the pool depth of a source.
func (m *Metrics) SetOutstanding(source string, n int) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(source).Set(float64(n))
}

// CacheOp counts one durable cache operation.
func (m *Metrics) CacheOp(source, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheOps.WithLabelValues(source, op, result).Inc()
}

// SetRows records the entity table size.
func (m *Metrics) SetRows(n int) {
	if m == nil {
		return
	}
	m.rows.Set(float64(n))
}
