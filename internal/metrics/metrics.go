// Package metrics holds the Prometheus collectors of the panel backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "venux_panel"

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	fetchDuration     *prometheus.HistogramVec
	fetchWarnings     *prometheus.CounterVec
	mutationResults   *prometheus.CounterVec
	liveSubscriptions prometheus.Gauge
	staleDiscarded    *prometheus.CounterVec
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of tenant view fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		fetchWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_warnings_total",
			Help:      "Partial fetch failures by source.",
		}, []string{"source"}),
		mutationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Instance mutations by result.",
		}, []string{"result"}),
		liveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscriptions",
			Help:      "Open live update subscriptions.",
		}),
		staleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_completions_discarded_total",
			Help:      "Fetch results and deltas dropped because newer data was already applied.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchDuration,
		m.fetchWarnings,
		m.mutationResults,
		m.liveSubscriptions,
		m.staleDiscarded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveFetch(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) FetchWarning(source string) {
	if m == nil {
		return
	}
	m.fetchWarnings.WithLabelValues(source).Inc()
}

func (m *Metrics) Mutation(result string) {
	if m == nil {
		return
	}
	m.mutationResults.WithLabelValues(result).Inc()
}

func (m *Metrics) LiveSubscribed() {
	if m == nil {
		return
	}
	m.liveSubscriptions.Inc()
}

func (m *Metrics) LiveEnded() {
	if m == nil {
		return
	}
	m.liveSubscriptions.Dec()
}

func (m *Metrics) StaleDiscarded(kind string) {
	if m == nil {
		return
	}
	m.staleDiscarded.WithLabelValues(kind).Inc()
}
