// Package metrics exposes the registry's prometheus collectors. Every
// Metrics value owns its own prometheus.Registry, so several registries can
// live in one process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modelreg"

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	queriesSubmitted   *prometheus.CounterVec
	slavesAttached     prometheus.Counter
	resubmissions      prometheus.Counter
	trackersFinished   *prometheus.CounterVec
	liveTrackers       prometheus.Gauge
	cacheLookups       *prometheus.CounterVec
	providerFetches    *prometheus.CounterVec
	providerSaturation *prometheus.GaugeVec
	fetchDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go runtime
// collector when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queriesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "submitted_total",
			Help:      "Top-level queries submitted, by family.",
		}, []string{"family"}),
		slavesAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "slaves_attached_total",
			Help:      "Slave trackers attached instead of fetching again.",
		}),
		resubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "resubmissions_total",
			Help:      "Trackers resubmitted after a slave's master finished.",
		}),
		trackersFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "finished_total",
			Help:      "Top-level trackers reaching a terminal status.",
		}, []string{"status"}),
		liveTrackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queries",
			Name:      "live",
			Help:      "Top-level trackers currently registered for overlap checks.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache satisfaction lookups, by result.",
		}, []string{"result"}),
		providerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetches_total",
			Help:      "Provider fetches, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "saturation_ratio",
			Help:      "Active fetch workers divided by the worker count.",
		}, []string{"provider"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of provider fetches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		m.queriesSubmitted,
		m.slavesAttached,
		m.resubmissions,
		m.trackersFinished,
		m.liveTrackers,
		m.cacheLookups,
		m.providerFetches,
		m.providerSaturation,
		m.fetchDuration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) QuerySubmitted(family string) {
	if m != nil {
		m.queriesSubmitted.WithLabelValues(family).Inc()
	}
}

func (m *Metrics) SlavesAttached(n int) {
	if m != nil && n > 0 {
		m.slavesAttached.Add(float64(n))
	}
}

func (m *Metrics) Resubmitted() {
	if m != nil {
		m.resubmissions.Inc()
	}
}

func (m *Metrics) TrackerFinished(status string) {
	if m != nil {
		m.trackersFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetLiveTrackers(n int) {
	if m != nil {
		m.liveTrackers.Set(float64(n))
	}
}

// CacheLookup records a cache satisfaction lookup as a hit, miss or error.
func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.cacheLookups.WithLabelValues(result).Inc()
	}
}

// ProviderFetch records a finished fetch.
func (m *Metrics) ProviderFetch(provider, outcome string, seconds float64) {
	if m != nil {
		m.providerFetches.WithLabelValues(provider, outcome).Inc()
		m.fetchDuration.WithLabelValues(provider).Observe(seconds)
	}
}

func (m *Metrics) SetProviderSaturation(provider string, v float64) {
	if m != nil {
		m.providerSaturation.WithLabelValues(provider).Set(v)
	}
}
