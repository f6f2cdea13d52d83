// Package metrics defines the daemon's Prometheus registry: request-router
// counters/histograms, reconciler/sweeper/watcher gauges, under one
// namespace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "provider_daemon"

// Registry bundles every metric the daemon exports.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ReconcilerEvents *prometheus.CounterVec
	ReconcilerLag    prometheus.Gauge
	WatcherActive    prometheus.Gauge
	SweeperClosed    prometheus.Counter
	IndexerHealthy   prometheus.Gauge
}

// New constructs and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of routed requests, by transport/method/code.",
		}, []string{"transport", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, by transport/method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport", "method"}),
		ReconcilerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_events_applied_total",
			Help:      "Total number of chain events applied, by event name.",
		}, []string{"event"}),
		ReconcilerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciler_block_lag",
			Help:      "Blocks between the chain head and the last processed block.",
		}),
		WatcherActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_active_polls",
			Help:      "Number of resources currently being polled for readiness.",
		}),
		SweeperClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_agreements_closed_total",
			Help:      "Total number of agreements force-closed for a depleted balance.",
		}),
		IndexerHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_healthy",
			Help:      "1 if the last indexer probe succeeded, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ReconcilerEvents,
		m.ReconcilerLag,
		m.WatcherActive,
		m.SweeperClosed,
		m.IndexerHealthy,
	)
	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
