// Package metrics exposes the core's operational counters via Prometheus,
// adapted from the teacher repo's pkg/metrics.MetricsCollector: named
// prometheus.Counter/Gauge/Histogram fields registered against a single
// registry, served over HTTP by promhttp.Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the core emits.
type Collector struct {
	QuickTabsActive   *prometheus.GaugeVec
	SaveLatency       prometheus.Histogram
	BroadcastInvalid  prometheus.Counter
	QuotaExceeded     prometheus.Counter
	SelfWriteSuppressed prometheus.Counter
	ExternalChanges   prometheus.Counter
	RateLimited       prometheus.Counter

	registry *prometheus.Registry
}

// New builds a Collector registered against a fresh, private registry (never
// the global default — this keeps multiple Collector instances safe to
// construct in the same process, e.g. one per test).
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		QuickTabsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quicktab_active_total",
			Help: "Number of Quick Tabs currently held, per container.",
		}, []string{"container"}),
		SaveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quicktab_save_latency_seconds",
			Help:    "Latency of persistence adapter Save calls.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicktab_broadcast_invalid_total",
			Help: "Messages rejected by the replication channel's schema validator.",
		}),
		QuotaExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicktab_quota_exceeded_total",
			Help: "Durable-storage writes that exceeded the quota and fell back.",
		}),
		SelfWriteSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicktab_self_write_suppressed_total",
			Help: "Storage-change notifications suppressed as self-echoes.",
		}),
		ExternalChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicktab_external_change_total",
			Help: "Foreign storage-change notifications that triggered reconciliation.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quicktab_router_rate_limited_total",
			Help: "Commands rejected by the router's rate limiter.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		c.QuickTabsActive, c.SaveLatency, c.BroadcastInvalid,
		c.QuotaExceeded, c.SelfWriteSuppressed, c.ExternalChanges, c.RateLimited,
	)
	return c
}

// Handler returns the HTTP handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
