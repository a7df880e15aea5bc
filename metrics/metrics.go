// Package metrics is the "Prometheus-style metrics subsystem" spec §1
// names as an external collaborator: request counters by status class, a
// request-duration histogram, connection gauges, and response-cache
// hit/miss counters, built on prometheus/client_golang.
//
// Grounded on shockwave/pkg/shockwave/buffer_pool_prometheus.go's
// promauto-backed metric set (Namespace/Subsystem naming, counter+gauge
// pairing per concern), generalized from global package-level metric
// vars registered against prometheus's default registry to an instance
// holding its own *prometheus.Registry — a server embedding ampere more
// than once in a process (or a test suite constructing many servers)
// would otherwise collide on "duplicate metrics collector registration".
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds one server's metric collectors, all registered against
// its own Registry.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	connectionsOpen prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// New constructs a Metrics with a fresh, private Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ampere",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served, labeled by method and response status class.",
		}, []string{"method", "status_class"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ampere",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, from dispatch to response flush.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		connectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ampere",
			Subsystem: "conn",
			Name:      "open",
			Help:      "Number of currently open connections.",
		}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ampere",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Response cache hits.",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ampere",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Response cache misses.",
		}),
	}
}

// ObserveRequest records one completed request's method, status, and
// latency.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ConnectionOpened increments the open-connections gauge.
func (m *Metrics) ConnectionOpened() { m.connectionsOpen.Inc() }

// ConnectionClosed decrements the open-connections gauge.
func (m *Metrics) ConnectionClosed() { m.connectionsOpen.Dec() }

// CacheHit records a response-cache hit.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss records a response-cache miss.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// Handler serves the registry in the Prometheus text exposition format,
// for mounting at a path such as /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
