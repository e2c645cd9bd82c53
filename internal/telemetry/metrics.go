// Package telemetry provides observability primitives for the tokenmeter service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	AuthFailures     prometheus.Counter
	RateLimitRejects prometheus.Counter
	TokensCounted    *prometheus.CounterVec
	BatchItems       *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "tokenmeter",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokenmeter",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "auth_failures_total",
			Help:      "Total rejected authentication attempts.",
		}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}),

		TokensCounted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "tokens_counted_total",
			Help:      "Total tokens counted.",
		}, []string{"model"}),

		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "batch_items_total",
			Help:      "Total batch items processed.",
		}, []string{"outcome"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "cache_hits_total",
			Help:      "Total count cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenmeter",
			Name:      "cache_misses_total",
			Help:      "Total count cache misses.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.AuthFailures,
		m.RateLimitRejects,
		m.TokensCounted,
		m.BatchItems,
		m.CacheHits,
		m.CacheMisses,
	)

	return m
}
