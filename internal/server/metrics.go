package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds the Prometheus metrics the facade registers and exposes.
// Nothing in this module updates RequestsTotal, RequestDuration,
// ActiveSessions or RateLimitDrops; only the Go and process collectors report
// values on their own.
type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	RateLimitDrops  *prometheus.CounterVec
}

// NewMetrics creates a dedicated registry, registers the Go/process
// collectors plus the server's own metrics, and returns the bundle.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		reg: reg,
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcore",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC requests dispatched, by method and outcome.",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpcore",
				Name:      "request_duration_seconds",
				Help:      "Dispatch latency in seconds, by method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpcore",
				Name:      "active_sessions",
				Help:      "Number of sessions currently tracked by the server.",
			},
		),
		RateLimitDrops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpcore",
				Name:      "rate_limit_drops_total",
				Help:      "Requests rejected by the rate limiter, by method.",
			},
			[]string{"method"},
		),
	}
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
