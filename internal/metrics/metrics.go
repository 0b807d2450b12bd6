// Package metrics provides Prometheus metrics for the tunnel.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for target round trips. Covert targets are slow.
var defaultBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the tunnel.
type Metrics struct {
	Registry *prometheus.Registry

	TunnelRequests  *prometheus.CounterVec
	TunnelDuration  *prometheus.HistogramVec
	TunnelRetries   prometheus.Counter
	Transfers       *prometheus.CounterVec
	PlanRequests    *prometheus.HistogramVec
	PayloadBytes    prometheus.Histogram
	StatusRequests  *prometheus.CounterVec
	StatusInFlight  prometheus.Gauge
	StatusDurations *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		TunnelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httptunnel_requests_total",
			Help: "Requests sent to the target by method and status code (\"error\" on transport failure).",
		}, []string{"method", "status_code"}),

		TunnelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httptunnel_request_duration_seconds",
			Help:    "Target round-trip latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		TunnelRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "httptunnel_multipart_retries_total",
			Help: "Multipart requests that had to be sent again.",
		}),

		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httptunnel_transfers_total",
			Help: "Payload transfers by packing mode and outcome.",
		}, []string{"mode", "outcome"}),

		PlanRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httptunnel_plan_requests",
			Help:    "Number of requests in each sent transfer plan.",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}, []string{"method"}),

		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "httptunnel_payload_bytes",
			Help:    "Encoded payload size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),

		StatusRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httptunnel_status_http_requests_total",
			Help: "Requests served by the local status server.",
		}, []string{"method", "status_code", "path"}),

		StatusInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httptunnel_status_http_requests_in_flight",
			Help: "Status server requests currently being processed.",
		}),

		StatusDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httptunnel_status_http_request_duration_seconds",
			Help:    "Status server request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status_code", "path"}),
	}

	reg.MustRegister(
		m.TunnelRequests,
		m.TunnelDuration,
		m.TunnelRetries,
		m.Transfers,
		m.PlanRequests,
		m.PayloadBytes,
		m.StatusRequests,
		m.StatusInFlight,
		m.StatusDurations,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPaths lists the status server routes used as path labels.
var knownPaths = []string{"/healthz", "/tunnel/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
