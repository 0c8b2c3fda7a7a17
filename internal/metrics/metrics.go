// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	RequestsInFlight       prometheus.Gauge
	AuthFailuresTotal      *prometheus.CounterVec
	RateLimitExceededTotal *prometheus.CounterVec
	PermissionDeniedTotal  prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigate_requests_total",
				Help: "Total number of gateway requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apigate_request_duration_seconds",
				Help:    "Gateway request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "apigate_requests_in_flight",
				Help: "Number of requests currently inside the pipeline",
			},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigate_auth_failures_total",
				Help: "Total number of failed authentications",
			},
			[]string{"reason"},
		),
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apigate_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"window"},
		),
		PermissionDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "apigate_permission_denied_total",
				Help: "Total number of permission denials",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSeconds,
		m.RequestsInFlight,
		m.AuthFailuresTotal,
		m.RateLimitExceededTotal,
		m.PermissionDeniedTotal,
	)

	return m
}

// Registry returns the underlying registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
