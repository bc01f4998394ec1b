package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the relay server
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	opsTotal        *prometheus.CounterVec
}

// NewMetrics creates the relay metrics and registers them on reg. A nil reg
// gets a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ember_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ember_relay_operations_total",
				Help: "Relayed store operations",
			},
			[]string{"op", "outcome"},
		),
	}

	reg.MustRegister(m.requestsTotal, m.requestDuration, m.opsTotal)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records metrics for an HTTP request
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(
		method,
		path,
		fmt.Sprintf("%d", status),
	).Inc()

	m.requestDuration.WithLabelValues(
		method,
		path,
	).Observe(duration.Seconds())
}

// RecordOp records the outcome of a relayed operation
func (m *Metrics) RecordOp(op Op, outcome string) {
	m.opsTotal.WithLabelValues(string(op), outcome).Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
