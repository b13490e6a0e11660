// Package observability exposes Prometheus metrics for the gateway.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. It implements
// upstream.Recorder.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
}

// New creates the metric set on a private registry so repeated construction
// (e.g. in tests) never collides.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopilot_requests_total",
			Help: "Inbound HTTP requests by endpoint and response status.",
		}, []string{"endpoint", "status"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopilot_upstream_calls_total",
			Help: "Outbound upstream calls by target style and outcome.",
		}, []string{"style", "outcome"}),
	}

	registry.MustRegister(m.requestsTotal, m.upstreamCalls)
	return m
}

// ObserveRequest counts one inbound request.
func (m *Metrics) ObserveRequest(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// ObserveUpstreamCall counts one outbound upstream call.
func (m *Metrics) ObserveUpstreamCall(style, outcome string) {
	m.upstreamCalls.WithLabelValues(style, outcome).Inc()
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
