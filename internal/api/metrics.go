package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry,
// so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	opsPushed prometheus.Counter
	conflicts *prometheus.CounterVec
	pulled    prometheus.Counter
	refreshes *prometheus.CounterVec
}

// NewMetrics creates a metrics set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_syncd_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "class"}),
		opsPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_syncd_ops_applied_total",
			Help: "Client operations applied to the change log.",
		}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_syncd_conflicts_total",
			Help: "Rejected operations by reason.",
		}, []string{"reason"}),
		pulled: factory.NewCounter(prometheus.CounterOpts{
			Name: "crate_syncd_changes_served_total",
			Help: "Change log entries served to pulling clients.",
		}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crate_syncd_token_refreshes_total",
			Help: "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
