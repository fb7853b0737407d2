package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus instruments
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions is the number of rooms with a live bot connection
	ActiveSessions prometheus.Gauge

	// SessionEvents counts lifecycle transitions by event name
	SessionEvents *prometheus.CounterVec

	// GenerationRequests counts reply generations by outcome
	GenerationRequests *prometheus.CounterVec

	// ReconnectFailures counts sessions whose reconnect budget ran out
	ReconnectFailures prometheus.Counter
}

// NewMetrics builds the instrument set on a fresh registry so tests can hold
// independent instances without duplicate registration panics.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of rooms with a live bot connection",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by name",
		}, []string{"event"}),
		GenerationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Reply generation attempts by outcome",
		}, []string{"result"}),
		ReconnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_failures_total",
			Help:      "Sessions that exhausted their reconnect attempts",
		}),
	}
}

// Handler exposes the registry for the /metrics route
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
