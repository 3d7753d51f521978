// Package metrics holds the Prometheus instruments of the router.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hashrouter"

// Route results.
const (
	ResultRouted          = "routed"
	ResultNoHealthyServer = "no_healthy_server"
)

// Eviction reasons.
const (
	ReasonHealthCheck = "health_check"
	ReasonForward     = "forward"
	ReasonSweep       = "sweep"
)

// Placement outcomes.
const (
	PlacementFull     = "full"
	PlacementDegraded = "degraded"
	PlacementFailed   = "failed"
)

// Metrics records routing, eviction and placement outcomes.
type Metrics struct {
	requests   *prometheus.CounterVec
	attempts   prometheus.Histogram
	evictions  *prometheus.CounterVec
	placements *prometheus.CounterVec
	servers    prometheus.Gauge
}

// New registers the router instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	var factory = promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by result.",
		}, []string{"result"}),
		attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_attempts",
			Help:      "Servers tried per routed request.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Servers removed because they stopped answering.",
		}, []string{"reason"}),
		placements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Server placements by outcome.",
		}, []string{"outcome"}),
		servers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers",
			Help:      "Servers currently on the ring.",
		}),
	}
}

// ObserveRequest counts a routed request by result and records how many servers it tried.
func (m *Metrics) ObserveRequest(result string, attempts int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
	m.attempts.Observe(float64(attempts))
}

// IncEviction counts a server removed for the given reason.
func (m *Metrics) IncEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

// IncPlacement counts a server placement by outcome.
func (m *Metrics) IncPlacement(outcome string) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(outcome).Inc()
}

// SetServers sets the number of servers on the ring.
func (m *Metrics) SetServers(n int) {
	if m == nil {
		return
	}
	m.servers.Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
