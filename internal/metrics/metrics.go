// ABOUTME: Prometheus collectors for adapter traffic and plugin dispatch
// ABOUTME: Uses a private registry so several bridges can live in one process

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	inbound         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	failures        *prometheus.CounterVec
	requestTimeouts prometheus.Counter
	pending         prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pie",
			Name:      "inbound_items_total",
			Help:      "Inbound items delivered by the adapter, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pie",
			Name:      "dropped_items_total",
			Help:      "Inbound frames or items dropped, by reason.",
		}, []string{"reason"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pie",
			Name:      "dispatched_total",
			Help:      "Handler invocations started, by pie and kind.",
		}, []string{"pie", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pie",
			Name:      "failures_total",
			Help:      "Plugin hook, filter and handler failures, by pie and stage.",
		}, []string{"pie", "stage"}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pie",
			Name:      "request_timeouts_total",
			Help:      "Streaming requests that never received a correlated reply.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pie",
			Name:      "pending_requests",
			Help:      "Streaming requests awaiting a reply.",
		}),
	}
	m.registry.MustRegister(m.inbound, m.dropped, m.dispatched, m.failures, m.requestTimeouts, m.pending)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Inbound(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Dispatched(pieID, kind string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(pieID, kind).Inc()
}

func (m *Metrics) Failure(pieID, stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(pieID, stage).Inc()
}

func (m *Metrics) RequestTimeout() {
	if m == nil {
		return
	}
	m.requestTimeouts.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
