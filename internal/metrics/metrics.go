// Package metrics holds the prometheus collectors for auth, payment and session events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics groups the collectors. The zero value is not usable; use New.
type Metrics struct {
	registry *prometheus.Registry

	AuthEvents        *prometheus.CounterVec
	PaymentsInitiated *prometheus.CounterVec
	PaymentCallbacks  *prometheus.CounterVec
	PaymentPolls      *prometheus.CounterVec
	SessionSignOuts   *prometheus.CounterVec
}

// NewRegistry creates a registry.
// If collectProcessMetrics = true, the Go runtime and process collectors are registered.
func NewRegistry(collectProcessMetrics bool) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	if collectProcessMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// New creates the collectors and registers them with registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Identity operations by event and result.",
		}, []string{"event", "result"}),
		PaymentsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "initiated_total",
			Help:      "STK push initiations by result.",
		}, []string{"result"}),
		PaymentCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Gateway callbacks by resulting payment status.",
		}, []string{"status"}),
		PaymentPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "poll_outcomes_total",
			Help:      "Client payment polling loops by outcome.",
		}, []string{"outcome"}),
		SessionSignOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sign_outs_total",
			Help:      "Client session terminations by reason.",
		}, []string{"reason"}),
	}
	registry.MustRegister(
		m.AuthEvents,
		m.PaymentsInitiated,
		m.PaymentCallbacks,
		m.PaymentPolls,
		m.SessionSignOuts,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result maps an error to the "ok"/"error" label value
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
