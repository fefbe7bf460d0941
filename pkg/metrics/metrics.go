// Package metrics exposes the node's Prometheus instrumentation. Failures
// on the asynchronous paths have no feedback channel to their producers, so
// these counters are the only way to observe them besides logs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks event consumption, fan-out delivery and state sizes.
type Metrics struct {
	EventsConsumed *prometheus.CounterVec
	EventFailures  *prometheus.CounterVec

	Deliveries       prometheus.Counter
	DeliveryFailures prometheus.Counter

	Federations        prometheus.Gauge
	Subscriptions      prometheus.Gauge
	FederatedResources prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the node metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subman_events_consumed_total",
			Help: "Asynchronous events consumed, by event type",
		}, []string{"type"}),
		EventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subman_event_failures_total",
			Help: "Asynchronous events whose handler failed, by event type",
		}, []string{"type"}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "subman_deliveries_total",
			Help: "Outbound peer notifications attempted",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subman_delivery_failures_total",
			Help: "Outbound peer notifications that failed",
		}),
		Federations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subman_federations",
			Help: "Federations this platform currently belongs to",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subman_subscriptions",
			Help: "Subscription rows currently held",
		}),
		FederatedResources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subman_federated_resources",
			Help: "Federated resources currently known",
		}),
		registry: reg,
	}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint on addr until the server fails. Meant to
// be launched on its own goroutine.
func (m *Metrics) Serve(addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	return server.ListenAndServe()
}
