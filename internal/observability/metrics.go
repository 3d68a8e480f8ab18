// Package observability holds the Prometheus metrics for the order engine.
//
// A nil *Metrics is valid and records nothing, so packages can be used in tests
// without a registry.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "quickcart"

// Transition results.
const (
	ResultOK                     = "ok"
	ResultInvalidTransition      = "invalid_transition"
	ResultConcurrentModification = "concurrent_modification"
	ResultNotFound               = "not_found"
	ResultError                  = "error"
)

// Notification outcomes.
const (
	NotifyDelivered = "delivered"
	NotifyDropped   = "dropped"
	NotifyFailed    = "failed"
)

type Metrics struct {
	// Transitions counts applyTransition attempts. Labels: from, to, result.
	Transitions *prometheus.CounterVec

	// Notifications counts per-subscriber deliveries. Labels: sink (ws, kafka), outcome.
	Notifications *prometheus.CounterVec

	// Subscribers is the number of live order/admin room registrations.
	Subscribers prometheus.Gauge

	// Connections is the number of open websocket connections.
	Connections prometheus.Gauge

	// MonitorCancellations counts orders cancelled by the decision timeout monitor.
	MonitorCancellations prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "order",
			Name:      "transitions_total",
			Help:      "Order status transition attempts by from/to status and result.",
		}, []string{"from", "to", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Status-change deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Live order and admin room subscriptions.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		MonitorCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "order",
			Name:      "decision_timeout_cancellations_total",
			Help:      "Orders cancelled because no admin decision was made in time.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Transitions,
		m.Notifications,
		m.Subscribers,
		m.Connections,
		m.MonitorCancellations,
		m.HTTPRequests,
		m.HTTPLatency,
	)
	return m
}

func (m *Metrics) ObserveTransition(from, to, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, result).Inc()
}

func (m *Metrics) ObserveNotification(sink, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) AddSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(delta)
}

func (m *Metrics) AddConnections(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Metrics) IncMonitorCancellations() {
	if m == nil {
		return
	}
	m.MonitorCancellations.Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry this Metrics was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
