// Package metrics exposes the Prometheus collectors for connections,
// dispatched envelopes and broadcasts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aiworker/pkg/types"
)

const namespace = "aiworker"

// Dispatch outcomes recorded in aiworker_envelopes_total
const (
	OutcomeOK          = "ok"
	OutcomeDecodeError = "decode_error"
	OutcomeUnknownType = "unknown_type"
	OutcomeError       = "handler_error"
	OutcomeRateLimited = "rate_limited"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections  prometheus.Gauge
	connectionsTotal   prometheus.Counter
	envelopesTotal     *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	broadcastDelivered *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections",
		}),

		envelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by request type and outcome",
		}, []string{"type", "outcome"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent routing one inbound envelope",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),

		broadcastDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast deliveries by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// ObserveDispatch records one routed envelope. Unknown request types are
// collapsed into a single label value to keep cardinality bounded.
func (m *Metrics) ObserveDispatch(requestType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := labelForType(requestType)
	m.envelopesTotal.WithLabelValues(label, outcome).Inc()
	m.dispatchDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveBroadcast records the outcome of one fan-out pass
func (m *Metrics) ObserveBroadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcastDelivered.WithLabelValues("delivered").Add(float64(delivered))
	m.broadcastDelivered.WithLabelValues("failed").Add(float64(failed))
}

// Handler serves the Prometheus exposition format for this registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func labelForType(requestType string) string {
	switch {
	case types.IsKnownRequestType(requestType):
		return requestType
	case requestType == "":
		return "none"
	default:
		return "other"
	}
}
