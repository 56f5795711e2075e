// Package metrics exposes the Prometheus instrumentation for the agent
// runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the runtime collectors. All collectors register on
// the registry passed to New.
type Metrics struct {
	TurnsTotal    *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	NodeDuration  *prometheus.HistogramVec
	NodeErrors    *prometheus.CounterVec
	StreamEvents  *prometheus.CounterVec
	ActiveStreams prometheus.Gauge
}

// New registers the runtime collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lisa_turns_total",
			Help: "Completed agent turns by assistant type and outcome.",
		}, []string{"assistant", "outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lisa_turn_duration_seconds",
			Help:    "Wall time of one agent turn.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lisa_node_duration_seconds",
			Help:    "Execution time per graph node.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"node"}),
		NodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lisa_node_errors_total",
			Help: "Node failures by node name.",
		}, []string{"node"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lisa_stream_events_total",
			Help: "Protocol events emitted by type.",
		}, []string{"type"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lisa_active_streams",
			Help: "SSE streams currently open.",
		}),
	}
}

// ObserveNode records one node execution; plugs into the graph's node
// observer hook.
func (m *Metrics) ObserveNode(node string, duration time.Duration, err error) {
	m.NodeDuration.WithLabelValues(node).Observe(duration.Seconds())
	if err != nil {
		m.NodeErrors.WithLabelValues(node).Inc()
	}
}

// ObserveTurn records one completed turn.
func (m *Metrics) ObserveTurn(assistant string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TurnsTotal.WithLabelValues(assistant, outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}
