// Package metrics provides Prometheus metrics for the connector service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Connector lifecycle metrics
	ConnectorsRegistered prometheus.Gauge
	ConnectionStatus     *prometheus.GaugeVec
	ConnectAttempts      *prometheus.CounterVec
	ConnectErrors        *prometheus.CounterVec

	// Polling metrics
	PollCycles   *prometheus.CounterVec
	PollDuration *prometheus.HistogramVec
	PollErrors   *prometheus.CounterVec

	// Data flow metrics
	PointsEmitted  *prometheus.CounterVec
	BadPoints      *prometheus.CounterVec
	BatchesDropped *prometheus.CounterVec

	// Subscription metrics
	MessagesReceived *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec

	reg *prometheus.Registry
}

// NewRegistry creates a metrics registry with all metrics registered on a
// dedicated Prometheus registry (no global state, unlike promauto).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ConnectorsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "connectors",
			Name:      "registered",
			Help:      "Number of connectors currently in the registry",
		}),
		ConnectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "connectors",
			Name:      "connection_status",
			Help:      "Connection status per connector (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
		}, []string{"connector_id", "protocol"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Name:      "connect_attempts_total",
			Help:      "Total connection attempts",
		}, []string{"connector_id", "protocol"}),
		ConnectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Name:      "connect_errors_total",
			Help:      "Total failed connection attempts",
		}, []string{"connector_id", "protocol"}),

		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Subsystem: "polling",
			Name:      "cycles_total",
			Help:      "Total poll cycles executed",
		}, []string{"connector_id"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "connectors",
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"connector_id", "protocol"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Subsystem: "polling",
			Name:      "errors_total",
			Help:      "Total poll cycle errors",
		}, []string{"connector_id"}),

		PointsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Name:      "points_emitted_total",
			Help:      "Total data points emitted on the aggregate stream",
		}, []string{"connector_id"}),
		BadPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Name:      "bad_points_total",
			Help:      "Total data points emitted with bad or uncertain quality",
		}, []string{"connector_id"}),
		BatchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Name:      "batches_dropped_total",
			Help:      "Total batches dropped because the event channel was full",
		}, []string{"connector_id"}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Subsystem: "subscription",
			Name:      "messages_received_total",
			Help:      "Total broker messages received",
		}, []string{"connector_id"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectors",
			Subsystem: "subscription",
			Name:      "reconnects_total",
			Help:      "Total automatic reconnects",
		}, []string{"connector_id"}),
	}

	reg.MustRegister(
		r.ConnectorsRegistered,
		r.ConnectionStatus,
		r.ConnectAttempts,
		r.ConnectErrors,
		r.PollCycles,
		r.PollDuration,
		r.PollErrors,
		r.PointsEmitted,
		r.BadPoints,
		r.BatchesDropped,
		r.MessagesReceived,
		r.Reconnects,
	)

	return r
}

// Prometheus returns the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// RecordStatus updates the connection status gauge for a connector.
func (r *Registry) RecordStatus(connectorID, protocol string, status string) {
	var v float64
	switch status {
	case "connecting":
		v = 1
	case "connected":
		v = 2
	case "reconnecting":
		v = 3
	case "error":
		v = 4
	}
	r.ConnectionStatus.WithLabelValues(connectorID, protocol).Set(v)
}

// RemoveConnector drops all per-connector label series.
func (r *Registry) RemoveConnector(connectorID string) {
	labels := prometheus.Labels{"connector_id": connectorID}
	r.ConnectionStatus.DeletePartialMatch(labels)
	r.ConnectAttempts.DeletePartialMatch(labels)
	r.ConnectErrors.DeletePartialMatch(labels)
	r.PollCycles.DeletePartialMatch(labels)
	r.PollDuration.DeletePartialMatch(labels)
	r.PollErrors.DeletePartialMatch(labels)
	r.PointsEmitted.DeletePartialMatch(labels)
	r.BadPoints.DeletePartialMatch(labels)
	r.BatchesDropped.DeletePartialMatch(labels)
	r.MessagesReceived.DeletePartialMatch(labels)
	r.Reconnects.DeletePartialMatch(labels)
}
