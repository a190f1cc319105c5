// Package metrics provides Prometheus metrics for the project assistant.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the assistant.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StoreWrites    *prometheus.CounterVec
	FanoutTotal    *prometheus.CounterVec
	FileSyncTotal  *prometheus.CounterVec
	OperationTotal *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		StoreWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_store_writes_total",
				Help: "Total number of durable store writes by entity kind.",
			},
			[]string{"kind"},
		),
		FanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_fanout_total",
				Help: "Cross-conversation deliveries by kind (notice, refresh) and result.",
			},
			[]string{"kind", "result"},
		),
		FileSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_file_sync_total",
				Help: "File synchronization steps by operation and result.",
			},
			[]string{"op", "result"},
		),
		OperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_operations_total",
				Help: "Project operations by name and result (ok, rejected, error).",
			},
			[]string{"op", "result"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_event_duration_seconds",
				Help:    "Conversation event handling duration by event type.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		registry: reg,
	}

	reg.MustRegister(m.StoreWrites)
	reg.MustRegister(m.FanoutTotal)
	reg.MustRegister(m.FileSyncTotal)
	reg.MustRegister(m.OperationTotal)
	reg.MustRegister(m.EventDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for tests and custom collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStoreWrite increments the store write counter.
func (m *Metrics) RecordStoreWrite(kind string) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(kind).Inc()
}

// RecordFanout counts one delivery attempt to a linked conversation.
func (m *Metrics) RecordFanout(kind, result string) {
	if m == nil {
		return
	}
	m.FanoutTotal.WithLabelValues(kind, result).Inc()
}

// RecordFileSync counts one file synchronization step.
func (m *Metrics) RecordFileSync(op, result string) {
	if m == nil {
		return
	}
	m.FileSyncTotal.WithLabelValues(op, result).Inc()
}

// RecordOperation counts one manager operation outcome.
func (m *Metrics) RecordOperation(op, result string) {
	if m == nil {
		return
	}
	m.OperationTotal.WithLabelValues(op, result).Inc()
}

// ObserveEvent records event handling duration.
func (m *Metrics) ObserveEvent(event string, seconds float64) {
	if m == nil {
		return
	}
	m.EventDuration.WithLabelValues(event).Observe(seconds)
}
