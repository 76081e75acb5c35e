// Package metric provides Prometheus-based metrics collection and an HTTP
// server for dispatcher monitoring and observability.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all service-level metrics for the dispatcher
type Metrics struct {
	// Notification intake
	DeltasReceived    *prometheus.CounterVec
	SubjectsEnqueued  prometheus.Counter
	SubjectsCoalesced prometheus.Counter

	// Dispatch pipeline
	JobsProcessed        *prometheus.CounterVec
	MovesExecuted        *prometheus.CounterVec
	SubjectsRedispatched prometheus.Counter
	InFlight             prometheus.Gauge
	ProcessingDuration   *prometheus.HistogramVec

	// Prerequisite
	PrerequisiteSatisfied prometheus.Gauge

	// Store round trips
	StoreRequestDuration *prometheus.HistogramVec
	StoreErrors          *prometheus.CounterVec

	// NATS (optional delta source)
	NATSConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all dispatcher metrics
func NewMetrics() *Metrics {
	return &Metrics{
		DeltasReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "deltas",
				Name:      "received_total",
				Help:      "Total number of delta notifications received",
			},
			[]string{"source"},
		),

		SubjectsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "queue",
				Name:      "subjects_enqueued_total",
				Help:      "Total number of subjects accepted into the dispatch queue",
			},
		),

		SubjectsCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "queue",
				Name:      "subjects_coalesced_total",
				Help:      "Total number of enqueue attempts coalesced into an existing job",
			},
		),

		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "jobs",
				Name:      "processed_total",
				Help:      "Total number of dispatch jobs processed",
			},
			[]string{"status"},
		),

		MovesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "moves",
				Name:      "executed_total",
				Help:      "Total number of graph moves executed",
			},
			[]string{"rule"},
		),

		SubjectsRedispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "jobs",
				Name:      "redispatched_total",
				Help:      "Total number of dependent subjects re-enqueued after a move",
			},
		),

		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dispatcher",
				Subsystem: "queue",
				Name:      "in_flight",
				Help:      "Number of subjects currently queued or running",
			},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dispatcher",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Dispatch job processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		PrerequisiteSatisfied: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dispatcher",
				Subsystem: "prerequisite",
				Name:      "satisfied",
				Help:      "Whether the dispatch prerequisite is satisfied (0=pending, 1=satisfied)",
			},
		),

		StoreRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dispatcher",
				Subsystem: "store",
				Name:      "request_duration_seconds",
				Help:      "Triplestore round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dispatcher",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of triplestore request failures",
			},
			[]string{"operation"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dispatcher",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// collectors returns all core metrics for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DeltasReceived,
		m.SubjectsEnqueued,
		m.SubjectsCoalesced,
		m.JobsProcessed,
		m.MovesExecuted,
		m.SubjectsRedispatched,
		m.InFlight,
		m.ProcessingDuration,
		m.PrerequisiteSatisfied,
		m.StoreRequestDuration,
		m.StoreErrors,
		m.NATSConnected,
	}
}
