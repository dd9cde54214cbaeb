// Package metrics provides Prometheus metrics for the designer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "schemacanvas"

var (
	// GatewayRequestsTotal tracks outbound persistence calls by operation and status
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of persistence backend requests",
		},
		[]string{"op", "status"},
	)

	// GatewayRequestDuration tracks persistence call latency
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of persistence backend requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	// ReconcileDroppedReferences counts relationship_data pointers that did
	// not resolve during reconciliation
	ReconcileDroppedReferences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "dropped_references_total",
			Help:      "Total number of broken relationship references dropped",
		},
		[]string{"reason"},
	)

	// ReconcileRelationships tracks the size of the last reconciled graph
	ReconcileRelationships = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "relationships",
			Help:      "Number of relationships produced per reconciliation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// SyncRollbacksTotal counts optimistic edits reverted after a failed sync
	SyncRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "designer",
			Name:      "rollbacks_total",
			Help:      "Total number of optimistic edits rolled back",
		},
		[]string{"op"},
	)

	// CanvasEventsTotal counts canvas events seen by the event bus
	CanvasEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_total",
			Help:      "Total number of canvas events published",
		},
		[]string{"type"},
	)

	// EventsDropped counts events dropped because the bus buffer was full
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped on a full buffer",
		},
	)

	// SessionsActive tracks live designer sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live designer sessions",
		},
	)

	// SessionsExpired counts sessions removed by cleanup
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total number of designer sessions expired",
		},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)
)
