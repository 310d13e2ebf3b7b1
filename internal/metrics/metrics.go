// Package metrics holds the Prometheus collectors for plat-field.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequests counts outbound calls by operation and outcome
	// (success, error, rejected).
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of outbound gateway requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	// StaleResults counts responses dropped because a newer selection started.
	StaleResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_stale_results_total",
			Help: "Results discarded because their selection generation was superseded",
		},
		[]string{"stage"},
	)

	// Transitions counts overlay state machine transitions.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "overlay_transitions_total",
			Help: "Overlay state transitions by event and result",
		},
		[]string{"event", "result"},
	)

	// SSEClients is the number of connected map views.
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapview_sse_clients",
			Help: "Connected map view SSE streams",
		},
	)
)
