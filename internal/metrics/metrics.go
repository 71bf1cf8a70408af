// Package metrics exports the Prometheus counters and histograms the
// Executor and its collaborators update at each pipeline phase.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_requests_total",
			Help: "Total number of requests submitted to the control plane",
		},
		[]string{"outcome"}, // success, blocked, pending_approval, error
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aicp_request_duration_seconds",
			Help:    "End-to-end request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	KillSwitchChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_killswitch_checks_total",
			Help: "Total number of kill-switch checks, by scope and result",
		},
		[]string{"scope", "tripped"},
	)

	PolicyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_policy_evaluations_total",
			Help: "Total number of policy evaluations, by outcome",
		},
		[]string{"outcome"},
	)

	HookInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_hook_invocations_total",
			Help: "Total number of lifecycle hook invocations, by stage and status",
		},
		[]string{"stage", "status"},
	)

	AuditAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_audit_appends_total",
			Help: "Total number of audit trail appends, by event type",
		},
		[]string{"event_type"},
	)

	ApprovalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aicp_approvals_pending",
			Help: "Current number of pending approval requests",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aicp_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)

	ModelInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aicp_model_invocations_total",
			Help: "Total number of model invocations, by outcome",
		},
		[]string{"outcome"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aicp_model_invocation_duration_seconds",
			Help:    "Model invocation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"model"},
	)
)

// BreakerStateValue maps a breaker state name to the gauge value
// CircuitBreakerState expects.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}
