package failclosed

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/controlplane/aicp/internal/metrics"
)

// BreakerConfig mirrors the failure_threshold/success_threshold/timeout
// triple of §4.6. FailureThreshold consecutive failures trip the
// breaker open; after Timeout it probes half-open and needs
// SuccessThreshold consecutive successes to close again.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// DefaultBreakerConfig matches fail_closed.py's CircuitBreaker defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}
}

// newGoBreaker builds a *gobreaker.CircuitBreaker from cfg, logging
// every state transition the way the rest of this module logs.
func newGoBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	successThreshold := cfg.SuccessThreshold
	if successThreshold == 0 {
		successThreshold = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: successThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(breakerStateName(to)))
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// breakerStateName maps gobreaker's state to the CLOSED/OPEN/HALF_OPEN
// vocabulary of spec §4.6.
func breakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
