package failclosed

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/controlplane/aicp/internal/cperrors"
)

// Enforcer is the fail-closed gate every Executor invocation of a
// protected step (kill-switch check, agent lookup, pre-request hooks,
// policy evaluation)
// runs through. It combines a health.Registry with a circuit breaker:
// health is checked first, and a critical-down component denies
// immediately without ever calling the wrapped function.
type Enforcer struct {
	mu          sync.Mutex
	health      *Registry
	breaker     *gobreaker.CircuitBreaker
	enforceMode bool
	logger      *slog.Logger
}

// NewEnforcer builds an Enforcer in enforce mode (the fail-closed
// default; disabling it is an explicit opt-out, never the default).
func NewEnforcer(cfg BreakerConfig, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failclosed.Enforcer")
	return &Enforcer{
		health:      NewRegistry(),
		breaker:     newGoBreaker(cfg, logger),
		enforceMode: true,
		logger:      logger,
	}
}

// RegisterProbe adds a health probe under name.
func (e *Enforcer) RegisterProbe(name string, probe Probe) {
	e.health.Register(name, probe)
}

// SetEnforceMode toggles whether a down critical probe actually blocks
// execution. Disabling it is for maintenance windows only; it is
// logged loudly because it is a deliberate weakening of the fail-closed
// guarantee.
func (e *Enforcer) SetEnforceMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enforceMode = on
	e.logger.Warn("fail-closed enforce mode changed", "enforce_mode", on)
}

// Status reports the current overall health, per-probe detail, and
// circuit breaker state without executing anything.
func (e *Enforcer) Status() (Status, map[string]Report, string) {
	overall, reports := e.health.CheckAll()
	return overall, reports, breakerStateName(e.breaker.State())
}

// ExecuteWithProtection runs fn only if health and circuit state both
// allow it. A critical-down health probe denies immediately when
// enforce mode is on (§4.6: never call the protected function). An
// open circuit is rejected by gobreaker itself and translated to
// cperrors.CircuitOpen. Any other health failure is logged but does
// not block execution (degraded, not down).
func (e *Enforcer) ExecuteWithProtection(fn func() (any, error)) (any, error) {
	overall, reports := e.health.CheckAll()

	e.mu.Lock()
	enforceMode := e.enforceMode
	e.mu.Unlock()

	if overall == StatusDown {
		if enforceMode {
			e.logger.Error("fail-closed: denying execution, critical component down", "probes", summarizeDown(reports))
			return nil, cperrors.New(cperrors.FailClosed,
				"a critical component is unhealthy; denying by default",
				map[string]any{"probes": summarizeDown(reports)})
		}
		e.logger.Warn("critical component down but enforce mode disabled, proceeding", "probes", summarizeDown(reports))
	} else if overall == StatusDegraded {
		e.logger.Warn("degraded health, proceeding", "probes", summarizeDown(reports))
	}

	result, err := e.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, cperrors.New(cperrors.CircuitOpen, "circuit breaker is open, refusing to call downstream", map[string]any{"breaker_state": breakerStateName(e.breaker.State())})
		}
		return nil, err
	}
	return result, nil
}

func summarizeDown(reports map[string]Report) map[string]string {
	out := make(map[string]string, len(reports))
	for name, r := range reports {
		out[name] = string(r.Status)
	}
	return out
}
