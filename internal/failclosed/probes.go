package failclosed

import "fmt"

// PolicyEngineProbe builds a critical probe that reports down when
// isHealthy returns false, grounded on fail_closed.py's
// check_policy_engine_health.
func PolicyEngineProbe(isHealthy func() bool) Probe {
	return func() Report {
		if isHealthy() {
			return Report{Status: StatusHealthy, Critical: true}
		}
		return Report{Status: StatusDown, Critical: true, Message: "policy engine is not responding"}
	}
}

// AuditTrailProbe reports down if appending to the trail is impossible
// (e.g. signing secret missing) — grounded on check_audit_log_health.
func AuditTrailProbe(canAppend func() error) Probe {
	return func() Report {
		if err := canAppend(); err != nil {
			return Report{Status: StatusDown, Critical: true, Message: fmt.Sprintf("audit trail unwritable: %v", err), Err: err}
		}
		return Report{Status: StatusHealthy, Critical: true}
	}
}

// KillSwitchProbe reports degraded (not down) when the kill-switch
// state cannot be read, since an unreadable kill-switch is suspicious
// but not itself a reason to halt everything — grounded on
// check_kill_switch_health.
func KillSwitchProbe(canRead func() error) Probe {
	return func() Report {
		if err := canRead(); err != nil {
			return Report{Status: StatusDegraded, Critical: false, Message: fmt.Sprintf("kill-switch state unreadable: %v", err), Err: err}
		}
		return Report{Status: StatusHealthy, Critical: false}
	}
}
