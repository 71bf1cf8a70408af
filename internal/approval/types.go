// Package approval is the human Approval Workflow (C7): a state machine
// for requests a REVIEW policy decision deferred to a human
// reviewer. A sweeper scan (idempotent, safe to call on demand or on a
// timer) moves pending requests to timeout/escalated when their
// workflow's deadline has passed.
package approval

import "time"

// Status is the closed set of ApprovalRequest states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// TimeoutAction determines what the sweeper does when a request's
// workflow timeout elapses and no escalation rule fires.
type TimeoutAction string

const (
	TimeoutReject   TimeoutAction = "reject"
	TimeoutApprove  TimeoutAction = "approve"
	TimeoutEscalate TimeoutAction = "escalate"
)

// EscalationRule describes one step of an escalation ladder. A rule
// fires when any configured trigger is satisfied: the request has been
// pending at least TimeoutSeconds, it has been rejected at least
// RejectionCount times, or its risk level is at or above
// RiskLevelThreshold in the low<medium<high<critical ordering.
type EscalationRule struct {
	ID                 string
	Name               string
	TimeoutSeconds     int
	RejectionCount     int
	RiskLevelThreshold string
	TargetRoles        []string
	MaxAttempts        int
}

var riskLevelRank = map[string]int{"low": 0, "medium": 1, "high": 2, "critical": 3}

func (r EscalationRule) fires(pendingFor time.Duration, rejectionCount int, riskLevel string) bool {
	if r.TimeoutSeconds > 0 && pendingFor >= time.Duration(r.TimeoutSeconds)*time.Second {
		return true
	}
	if r.RejectionCount > 0 && rejectionCount >= r.RejectionCount {
		return true
	}
	if r.RiskLevelThreshold != "" && riskLevel != "" {
		want, wok := riskLevelRank[r.RiskLevelThreshold]
		got, gok := riskLevelRank[riskLevel]
		if wok && gok && got >= want {
			return true
		}
	}
	return false
}

// Workflow configures one approval policy: who may decide, how long a
// request waits, what happens on timeout, and an ordered escalation
// ladder.
type Workflow struct {
	ID               string
	Name             string
	AcceptedRoles    []string
	RequiredApprovals int
	TimeoutSeconds   int
	TimeoutAction    TimeoutAction
	EscalationRules  []EscalationRule
	RequireRationale bool
}

func (w Workflow) authorized(role string) bool {
	for _, r := range w.AcceptedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (w Workflow) expired(requestedAt, now time.Time) bool {
	return now.Sub(requestedAt) >= time.Duration(w.TimeoutSeconds)*time.Second
}

// firstFiringRule returns the first escalation rule (in configured
// order) whose trigger is satisfied, or false if none fires.
func (w Workflow) firstFiringRule(pendingFor time.Duration, rejectionCount int, riskLevel string) (EscalationRule, bool) {
	for _, rule := range w.EscalationRules {
		if rule.fires(pendingFor, rejectionCount, riskLevel) {
			return rule, true
		}
	}
	return EscalationRule{}, false
}

// PriorDecision is one entry in a Request's escalation/rejection
// history, preserved across re-enrollment so compliance review can see
// the full path a request took.
type PriorDecision struct {
	At       time.Time
	Outcome  Status
	Reason   string
	Workflow string
}

// Request is a single ApprovalRequest per spec.md §3. Escalation
// mutates a Request in place (Open Question #1): WorkflowID is kept,
// the accepted approver roles are replaced by the firing rule's
// TargetRoles, RequestedAt is reset, and the previous state is appended
// to PriorDecisions, so a caller holding the
// original ID keeps polling the same request across escalations.
type Request struct {
	ID              string
	ExecutionID     string
	AgentID         string
	ActorID         string
	ActorRole       string
	Prompt          string
	Reason          string
	TriggeringPolicy string
	WorkflowID      string
	Status          Status
	RequestedAt     time.Time
	ReviewedAt      time.Time
	Reviewer        string
	Comment         string
	RiskLevel       string
	Context         map[string]any
	RejectionCount  int
	EscalationCount int
	PriorDecisions  []PriorDecision

	// escalatedRoles overrides Workflow.AcceptedRoles once an escalation
	// rule has fired (Open Question #1: mutate in place, not re-issue).
	escalatedRoles []string
}

// DecisionRecord is the closed-form, immutable audit artefact written
// for every terminal Request transition.
type DecisionRecord struct {
	ID               string
	ApprovalID       string
	Outcome          Status
	DecidedAt        time.Time
	DecidedBy        string
	DecidedByRole    string
	Rationale        string
	RiskLevel        string
	WorkflowID       string
	ReviewedContext  map[string]any
	PreviousDecisions []PriorDecision
}
