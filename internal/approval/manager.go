package approval

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/controlplane/aicp/internal/audit"
	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/cperrors"
	"github.com/controlplane/aicp/internal/metrics"
)

// Manager owns the pending-request table and the configured set of
// Workflows. Every terminal transition is serialized under a single
// lock, mirrors the Audit Trail's own exclusive-writer discipline, and
// emits a DecisionRecord plus an audit.Entry before the lock releases.
type Manager struct {
	mu        sync.Mutex
	workflows map[string]Workflow
	pending   map[string]*Request
	decisions map[string]DecisionRecord
	clock     *clockid.Source
	trail     *audit.Trail
	logger    *slog.Logger
}

// NewManager builds a Manager. trail may be nil in tests that don't
// care about audit emission.
func NewManager(clock *clockid.Source, trail *audit.Trail, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = clockid.New(clockid.SystemClock{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workflows: make(map[string]Workflow),
		pending:   make(map[string]*Request),
		decisions: make(map[string]DecisionRecord),
		clock:     clock,
		trail:     trail,
		logger:    logger.With("component", "approval.Manager"),
	}
}

// RegisterWorkflow adds or replaces a Workflow definition by ID.
func (m *Manager) RegisterWorkflow(w Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
}

// Enqueue creates a new pending Request bound to workflowID. Returns an
// error if workflowID names no registered Workflow.
func (m *Manager) Enqueue(workflowID, executionID, agentID, actorID, actorRole, prompt, reason, triggeringPolicy, riskLevel string, reqCtx map[string]any) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[workflowID]; !ok {
		return nil, fmt.Errorf("approval workflow %q is not registered", workflowID)
	}

	req := &Request{
		ID:               m.clock.NewID("apr"),
		ExecutionID:      executionID,
		AgentID:          agentID,
		ActorID:          actorID,
		ActorRole:        actorRole,
		Prompt:           prompt,
		Reason:           reason,
		TriggeringPolicy: triggeringPolicy,
		WorkflowID:       workflowID,
		Status:           StatusPending,
		RequestedAt:      m.clock.Now(),
		RiskLevel:        riskLevel,
		Context:          reqCtx,
	}
	m.pending[req.ID] = req

	m.appendAudit("approval.requested", "enqueue", string(StatusPending), req, nil)
	m.logger.Info("approval request enqueued", "approval_id", req.ID, "workflow_id", workflowID, "execution_id", executionID)
	m.updatePendingGauge()
	return req, nil
}

// Get returns the current state of a request, pending or terminal.
func (m *Manager) Get(id string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[id]
	return req, ok
}

// Decision returns the terminal DecisionRecord for approval id, ok=false
// if id was never decided (still pending, or never existed).
func (m *Manager) Decision(id string) (DecisionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.decisions[id]
	return record, ok
}

// ListPending returns every request still in StatusPending.
func (m *Manager) ListPending() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, 0, len(m.pending))
	for _, req := range m.pending {
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out
}

func (m *Manager) currentRoles(req *Request, wf Workflow) []string {
	if len(req.escalatedRoles) > 0 {
		return req.escalatedRoles
	}
	return wf.AcceptedRoles
}

// Approve transitions id from pending to approved. actorRole must be
// one of the request's currently accepted roles (NotAuthorized
// otherwise); rationale is required if the workflow demands it
// (MissingRationale otherwise).
func (m *Manager) Approve(id, actorID, actorRole, rationale string) (*Request, error) {
	return m.decide(id, actorID, actorRole, rationale, StatusApproved)
}

// Reject transitions id from pending to rejected, with the same
// authorization and rationale rules as Approve.
func (m *Manager) Reject(id, actorID, actorRole, rationale string) (*Request, error) {
	return m.decide(id, actorID, actorRole, rationale, StatusRejected)
}

func (m *Manager) decide(id, actorID, actorRole, rationale string, outcome Status) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s not found", id)
	}
	// §4.5/§8 Testable Property 7: approve/reject on an already-terminal
	// request is idempotent — the stored Request (and its DecisionRecord,
	// via Decision) is returned as-is, with no re-validation and no
	// second audit entry, regardless of what outcome this call requested.
	if req.Status != StatusPending {
		return req, nil
	}
	wf := m.workflows[req.WorkflowID]

	roles := m.currentRoles(req, wf)
	authorized := false
	for _, r := range roles {
		if r == actorRole {
			authorized = true
			break
		}
	}
	if !authorized {
		return nil, cperrors.New(cperrors.NotAuthorized, fmt.Sprintf("role %q is not an accepted approver for workflow %s", actorRole, wf.ID),
			map[string]any{"approval_id": id, "accepted_roles": roles})
	}
	if wf.RequireRationale && rationale == "" {
		return nil, cperrors.New(cperrors.MissingRationale, "a rationale is required to decide this approval", map[string]any{"approval_id": id})
	}

	if outcome == StatusRejected {
		req.RejectionCount++
	}

	m.finalize(req, outcome, actorID, actorRole, rationale, "decide")
	return req, nil
}

// TimeoutSweep is the idempotent periodic scan of §4.5/§5: any pending
// request whose workflow deadline has elapsed is moved to its timeout
// disposition. Safe to call on a timer or on demand; calling it twice
// in a row with no new elapsed deadlines is a no-op. Returns every
// request that changed state this call.
func (m *Manager) TimeoutSweep(now time.Time) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []*Request
	for _, req := range m.pending {
		if req.Status != StatusPending {
			continue
		}
		wf, ok := m.workflows[req.WorkflowID]
		if !ok || !wf.expired(req.RequestedAt, now) {
			continue
		}
		m.applyTimeout(req, wf, now)
		changed = append(changed, req)
	}
	return changed
}

func (m *Manager) applyTimeout(req *Request, wf Workflow, now time.Time) {
	switch wf.TimeoutAction {
	case TimeoutApprove:
		m.finalize(req, StatusApproved, "system", "system", "", "timeout")
		return
	case TimeoutEscalate:
		pendingFor := now.Sub(req.RequestedAt)
		rule, fires := wf.firstFiringRule(pendingFor, req.RejectionCount, req.RiskLevel)
		if fires && req.EscalationCount < rule.MaxAttempts {
			m.escalate(req, wf, rule, now)
			return
		}
		// No rule fires, or attempts exhausted: fall back to reject path.
		m.finalize(req, StatusTimeout, "system", "system", "", "timeout")
		return
	default: // TimeoutReject, or unset
		m.finalize(req, StatusTimeout, "system", "system", "", "timeout")
	}
}

// escalate mutates req in place (Open Question #1): the target roles
// become the rule's escalate-to roles, requested_at resets so the new
// timeout window starts fresh, and the pre-escalation state is appended
// to PriorDecisions so compliance review can see the full path.
func (m *Manager) escalate(req *Request, wf Workflow, rule EscalationRule, now time.Time) {
	req.PriorDecisions = append(req.PriorDecisions, PriorDecision{
		At:       now,
		Outcome:  StatusPending,
		Reason:   fmt.Sprintf("escalated via rule %s", rule.ID),
		Workflow: req.WorkflowID,
	})
	req.escalatedRoles = append([]string(nil), rule.TargetRoles...)
	req.EscalationCount++
	req.RequestedAt = now

	m.appendAudit("approval.escalated", "escalate", string(StatusPending), req, map[string]any{
		"rule_id": rule.ID, "escalation_count": req.EscalationCount, "target_roles": rule.TargetRoles,
	})
	m.logger.Warn("approval request escalated", "approval_id", req.ID, "rule_id", rule.ID, "escalation_count", req.EscalationCount)
}

// finalize moves req to a terminal status, writes its DecisionRecord,
// and appends the corresponding audit entry. Must be called with m.mu
// held.
func (m *Manager) finalize(req *Request, outcome Status, decidedBy, decidedByRole, rationale, via string) {
	now := m.clock.Now()
	req.Status = outcome
	req.ReviewedAt = now
	req.Reviewer = decidedBy
	req.Comment = rationale

	record := DecisionRecord{
		ID:                m.clock.NewID("dec"),
		ApprovalID:        req.ID,
		Outcome:           outcome,
		DecidedAt:         now,
		DecidedBy:         decidedBy,
		DecidedByRole:     decidedByRole,
		Rationale:         rationale,
		RiskLevel:         req.RiskLevel,
		WorkflowID:        req.WorkflowID,
		ReviewedContext:   req.Context,
		PreviousDecisions: append([]PriorDecision(nil), req.PriorDecisions...),
	}
	m.decisions[req.ID] = record

	m.appendAudit("approval."+string(outcome), via, string(outcome), req, map[string]any{
		"decision_record_id": record.ID,
		"decided_by":         decidedBy,
		"decided_by_role":    decidedByRole,
		"rationale":          rationale,
	})
	m.logger.Info("approval request finalized", "approval_id", req.ID, "outcome", outcome, "decided_by", decidedBy)
	m.updatePendingGauge()
}

// updatePendingGauge refreshes the ApprovalsPending gauge. Must be
// called with m.mu held.
func (m *Manager) updatePendingGauge() {
	count := 0
	for _, req := range m.pending {
		if req.Status == StatusPending {
			count++
		}
	}
	metrics.ApprovalsPending.Set(float64(count))
}

func (m *Manager) appendAudit(eventType, action, status string, req *Request, extra map[string]any) {
	if m.trail == nil {
		return
	}
	data := map[string]any{"workflow_id": req.WorkflowID, "execution_id": req.ExecutionID}
	for k, v := range extra {
		data[k] = v
	}
	if _, err := m.trail.Append(eventType, action, status, data, req.ExecutionID, req.AgentID, req.ActorID); err != nil {
		m.logger.Error("failed to append audit entry for approval transition", "approval_id", req.ID, "error", err)
	}
}
