// Package executor is the pipeline orchestrator (C10): the single
// choke point every request flows through, end to end. Every step runs
// behind the Fail-closed Enforcer so a critical-component outage denies
// the request instead of letting it through ungoverned.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/controlplane/aicp/internal/approval"
	"github.com/controlplane/aicp/internal/audit"
	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/cperrors"
	"github.com/controlplane/aicp/internal/failclosed"
	"github.com/controlplane/aicp/internal/identity"
	"github.com/controlplane/aicp/internal/killswitch"
	"github.com/controlplane/aicp/internal/metrics"
	"github.com/controlplane/aicp/internal/modelclient"
	"github.com/controlplane/aicp/internal/pluginbus"
	"github.com/controlplane/aicp/internal/policy"
	"github.com/controlplane/aicp/internal/registry"
)

// EventRecorder is the Observability store's write surface, per
// spec.md §4.9: best-effort, never allowed to block or fail the
// pipeline. Implemented by observability.Store.
type EventRecorder interface {
	Record(eventType, executionID, actorID, agentID string, data map[string]any)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, string, string, string, map[string]any) {}

// Status is the closed set of outcomes Execute can return.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusBlocked         Status = "blocked"
	StatusPendingApproval Status = "pending_approval"
)

// Request is one submission to the control plane: spec.md §6's ingress
// shape.
type Request struct {
	AgentID  string
	Prompt   string
	Context  map[string]any
	Identity identity.Metadata
	Deadline time.Time
}

// Result is the envelope returned for every terminal outcome.
type Result struct {
	Status      Status
	ExecutionID string
	Response    string
	LatencyMS   int64
	Reason      string
	PolicyID    string
	ApprovalID  string
}

// Executor wires together every collaborator named in spec.md §4.8.
type Executor struct {
	clock      *clockid.Source
	killSwitch *killswitch.KillSwitch
	registry   *registry.Registry
	policy     *policy.Engine
	plugins    *pluginbus.Bus
	approvals  *approval.Manager
	trail      *audit.Trail
	enforcer   *failclosed.Enforcer
	invoker    modelclient.Invoker
	events     EventRecorder
	workflows  map[registry.RiskLevel]string
	logger     *slog.Logger
}

// Option configures an Executor via functional options, matching the
// proxy package's own wiring style.
type Option func(*Executor)

// WithEventRecorder sets the observability sink. Defaults to a no-op.
func WithEventRecorder(r EventRecorder) Option {
	return func(e *Executor) { e.events = r }
}

// WithWorkflowForRisk maps an agent risk level to the approval workflow
// id used when a policy decision is REVIEW, mirroring the Python
// original's DEFAULT_WORKFLOWS risk-tiered presets.
func WithWorkflowForRisk(level registry.RiskLevel, workflowID string) Option {
	return func(e *Executor) { e.workflows[level] = workflowID }
}

// New builds an Executor. All collaborators are required except those
// set via Option.
func New(clock *clockid.Source, ks *killswitch.KillSwitch, reg *registry.Registry, eng *policy.Engine, plugins *pluginbus.Bus, approvals *approval.Manager, trail *audit.Trail, enforcer *failclosed.Enforcer, invoker modelclient.Invoker, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		clock:      clock,
		killSwitch: ks,
		registry:   reg,
		policy:     eng,
		plugins:    plugins,
		approvals:  approvals,
		trail:      trail,
		enforcer:   enforcer,
		invoker:    invoker,
		events:     noopRecorder{},
		workflows:  map[registry.RiskLevel]string{registry.RiskLow: "standard", registry.RiskMedium: "standard", registry.RiskHigh: "high-risk", registry.RiskCritical: "critical"},
		logger:     logger.With("component", "executor.Executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// protect runs fn through the Fail-closed Enforcer so any one pipeline
// step fails closed on a critical-component outage, per spec.md §4.8's
// closing sentence ("every step of steps 2-9 runs inside C8's
// execute_with_protection wrapper").
func (e *Executor) protect(fn func() error) error {
	_, err := e.enforcer.ExecuteWithProtection(func() (any, error) { return nil, fn() })
	return err
}

// Execute runs one request through the full nine-step pipeline of
// spec.md §4.8.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	executionID := e.clock.NewID("exec")
	start := e.clock.Now()
	logger := e.logger.With("execution_id", executionID, "agent_id", req.AgentID)

	e.appendAudit("request.submitted", "submit", "pending", executionID, req.AgentID, req.Identity.ActorID(), nil)
	e.events.Record("request.submitted", executionID, req.Identity.ActorID(), req.AgentID, nil)

	// Step 2: kill-switch.
	if err := e.protect(func() error { return e.checkKillSwitch(executionID, req.AgentID) }); err != nil {
		e.finishMetrics("blocked", start)
		return e.blockedResult(executionID, err), err
	}

	// Step 3: registry lookup.
	var agent registry.Agent
	if err := e.protect(func() error {
		var lookupErr error
		agent, lookupErr = e.lookupAgent(executionID, req.AgentID)
		return lookupErr
	}); err != nil {
		e.finishMetrics("blocked", start)
		return e.blockedResult(executionID, err), err
	}

	// Step 4: pre-request hooks. The prompt is folded into the working
	// context under "prompt" so a data_sanitizer-variant hook (see
	// internal/sanitize) can scan it without the Executor depending on
	// that package directly.
	workingContext := withPrompt(req.Context, req.Prompt)
	var preInvocations []pluginbus.Invocation
	if err := e.protect(func() error {
		preInvocations = e.plugins.ExecuteHooks(ctx, pluginbus.StagePreRequest, workingContext)
		return nil
	}); err != nil {
		e.finishMetrics("blocked", start)
		return e.blockedResult(executionID, err), err
	}
	if inv, aborted := pluginbus.FirstAbort(preInvocations); aborted {
		reason := fmt.Sprintf("pre_request hook %s vetoed the request", inv.PluginID)
		e.appendAudit("request.blocked", "hook_veto", "blocked", executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"plugin_id": inv.PluginID})
		logger.Warn("blocked by pre_request hook veto", "plugin_id", inv.PluginID)
		e.finishMetrics("blocked", start)
		return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: reason}, cperrors.New(cperrors.PolicyViolation, reason, map[string]any{"execution_id": executionID})
	}
	workingContext = pluginbus.MergedContext(workingContext, preInvocations)

	// Step 5: build and freeze the RequestContext.
	reqCtx, err := buildRequestContext(agent, req.Identity, workingContext)
	if err != nil {
		e.finishMetrics("blocked", start)
		return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: err.Error()}, fmt.Errorf("executor: building request context: %w", err)
	}

	// Step 6: policy evaluation.
	var decision policy.Decision
	if err := e.protect(func() error {
		decision = e.policy.Evaluate(reqCtx)
		return nil
	}); err != nil {
		e.finishMetrics("blocked", start)
		return e.blockedResult(executionID, err), err
	}
	for _, policyID := range decision.Matched {
		e.appendAudit("policy.evaluated", "evaluate", string(decision.Outcome), executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"policy_id": policyID})
	}
	metrics.PolicyEvaluations.WithLabelValues(string(decision.Outcome)).Inc()

	switch decision.Outcome {
	case policy.EffectDeny:
		return e.handleDeny(ctx, executionID, req, decision, start)
	case policy.EffectReview:
		return e.handleReview(ctx, executionID, req, agent, decision, start)
	}

	// Step 9: ALLOW — invoke the model.
	return e.handleAllow(ctx, executionID, req, agent, start)
}

func (e *Executor) checkKillSwitch(executionID, agentID string) error {
	if blocked, reason := e.killSwitch.Blocked(agentID); blocked {
		metrics.KillSwitchChecks.WithLabelValues("checked", "true").Inc()
		e.appendAudit("request.blocked", "killswitch", "blocked", executionID, agentID, "", map[string]any{"reason": reason})
		return cperrors.New(cperrors.KillSwitchActive, reason, map[string]any{"agent_id": agentID, "execution_id": executionID})
	}
	metrics.KillSwitchChecks.WithLabelValues("checked", "false").Inc()
	return nil
}

func (e *Executor) lookupAgent(executionID, agentID string) (registry.Agent, error) {
	agent, ok := e.registry.Get(agentID)
	if !ok || !agent.Executable() {
		e.appendAudit("request.blocked", "registry_lookup", "blocked", executionID, agentID, "", nil)
		return registry.Agent{}, cperrors.New(cperrors.AgentNotFound, fmt.Sprintf("agent %q is not registered or not active", agentID), map[string]any{"agent_id": agentID, "execution_id": executionID})
	}
	if !e.registry.CheckRate(agentID) {
		e.appendAudit("request.blocked", "rate_limit", "blocked", executionID, agentID, "", nil)
		return registry.Agent{}, cperrors.New(cperrors.PolicyViolation, "rate limit", map[string]any{"agent_id": agentID, "execution_id": executionID})
	}
	return agent, nil
}

func (e *Executor) handleDeny(ctx context.Context, executionID string, req Request, decision policy.Decision, start time.Time) (Result, error) {
	policyID := ""
	if len(decision.Matched) > 0 {
		policyID = decision.Matched[len(decision.Matched)-1]
	}
	e.appendAudit("request.blocked", "policy_deny", "blocked", executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"policy_id": policyID, "reason": decision.Reason})
	e.plugins.ExecuteHooks(ctx, pluginbus.StageOnBlock, req.Context)
	e.finishMetrics("blocked", start)
	return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: decision.Reason, PolicyID: policyID},
		cperrors.New(cperrors.PolicyViolation, decision.Reason, map[string]any{"policy_id": policyID, "execution_id": executionID})
}

func (e *Executor) handleReview(ctx context.Context, executionID string, req Request, agent registry.Agent, decision policy.Decision, start time.Time) (Result, error) {
	workflowID := e.workflows[agent.RiskLevel]
	if workflowID == "" {
		workflowID = "standard"
	}
	policyID := ""
	if len(decision.Matched) > 0 {
		policyID = decision.Matched[len(decision.Matched)-1]
	}

	approvalReq, err := e.approvals.Enqueue(workflowID, executionID, req.AgentID, req.Identity.ActorID(), req.Identity.ActorRole(), req.Prompt, decision.Reason, policyID, string(agent.RiskLevel), req.Context)
	if err != nil {
		e.finishMetrics("error", start)
		return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: err.Error()}, fmt.Errorf("executor: enqueueing approval: %w", err)
	}

	e.appendAudit("request.pending_approval", "review", "pending", executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"approval_id": approvalReq.ID, "policy_id": policyID})
	e.plugins.ExecuteHooks(ctx, pluginbus.StageOnEscalate, req.Context)
	e.finishMetrics("pending_approval", start)
	return Result{Status: StatusPendingApproval, ExecutionID: executionID, ApprovalID: approvalReq.ID, Reason: decision.Reason}, nil
}

func (e *Executor) handleAllow(ctx context.Context, executionID string, req Request, agent registry.Agent, start time.Time) (Result, error) {
	var resp modelclient.Response
	out, invokeErr := e.enforcer.ExecuteWithProtection(func() (any, error) {
		return e.invoker.Invoke(ctx, modelclient.Request{AgentModel: agent.Model, Prompt: req.Prompt, Context: req.Context, Deadline: req.Deadline})
	})
	if invokeErr == nil {
		resp = out.(modelclient.Response)
	}

	latencyMS := e.clock.Now().Sub(start).Milliseconds()

	if invokeErr != nil {
		metrics.ModelInvocations.WithLabelValues("error").Inc()
		e.appendAudit("request.failed", "model_invoke", "error", executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"error": invokeErr.Error()})
		e.plugins.ExecuteHooks(ctx, pluginbus.StageOnError, req.Context)
		e.finishMetrics("error", start)
		return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: invokeErr.Error(), LatencyMS: latencyMS},
			cperrors.New(cperrors.ExecutionFailed, invokeErr.Error(), map[string]any{"execution_id": executionID})
	}

	metrics.ModelInvocations.WithLabelValues("success").Inc()
	metrics.ModelLatency.WithLabelValues(agent.Model).Observe(float64(latencyMS) / 1000)
	e.appendAudit("request.completed", "model_invoke", "success", executionID, req.AgentID, req.Identity.ActorID(), map[string]any{"latency_ms": latencyMS, "tokens_in": resp.TokensIn, "tokens_out": resp.TokensOut})
	e.plugins.ExecuteHooks(ctx, pluginbus.StagePostExecute, req.Context)
	e.events.Record("request.completed", executionID, req.Identity.ActorID(), req.AgentID, map[string]any{"latency_ms": latencyMS})
	e.finishMetrics("success", start)

	return Result{Status: StatusSuccess, ExecutionID: executionID, Response: resp.Output, LatencyMS: latencyMS}, nil
}

// withPrompt returns a copy of base with "prompt" set, leaving base
// untouched — callers elsewhere may still hold a reference to it.
func withPrompt(base map[string]any, prompt string) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out["prompt"] = prompt
	return out
}

func (e *Executor) blockedResult(executionID string, err error) Result {
	reason := err.Error()
	var cpe *cperrors.Error
	if errors.As(err, &cpe) {
		reason = cpe.Message
	}
	return Result{Status: StatusBlocked, ExecutionID: executionID, Reason: reason}
}

func (e *Executor) appendAudit(eventType, action, status, executionID, agentID, actorID string, data map[string]any) {
	if e.trail == nil {
		return
	}
	if _, err := e.trail.Append(eventType, action, status, data, executionID, agentID, actorID); err != nil {
		e.logger.Error("failed to append audit entry", "event_type", eventType, "execution_id", executionID, "error", err)
	}
}

func (e *Executor) finishMetrics(outcome string, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	metrics.RequestDuration.WithLabelValues(outcome).Observe(e.clock.Now().Sub(start).Seconds())
}
