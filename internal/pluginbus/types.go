// Package pluginbus is the typed Plugin / Hook Bus (C9): a registry of
// fixed-taxonomy plugins, with fan-out dispatch for the LifecycleHook
// variant that the Executor calls at each pipeline stage.
package pluginbus

import "context"

// Type is the closed taxonomy of plugin kinds spec.md §4.7 names.
type Type string

const (
	TypePolicyEvaluator  Type = "policy_evaluator"
	TypeRiskScorer       Type = "risk_scorer"
	TypeRiskEngine       Type = "risk_engine"
	TypeComplianceModule Type = "compliance_module"
	TypeLifecycleHook    Type = "lifecycle_hook"
	TypeDataSanitizer    Type = "data_sanitizer"
)

// Stage is the closed set of eight pipeline points a LifecycleHook may
// bind to.
type Stage string

const (
	StagePreRequest   Stage = "pre_request"
	StagePreExecute   Stage = "pre_execute"
	StagePostDecision Stage = "post_decision"
	StagePostExecute  Stage = "post_execute"
	StageOnError      Stage = "on_error"
	StageOnBlock      Stage = "on_block"
	StageOnEscalate   Stage = "on_escalate"
	StageOnIncident   Stage = "on_incident"
)

// HookOutcome is a LifecycleHook's own disposition for the request,
// distinct from whether the hook call itself errored.
type HookOutcome string

const (
	OutcomeContinue HookOutcome = "continue"
	OutcomeAbort    HookOutcome = "abort"
)

// HookResult is what a LifecycleHook returns. Context, when non-nil on
// a "continue" result, has its keys merged over the working request
// context the Executor carries into later stages (see MergedContext);
// keys absent from Context are kept, not removed.
type HookResult struct {
	Status  HookOutcome
	Context map[string]any
}

// Plugin is the minimal identity every registered plugin carries,
// regardless of variant.
type Plugin interface {
	ID() string
	Type() Type
}

// LifecycleHook is the Plugin variant the bus fans out to at each
// Stage. Invoke receives the current working context and must not
// mutate the map it's handed; to add or override context keys it
// returns a new map in HookResult.Context.
type LifecycleHook interface {
	Plugin
	Stage() Stage
	Invoke(ctx context.Context, requestContext map[string]any) (HookResult, error)
}

// Invocation is one LifecycleHook's recorded result from a fan-out
// call, per spec.md §4.7's execute_hooks return shape.
type Invocation struct {
	PluginID string
	Status   string
	Result   HookResult
	Err      error
}
