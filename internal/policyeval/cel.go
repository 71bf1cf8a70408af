// Package policyeval is the optional, richer if/then policy DSL layered
// over the deterministic core (spec.md's Open Question #2): a
// PolicyEvaluator plugin (see internal/pluginbus) backed by CEL
// expressions, for deployments that need comparisons and boolean
// composition the core's scope+conditions+effect+priority model cannot
// express. It never replaces internal/policy.Evaluate — the Executor
// always runs the deterministic engine first.
package policyeval

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"

	"github.com/controlplane/aicp/internal/policy"
)

// ActionCounter answers "how many actions of this type has the actor
// taken within the given window", backing the action_count_in_window CEL
// function. Implementations are typically backed by the observability
// store or a session-scoped counter.
type ActionCounter func(actionType, window string) int

// CompiledRule wraps a pre-compiled CEL AST. Rules that call
// action_count_in_window bind a fresh program per evaluation so the
// function can capture that evaluation's ActionCounter; all other rules
// reuse one pre-built program.
type CompiledRule struct {
	Expression string
	ast        *cel.Ast
	program    cel.Program
	usesDynFn  bool
}

// Evaluator compiles and evaluates CEL expressions against a
// policy.RequestContext plus a risk score and tag set computed earlier in
// the pipeline (e.g. by a RiskScorer or DataSanitizer plugin).
type Evaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewEvaluator builds an Evaluator with the standard variable set: the
// request context's fields, plus an optional risk score.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("actor.id", cel.StringType),
		cel.Variable("actor.role", cel.StringType),
		cel.Variable("resource.id", cel.StringType),
		cel.Variable("resource.type", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("intent", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("risk_score", cel.DoubleType),

		cel.Function("action_count_in_window",
			cel.Overload("action_count_in_window_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.IntType,
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &Evaluator{env: env, logger: logger.With("component", "policyeval.Evaluator")}, nil
}

// CompileExpression parses and type-checks expr, which must evaluate to
// bool. Call at load time, never in the hot path.
func (e *Evaluator) CompileExpression(expr string) (CompiledRule, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	rule := CompiledRule{Expression: expr, ast: ast}
	usesDynFn := containsFunc(expr, "action_count_in_window")
	rule.usesDynFn = usesDynFn
	if !usesDynFn {
		prg, err := e.env.Program(ast)
		if err != nil {
			return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
		}
		rule.program = prg
	}

	e.logger.Debug("compiled CEL expression", "expression", expr, "uses_dynamic_fn", usesDynFn)
	return rule, nil
}

func containsFunc(expr, funcName string) bool {
	for i := 0; i <= len(expr)-len(funcName); i++ {
		if expr[i:i+len(funcName)] == funcName {
			return true
		}
	}
	return false
}

// Evaluate runs a compiled rule against a request context, an optional
// risk score, and an ActionCounter used only by rules referencing
// action_count_in_window.
func (e *Evaluator) Evaluate(rule CompiledRule, ctx policy.RequestContext, riskScore float64, counter ActionCounter) (bool, error) {
	md := ctx.Metadata()
	if md == nil {
		md = map[string]string{}
	}
	tags := ctx.Tags()
	if tags == nil {
		tags = []string{}
	}

	vars := map[string]interface{}{
		"actor.id":      ctx.ActorID(),
		"actor.role":    ctx.ActorRole(),
		"resource.id":   ctx.ResourceID(),
		"resource.type": ctx.ResourceType(),
		"environment":   ctx.Environment(),
		"intent":        ctx.Intent(),
		"tags":          tags,
		"metadata":      md,
		"risk_score":    riskScore,
	}

	var prg cel.Program
	if rule.usesDynFn {
		countFn := func(args ...ref.Val) ref.Val {
			if len(args) != 2 {
				return types.NewErr("action_count_in_window requires 2 arguments")
			}
			actionType, ok1 := args[0].Value().(string)
			window, ok2 := args[1].Value().(string)
			if !ok1 || !ok2 {
				return types.NewErr("action_count_in_window arguments must be strings")
			}
			if counter == nil {
				return types.Int(0)
			}
			return types.Int(int64(counter(actionType, window)))
		}

		var err error
		prg, err = e.env.Program(rule.ast, cel.Functions(&functions.Overload{
			Operator: "action_count_in_window_string_string",
			Function: countFn,
		}))
		if err != nil {
			return false, fmt.Errorf("CEL program creation failed for %q: %w", rule.Expression, err)
		}
	} else {
		prg = rule.program
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}
	return result, nil
}
