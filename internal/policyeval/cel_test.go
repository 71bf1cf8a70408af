package policyeval

import (
	"testing"

	"github.com/controlplane/aicp/internal/policy"
)

func mustNewEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator(nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	return eval
}

func mustCtx(t *testing.T, environment, intent string, tags []string, metadata map[string]string) policy.RequestContext {
	t.Helper()
	ctx, err := policy.NewRequestContext("actor-1", "developer", "agent-1", "model", environment, intent, tags, metadata)
	if err != nil {
		t.Fatalf("NewRequestContext: %v", err)
	}
	return ctx
}

func TestEvaluator_CompileValidExpression(t *testing.T) {
	eval := mustNewEvaluator(t)

	tests := []string{
		`environment == "production"`,
		`risk_score > 0.8`,
		`"pii" in tags`,
		`metadata["team"] == "billing"`,
		`environment == "production" && risk_score > 0.5`,
	}

	for _, expr := range tests {
		if _, err := eval.CompileExpression(expr); err != nil {
			t.Errorf("CompileExpression(%q) error: %v", expr, err)
		}
	}
}

func TestEvaluator_CompileInvalidExpression(t *testing.T) {
	eval := mustNewEvaluator(t)

	tests := []string{
		`environment ==`,
		`nonexistent.field == "x"`,
		`environment > 5`,
	}
	for _, expr := range tests {
		if _, err := eval.CompileExpression(expr); err == nil {
			t.Errorf("CompileExpression(%q) expected error, got nil", expr)
		}
	}
}

func TestEvaluator_CompileNonBoolExpression(t *testing.T) {
	eval := mustNewEvaluator(t)
	if _, err := eval.CompileExpression(`environment`); err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestEvaluator_EvaluateEnvironment(t *testing.T) {
	eval := mustNewEvaluator(t)
	rule, err := eval.CompileExpression(`environment == "production"`)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"development", false},
	}
	for _, tt := range tests {
		ctx := mustCtx(t, tt.env, "", nil, nil)
		got, err := eval.Evaluate(rule, ctx, 0, nil)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(env=%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestEvaluator_EvaluateRiskScore(t *testing.T) {
	eval := mustNewEvaluator(t)
	rule, err := eval.CompileExpression(`risk_score > 0.8`)
	if err != nil {
		t.Fatal(err)
	}

	ctx := mustCtx(t, "production", "", nil, nil)

	got, err := eval.Evaluate(rule, ctx, 0.9, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("expected true for risk_score=0.9 > 0.8")
	}

	got, err = eval.Evaluate(rule, ctx, 0.1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected false for risk_score=0.1 > 0.8")
	}
}

func TestEvaluator_EvaluateTagsAndMetadata(t *testing.T) {
	eval := mustNewEvaluator(t)
	rule, err := eval.CompileExpression(`"pii" in tags && metadata["team"] == "billing"`)
	if err != nil {
		t.Fatal(err)
	}

	ctx := mustCtx(t, "production", "", []string{"pii"}, map[string]string{"team": "billing"})
	got, err := eval.Evaluate(rule, ctx, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("expected true")
	}

	ctx2 := mustCtx(t, "production", "", []string{"pii"}, map[string]string{"team": "sales"})
	got, err = eval.Evaluate(rule, ctx2, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected false when team mismatches")
	}
}

func TestEvaluator_ActionCountInWindow(t *testing.T) {
	eval := mustNewEvaluator(t)
	rule, err := eval.CompileExpression(`action_count_in_window("llm.chat", "60s") > 5`)
	if err != nil {
		t.Fatal(err)
	}
	if !rule.usesDynFn {
		t.Error("expected usesDynFn=true")
	}

	ctx := mustCtx(t, "production", "", nil, nil)

	counter := func(actorID, window string) int { return 10 }
	got, err := eval.Evaluate(rule, ctx, 0, counter)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("expected true for count=10 > 5")
	}

	got, err = eval.Evaluate(rule, ctx, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected false when counter is nil (treated as 0)")
	}
}

func TestEvaluator_NilTagsAndMetadataHandled(t *testing.T) {
	eval := mustNewEvaluator(t)
	rule, err := eval.CompileExpression(`environment == "production"`)
	if err != nil {
		t.Fatal(err)
	}

	ctx := mustCtx(t, "production", "", nil, nil)
	got, err := eval.Evaluate(rule, ctx, 0, nil)
	if err != nil {
		t.Fatalf("Evaluate with nil tags/metadata: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}
