package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Evaluate is the pure C5 algorithm of spec.md §4.3. It performs no I/O,
// reads no clock, and mutates neither policies nor ctx. Given identical
// inputs it always returns an identical Decision, including identical
// Matched ordering — tie-breaks among equal priorities preserve input
// order via a stable sort.
func Evaluate(policies []Policy, ctx RequestContext) Decision {
	working := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			working = append(working, p)
		}
	}
	sort.SliceStable(working, func(i, j int) bool {
		return working[i].Priority > working[j].Priority
	})

	matched := make([]string, 0, len(working))
	for _, p := range working {
		if !scopeMatches(p.Scope, ctx) {
			continue
		}
		if !conditionsMatch(p.Conditions, ctx) {
			continue
		}
		matched = append(matched, p.ID)

		switch p.Effect {
		case EffectDeny:
			return Decision{Outcome: EffectDeny, Matched: matched, Reason: fmt.Sprintf("Denied by policy %s: %s", p.ID, p.Description)}
		case EffectReview:
			return Decision{Outcome: EffectReview, Matched: matched, Reason: fmt.Sprintf("Review required by policy %s: %s", p.ID, p.Description)}
		}
	}

	return Decision{Outcome: EffectAllow, Matched: matched, Reason: "No blocking policies matched"}
}

func scopeMatches(scope Scope, ctx RequestContext) bool {
	for facet, allowed := range scope {
		if len(allowed) == 0 {
			continue
		}
		var value string
		switch facet {
		case "environment":
			value = ctx.environment
		case "resource_type":
			value = ctx.resourceType
		case "actor_role":
			value = ctx.actorRole
		default:
			continue
		}
		if !contains(allowed, value) {
			return false
		}
	}
	return true
}

func conditionsMatch(c Conditions, ctx RequestContext) bool {
	if len(c.Tags) > 0 && !anyOverlap(c.Tags, ctx.tags) {
		return false
	}
	if len(c.Metadata) > 0 {
		for k, want := range c.Metadata {
			if got, ok := ctx.metadata[k]; !ok || got != want {
				return false
			}
		}
	}
	if len(c.Intent) > 0 && !contains(c.Intent, ctx.intent) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Engine wraps the pure Evaluate function with an atomically swappable
// policy set, so a hot reload never exposes an in-flight evaluation to a
// half-replaced slice (spec.md §5: "Policy set... atomically swappable as
// a whole; in-flight evaluations always see a single coherent snapshot").
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	logger   *slog.Logger
}

// NewEngine creates an Engine with an empty policy set.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "policy.Engine")}
}

// Load atomically replaces the working policy set.
func (e *Engine) Load(policies []Policy) {
	snapshot := append([]Policy(nil), policies...)
	e.mu.Lock()
	e.policies = snapshot
	e.mu.Unlock()
	e.logger.Info("policy set loaded", "count", len(snapshot))
}

// Evaluate copies the current policy snapshot and runs the pure algorithm
// against it, so the in-flight evaluation cannot observe a concurrent
// Load.
func (e *Engine) Evaluate(ctx RequestContext) Decision {
	e.mu.RLock()
	snapshot := e.policies
	e.mu.RUnlock()
	return Evaluate(snapshot, ctx)
}

// PolicyCount returns the number of policies currently loaded.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

// Policies returns a defensive copy of the current policy snapshot, for
// CLI/admin inspection.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Policy(nil), e.policies...)
}
