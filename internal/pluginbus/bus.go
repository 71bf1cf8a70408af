package pluginbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/controlplane/aicp/internal/metrics"
)

// Bus is the indexed plugin registry: by id, by Type, and — for
// LifecycleHook plugins — by Stage.
type Bus struct {
	mu      sync.RWMutex
	byID    map[string]Plugin
	byType  map[Type][]Plugin
	byStage map[Stage][]LifecycleHook
	logger  *slog.Logger
}

// New builds an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		byID:    make(map[string]Plugin),
		byType:  make(map[Type][]Plugin),
		byStage: make(map[Stage][]LifecycleHook),
		logger:  logger.With("component", "pluginbus.Bus"),
	}
}

// Register adds p to the registry. Returns a plain conflict error if
// p's id is already taken — the closed cperrors taxonomy has no
// plugin-specific kind for this.
func (b *Bus) Register(p Plugin) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byID[p.ID()]; exists {
		return fmt.Errorf("plugin %q is already registered", p.ID())
	}
	b.byID[p.ID()] = p
	b.byType[p.Type()] = append(b.byType[p.Type()], p)

	if hook, ok := p.(LifecycleHook); ok {
		b.byStage[hook.Stage()] = append(b.byStage[hook.Stage()], hook)
	}

	b.logger.Info("plugin registered", "plugin_id", p.ID(), "type", p.Type())
	return nil
}

// Get looks up a plugin by id.
func (b *Bus) Get(id string) (Plugin, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	return p, ok
}

// ListByType returns every registered plugin of the given Type.
func (b *Bus) ListByType(t Type) []Plugin {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Plugin(nil), b.byType[t]...)
}

// ExecuteHooks fans out to every LifecycleHook bound to stage, per
// spec.md §4.7: each invocation is isolated (panic or error is
// captured, never aborts the fan-out or the caller's pipeline), and
// the Executor — not this bus — decides what to do with the collected
// results.
func (b *Bus) ExecuteHooks(ctx context.Context, stage Stage, requestContext map[string]any) []Invocation {
	b.mu.RLock()
	hooks := append([]LifecycleHook(nil), b.byStage[stage]...)
	b.mu.RUnlock()

	results := make([]Invocation, 0, len(hooks))
	for _, hook := range hooks {
		results = append(results, b.invokeOne(ctx, hook, requestContext))
	}
	return results
}

func (b *Bus) invokeOne(ctx context.Context, hook LifecycleHook, requestContext map[string]any) (inv Invocation) {
	inv.PluginID = hook.ID()
	stage := string(hook.Stage())
	defer func() {
		if r := recover(); r != nil {
			inv.Status = "error"
			inv.Err = fmt.Errorf("hook %s panicked: %v", hook.ID(), r)
			b.logger.Error("lifecycle hook panicked", "plugin_id", hook.ID(), "panic", r)
		}
		metrics.HookInvocations.WithLabelValues(stage, inv.Status).Inc()
	}()

	result, err := hook.Invoke(ctx, requestContext)
	if err != nil {
		inv.Status = "error"
		inv.Err = err
		b.logger.Warn("lifecycle hook returned an error", "plugin_id", hook.ID(), "error", err)
		return inv
	}
	inv.Status = string(result.Status)
	inv.Result = result
	return inv
}

// FirstAbort scans invocations in order and returns the first one that
// requested an abort, if any. The Executor maps this to a DENY per
// spec.md §4.8 step 4.
func FirstAbort(invocations []Invocation) (Invocation, bool) {
	for _, inv := range invocations {
		if inv.Status == string(OutcomeAbort) {
			return inv, true
		}
	}
	return Invocation{}, false
}

// MergedContext folds every "continue" hook's replacement context over
// base, in invocation order, so a later hook's replacement wins over an
// earlier one for any overlapping key.
func MergedContext(base map[string]any, invocations []Invocation) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, inv := range invocations {
		if inv.Status != string(OutcomeContinue) || inv.Result.Context == nil {
			continue
		}
		for k, v := range inv.Result.Context {
			out[k] = v
		}
	}
	return out
}

