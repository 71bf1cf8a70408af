package sanitize

import (
	"context"

	"github.com/controlplane/aicp/internal/pluginbus"
)

// Hook adapts a Scanner to the pluginbus.LifecycleHook contract so it can
// be registered on the pre_request stage of the Executor's pipeline. It
// reports itself as a TypeDataSanitizer plugin even though the bus only
// fans out LifecycleHook-variant plugins by Stage — Type is still the
// taxonomy tag an operator-facing plugin listing would group it under.
type Hook struct {
	id      string
	scanner *Scanner
}

// NewHook wraps scanner as a pre_request LifecycleHook with the given
// plugin id.
func NewHook(id string, scanner *Scanner) *Hook {
	return &Hook{id: id, scanner: scanner}
}

func (h *Hook) ID() string             { return h.id }
func (h *Hook) Type() pluginbus.Type   { return pluginbus.TypeDataSanitizer }
func (h *Hook) Stage() pluginbus.Stage { return pluginbus.StagePreRequest }

// Invoke scans requestContext["prompt"]. A "deny" mode configuration
// aborts the request outright on any detection; any other mode records
// the scan result in the returned context for audit/observability but
// never blocks — matching Config.Mode's flag/warn/deny vocabulary.
func (h *Hook) Invoke(ctx context.Context, requestContext map[string]any) (pluginbus.HookResult, error) {
	prompt, _ := requestContext["prompt"].(string)
	result := h.scanner.Scan(prompt)

	if !result.Detected {
		return pluginbus.HookResult{Status: pluginbus.OutcomeContinue}, nil
	}

	out := map[string]any{
		"sanitize_detected": result.Detected,
		"sanitize_severity": result.Severity,
		"sanitize_flags":    result.Flags,
	}
	if h.scanner.config.Mode == "deny" {
		return pluginbus.HookResult{Status: pluginbus.OutcomeAbort, Context: out}, nil
	}
	return pluginbus.HookResult{Status: pluginbus.OutcomeContinue, Context: out}, nil
}
