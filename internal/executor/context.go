package executor

import (
	"fmt"

	"github.com/controlplane/aicp/internal/identity"
	"github.com/controlplane/aicp/internal/policy"
	"github.com/controlplane/aicp/internal/registry"
)

// buildRequestContext is step 5 of spec.md §4.8: assemble and freeze the
// RequestContext the Policy Engine judges, from the registered agent,
// the caller's identity, and the caller-supplied context mapping.
// Well-known keys ("resource_type", "environment", "intent", "tags",
// "metadata") override the agent-derived defaults; anything else in raw
// is folded into metadata under its own key.
func buildRequestContext(agent registry.Agent, ident identity.Metadata, raw map[string]any) (policy.RequestContext, error) {
	resourceType := "agent"
	environment := string(agent.Environment)
	intent := ""
	var tags []string
	metadata := make(map[string]string, len(raw))

	for k, v := range raw {
		switch k {
		case "resource_type":
			if s, ok := v.(string); ok {
				resourceType = s
			}
		case "environment":
			if s, ok := v.(string); ok {
				environment = s
			}
		case "intent":
			if s, ok := v.(string); ok {
				intent = s
			}
		case "tags":
			tags = toStringSlice(v)
		case "metadata":
			if m, ok := v.(map[string]string); ok {
				for mk, mv := range m {
					metadata[mk] = mv
				}
			}
		default:
			metadata[k] = toString(v)
		}
	}

	return policy.NewRequestContext(ident.ActorID(), ident.ActorRole(), agent.ID, resourceType, environment, intent, tags, metadata)
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, toString(item))
		}
		return out
	default:
		return nil
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
