// Package policy is the deterministic Policy Engine (C5): a pure
// evaluator mapping (policies, request context) to a Decision. Evaluation
// performs no I/O, reads no clock, and mutates none of its inputs.
package policy

// Effect is the closed set of policy outcomes.
type Effect string

const (
	EffectAllow  Effect = "ALLOW"
	EffectDeny   Effect = "DENY"
	EffectReview Effect = "REVIEW"
)

// Scope maps a facet name to the set of permitted values for that facet.
// An absent facet matches everything; facets recognized by the core are
// "environment", "resource_type" and "actor_role", but the map is open so
// deployments may add their own.
type Scope map[string][]string

// Conditions narrows a match beyond scope: Tags requires at least one
// overlap with the context's tag set; Metadata requires every key to map
// to the exact value in context metadata; Intent requires the context's
// intent to be one of the listed values. A nil/empty field imposes no
// requirement.
type Conditions struct {
	Tags     []string
	Metadata map[string]string
	Intent   []string
}

// Policy is a declarative governance rule. Loader validates Effect when
// it builds a Policy from a file; Policy values are immutable for the
// duration of an evaluation — a hot reload swaps the whole slice.
type Policy struct {
	ID          string
	Version     string
	Priority    int
	Scope       Scope
	Conditions  Conditions
	Effect      Effect
	Description string
	Enabled     bool
}

// RequestContext is the frozen set of facts the engine judges. Construct
// via NewRequestContext; there is no mutation path after construction.
type RequestContext struct {
	actorID      string
	actorRole    string
	resourceID   string
	resourceType string
	environment  string
	intent       string
	tags         []string
	metadata     map[string]string
}

func (c RequestContext) ActorID() string         { return c.actorID }
func (c RequestContext) ActorRole() string        { return c.actorRole }
func (c RequestContext) ResourceID() string       { return c.resourceID }
func (c RequestContext) ResourceType() string     { return c.resourceType }
func (c RequestContext) Environment() string      { return c.environment }
func (c RequestContext) Intent() string           { return c.intent }
func (c RequestContext) Tags() []string           { return append([]string(nil), c.tags...) }
func (c RequestContext) Metadata() map[string]string {
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// NewRequestContext validates and freezes a RequestContext. actor_id,
// resource_id and environment are required non-empty per spec.md §3.
func NewRequestContext(actorID, actorRole, resourceID, resourceType, environment, intent string, tags []string, metadata map[string]string) (RequestContext, error) {
	if actorID == "" {
		return RequestContext{}, errRequired("actor_id")
	}
	if resourceID == "" {
		return RequestContext{}, errRequired("resource_id")
	}
	if environment == "" {
		return RequestContext{}, errRequired("environment")
	}
	return RequestContext{
		actorID:      actorID,
		actorRole:    actorRole,
		resourceID:   resourceID,
		resourceType: resourceType,
		environment:  environment,
		intent:       intent,
		tags:         append([]string(nil), tags...),
		metadata:     copyStrMap(metadata),
	}, nil
}

type requiredFieldError string

func (e requiredFieldError) Error() string { return string(e) + " is required" }

func errRequired(field string) error { return requiredFieldError(field) }

func copyStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Decision is the engine's output: outcome, the ordered ids of every
// policy that matched (in priority order, stopping at the first
// DENY/REVIEW), and a human-readable reason.
type Decision struct {
	Outcome Effect
	Matched []string
	Reason  string
}
