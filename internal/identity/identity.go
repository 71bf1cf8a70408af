// Package identity describes the per-request identity context (C2): an
// immutable descriptor of who is calling and from where. It is built once
// at ingress and carried unchanged through the pipeline.
package identity

// Metadata is the frozen identity descriptor attached to one request. It
// mirrors spec.md §6's ingress identity fields exactly; construct it via
// New so that required fields are validated before any pipeline component
// sees it.
type Metadata struct {
	actorID       string
	actorRole     string
	actorEmail    string
	sourceIP      string
	userAgent     string
	correlationID string
}

// ActorID returns the authenticated actor's id.
func (m Metadata) ActorID() string { return m.actorID }

// ActorRole returns the authenticated actor's role.
func (m Metadata) ActorRole() string { return m.actorRole }

// ActorEmail returns the actor's email, if known.
func (m Metadata) ActorEmail() string { return m.actorEmail }

// SourceIP returns the caller's source IP, if known.
func (m Metadata) SourceIP() string { return m.sourceIP }

// UserAgent returns the caller's user agent, if known.
func (m Metadata) UserAgent() string { return m.userAgent }

// CorrelationID returns the caller-supplied correlation id, if any.
func (m Metadata) CorrelationID() string { return m.correlationID }

// New constructs a Metadata value, validating that actor_id and actor_role
// are non-empty as required by the ingress contract in spec.md §6.
func New(actorID, actorRole, actorEmail, sourceIP, userAgent, correlationID string) (Metadata, error) {
	if actorID == "" {
		return Metadata{}, errActorIDRequired
	}
	if actorRole == "" {
		return Metadata{}, errActorRoleRequired
	}
	return Metadata{
		actorID:       actorID,
		actorRole:     actorRole,
		actorEmail:    actorEmail,
		sourceIP:      sourceIP,
		userAgent:     userAgent,
		correlationID: correlationID,
	}, nil
}

var (
	errActorIDRequired   = identityError("actor_id is required")
	errActorRoleRequired = identityError("actor_role is required")
)

type identityError string

func (e identityError) Error() string { return string(e) }

// Validator is the abstract upstream authenticator contract from
// spec.md §6: validate_token(token) -> IdentityMetadata | nil. Production
// deployments wire in a real OIDC verifier; the core only depends on this
// interface, per Open Question #3.
type Validator interface {
	ValidateToken(token string) (*Metadata, error)
}
