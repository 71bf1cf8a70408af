// Package registry is the Agent Registry (C4): the authoritative catalog
// of permitted agents, their risk tags, attached policy ids, and optional
// rate/cost caps. It is a read-mostly map guarded so that in-flight
// pipelines always observe either the pre- or post-mutation agent
// definition, never a partial one.
package registry

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/cperrors"
)

// Environment is the closed vocabulary for an agent's deployment tag.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
	EnvTest    Environment = "test"
)

// Status is the closed vocabulary for an agent's lifecycle state. Only
// StatusActive is executable.
type Status string

const (
	StatusActive        Status = "active"
	StatusInactive       Status = "inactive"
	StatusSuspended      Status = "suspended"
	StatusDecommissioned Status = "decommissioned"
)

// RiskLevel is the closed vocabulary validated at registration.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var validRiskLevels = map[RiskLevel]bool{
	RiskLow: true, RiskMedium: true, RiskHigh: true, RiskCritical: true,
}

// Agent is a registered AI endpoint governed by the control plane.
type Agent struct {
	ID          string
	Name        string
	Model       string
	Environment Environment
	Status      Status
	RiskLevel   RiskLevel
	PolicyIDs   []string
	RateCap     *RateCap // optional, nil = unbounded
	CostCap     *float64 // optional, nil = unbounded, advisory only (§5)
	Metadata    map[string]string
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
}

// RateCap bounds the number of requests an agent may make within a
// rolling window, enforced by the token-bucket counter in ratelimit.go.
type RateCap struct {
	Limit  int
	Window time.Duration
}

// Executable reports whether the agent may currently be invoked.
func (a Agent) Executable() bool { return a.Status == StatusActive }

// Attrs is the input to Register; id/created_at/created_by are derived or
// stamped by the registry, never supplied directly.
type Attrs struct {
	Name        string
	Model       string
	Environment Environment
	RiskLevel   RiskLevel
	PolicyIDs   []string
	RateCap     *RateCap
	CostCap     *float64
	Metadata    map[string]string
	CreatedBy   string
}

// Patch is a field-wise update; nil fields are left unchanged. id,
// created_at and created_by are immutable and have no patch field.
type Patch struct {
	Model       *string
	Environment *Environment
	RiskLevel   *RiskLevel
	PolicyIDs   []string
	RateCap     **RateCap
	CostCap     **float64
	Metadata    map[string]string
}

// Filters bound a List query.
type Filters struct {
	Environment Environment // "" = any
	RiskLevel   RiskLevel   // "" = any
	ActiveOnly  bool        // default true at the call site
}

// Registry is the C4 catalog. Mutations take an exclusive lock; reads take
// a shared lock, so pipelines never see a torn agent definition.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	clock  *clockid.Source
	limits *limiter
	store  PersistentStore // nil = in-memory only
	logger *slog.Logger
}

// New creates an empty Registry.
func New(clock *clockid.Source) *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		clock:  clock,
		limits: newLimiter(),
	}
}

// WithLogger attaches a logger used to report non-fatal store write
// failures from persist/Delete. Optional; a nil logger silently drops them.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithStore attaches a PersistentStore and rehydrates the catalog from it,
// mirroring the Audit Trail's own WithStore. Existing in-memory agents (if
// any) are discarded in favor of what the store holds.
func (r *Registry) WithStore(store PersistentStore) (*Registry, error) {
	agents, err := store.LoadAll()
	if err != nil {
		return nil, cperrors.Wrap(cperrors.FailClosed, "failed to load agent registry from store", err, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]Agent, len(agents))
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	r.store = store
	return r, nil
}

// Register creates a new agent, deriving its id from Name via the slug
// rule: lowercase, spaces/underscores to hyphens, drop all non-alphanumeric
// non-hyphen characters. Fails DuplicateAgent if the derived id already
// exists, InvalidRiskLevel if RiskLevel is outside the fixed vocabulary.
func (r *Registry) Register(attrs Attrs) (Agent, error) {
	if !validRiskLevels[attrs.RiskLevel] {
		return Agent{}, cperrors.New(cperrors.InvalidRiskLevel, string(attrs.RiskLevel)+" is not a recognized risk level", nil)
	}

	id := Slug(attrs.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return Agent{}, cperrors.New(cperrors.DuplicateAgent, "agent "+id+" already registered", map[string]any{"agent_id": id})
	}

	now := r.now()
	agent := Agent{
		ID:          id,
		Name:        attrs.Name,
		Model:       attrs.Model,
		Environment: attrs.Environment,
		Status:      StatusActive,
		RiskLevel:   attrs.RiskLevel,
		PolicyIDs:   append([]string(nil), attrs.PolicyIDs...),
		RateCap:     attrs.RateCap,
		CostCap:     attrs.CostCap,
		Metadata:    copyMeta(attrs.Metadata),
		CreatedAt:   now,
		CreatedBy:   attrs.CreatedBy,
		UpdatedAt:   now,
	}
	r.agents[id] = agent
	r.persist(agent)
	return agent, nil
}

// Get returns the agent by id, ok=false if absent.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns agents matching the given filters, sorted by id for
// deterministic output.
func (r *Registry) List(f Filters) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if f.Environment != "" && a.Environment != f.Environment {
			continue
		}
		if f.RiskLevel != "" && a.RiskLevel != f.RiskLevel {
			continue
		}
		if f.ActiveOnly && a.Status != StatusActive {
			continue
		}
		out = append(out, a)
	}
	sortAgentsByID(out)
	return out
}

// Update applies a field-wise patch. id, created_at and created_by are
// immutable and cannot be changed by a patch.
func (r *Registry) Update(id string, patch Patch) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return Agent{}, cperrors.New(cperrors.AgentNotFound, "agent "+id+" not found", map[string]any{"agent_id": id})
	}

	if patch.Model != nil {
		a.Model = *patch.Model
	}
	if patch.Environment != nil {
		a.Environment = *patch.Environment
	}
	if patch.RiskLevel != nil {
		if !validRiskLevels[*patch.RiskLevel] {
			return Agent{}, cperrors.New(cperrors.InvalidRiskLevel, string(*patch.RiskLevel)+" is not a recognized risk level", nil)
		}
		a.RiskLevel = *patch.RiskLevel
	}
	if patch.PolicyIDs != nil {
		a.PolicyIDs = append([]string(nil), patch.PolicyIDs...)
	}
	if patch.RateCap != nil {
		a.RateCap = *patch.RateCap
	}
	if patch.CostCap != nil {
		a.CostCap = *patch.CostCap
	}
	if patch.Metadata != nil {
		a.Metadata = copyMeta(patch.Metadata)
	}
	a.UpdatedAt = r.now()

	r.agents[id] = a
	r.persist(a)
	return a, nil
}

// Deactivate soft-disables an agent: status becomes inactive, the record
// is retained (audit entries may still reference it).
func (r *Registry) Deactivate(id string) error {
	return r.setStatus(id, StatusInactive)
}

// Activate restores an agent to active status.
func (r *Registry) Activate(id string) error {
	return r.setStatus(id, StatusActive)
}

func (r *Registry) setStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return cperrors.New(cperrors.AgentNotFound, "agent "+id+" not found", map[string]any{"agent_id": id})
	}
	a.Status = status
	a.UpdatedAt = r.now()
	r.agents[id] = a
	r.persist(a)
	return nil
}

// Delete hard-removes an agent record. This is an admin-only capability —
// callers must not expose it without authorization at the ingress layer.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return cperrors.New(cperrors.AgentNotFound, "agent "+id+" not found", map[string]any{"agent_id": id})
	}
	delete(r.agents, id)
	r.limits.reset(id)
	if r.store != nil {
		if err := r.store.Delete(id); err != nil {
			r.log(err)
		}
	}
	return nil
}

// persist saves a to the backing store, if one is attached. A store write
// failure is logged, not returned: the in-memory catalog (the source of
// truth for the hot path) has already been updated, and callers should not
// have a successful registration or patch fail only because the durable
// mirror lagged.
func (r *Registry) persist(a Agent) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(a); err != nil {
		r.log(err)
	}
}

func (r *Registry) log(err error) {
	if r.logger != nil {
		r.logger.Error("registry store write failed", "error", err)
	}
}

// CheckRate consults the per-agent token-bucket counter (§5 "Resource
// bounds"). It returns false when the agent's RateCap is set and the call
// would exceed it; unbounded agents (RateCap == nil) always pass.
func (r *Registry) CheckRate(id string) bool {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok || a.RateCap == nil {
		return true
	}
	return r.limits.allow(id, *a.RateCap)
}

func (r *Registry) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now().UTC()
}

// Slug derives an agent id from its display name: lowercase, spaces and
// underscores become hyphens, everything else non-alphanumeric/non-hyphen
// is dropped.
func Slug(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r == ' ' || r == '_':
			b.WriteRune('-')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortAgentsByID(agents []Agent) {
	for i := 1; i < len(agents); i++ {
		for j := i; j > 0 && agents[j].ID < agents[j-1].ID; j-- {
			agents[j], agents[j-1] = agents[j-1], agents[j]
		}
	}
}
