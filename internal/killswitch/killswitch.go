// Package killswitch implements the emergency-stop mechanism (C3): an
// in-memory flag set, global or per-agent, read on every request before
// any other pipeline step. It is checked before policy evaluation so it
// can never be bypassed by a policy misconfiguration.
package killswitch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/controlplane/aicp/internal/cperrors"
)

// Scope is the closed set of kill-switch scopes. spec.md §4.1 defines only
// global and agent; the session-level scope from the teacher's version is
// intentionally narrowed out.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
)

// Record is the state attached to one active (or most recently active)
// trip: who tripped it, why, and when.
type Record struct {
	Scope       Scope     `json:"scope"`
	AgentID     string    `json:"agent_id,omitempty"`
	Reason      string    `json:"reason"`
	ActivatedBy string    `json:"activated_by"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// KillSwitch holds the global flag and the per-agent map. Activation is
// single-writer-under-mutex; is_active reads take a shared lock and never
// block on I/O, satisfying the sub-millisecond read requirement of §4.1.
type KillSwitch struct {
	mu sync.RWMutex

	global  *Record // nil when not tripped
	agents  map[string]Record

	history []Record

	fileWatchPath string
	logger        *slog.Logger
}

// New creates an armed (untripped) KillSwitch.
func New(logger *slog.Logger) *KillSwitch {
	if logger == nil {
		logger = slog.Default()
	}
	homeDir, _ := os.UserHomeDir()
	return &KillSwitch{
		agents:        make(map[string]Record),
		fileWatchPath: filepath.Join(homeDir, ".aicp", "KILL"),
		logger:        logger.With("component", "killswitch.KillSwitch"),
	}
}

// Activate trips the kill switch for the given scope. scope must be
// ScopeGlobal or ScopeAgent; ScopeAgent additionally requires a non-empty
// agentID.
func (ks *KillSwitch) Activate(scope Scope, reason, agentID, activatedBy, source string) error {
	switch scope {
	case ScopeGlobal:
		ks.mu.Lock()
		rec := Record{Scope: ScopeGlobal, Reason: reason, ActivatedBy: activatedBy, Source: source, Timestamp: time.Now()}
		ks.global = &rec
		ks.history = append(ks.history, rec)
		ks.mu.Unlock()
		ks.logger.Error("global kill switch activated", "reason", reason, "activated_by", activatedBy)
		return nil
	case ScopeAgent:
		if agentID == "" {
			return cperrors.New(cperrors.MissingAgentId, "agent scope requires an agent id", nil)
		}
		ks.mu.Lock()
		rec := Record{Scope: ScopeAgent, AgentID: agentID, Reason: reason, ActivatedBy: activatedBy, Source: source, Timestamp: time.Now()}
		ks.agents[agentID] = rec
		ks.history = append(ks.history, rec)
		ks.mu.Unlock()
		ks.logger.Error("agent kill switch activated", "agent_id", agentID, "reason", reason, "activated_by", activatedBy)
		return nil
	default:
		return cperrors.New(cperrors.InvalidScope, fmt.Sprintf("scope %q is not one of {global, agent}", scope), nil)
	}
}

// Deactivate clears the kill switch for the given scope.
func (ks *KillSwitch) Deactivate(scope Scope, agentID string) error {
	switch scope {
	case ScopeGlobal:
		ks.mu.Lock()
		ks.global = nil
		ks.mu.Unlock()
		ks.logger.Info("global kill switch deactivated")
		return nil
	case ScopeAgent:
		if agentID == "" {
			return cperrors.New(cperrors.MissingAgentId, "agent scope requires an agent id", nil)
		}
		ks.mu.Lock()
		delete(ks.agents, agentID)
		ks.mu.Unlock()
		ks.logger.Info("agent kill switch deactivated", "agent_id", agentID)
		return nil
	default:
		return cperrors.New(cperrors.InvalidScope, fmt.Sprintf("scope %q is not one of {global, agent}", scope), nil)
	}
}

// IsActive reports whether the given scope is currently tripped. It is
// O(1), allocation-free, and safe under concurrent Activate/Deactivate
// calls — it takes only a read lock and never performs I/O.
func (ks *KillSwitch) IsActive(scope Scope, agentID string) (bool, error) {
	switch scope {
	case ScopeGlobal:
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		return ks.global != nil, nil
	case ScopeAgent:
		if agentID == "" {
			return false, cperrors.New(cperrors.MissingAgentId, "agent scope requires an agent id", nil)
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		if ks.global != nil {
			return true, nil
		}
		_, ok := ks.agents[agentID]
		return ok, nil
	default:
		return false, cperrors.New(cperrors.InvalidScope, fmt.Sprintf("scope %q is not one of {global, agent}", scope), nil)
	}
}

// GetReason returns the reason string recorded for the given scope's
// current trip, or "" if not tripped.
func (ks *KillSwitch) GetReason(scope Scope, agentID string) string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.global != nil {
		return ks.global.Reason
	}
	if scope == ScopeAgent {
		if rec, ok := ks.agents[agentID]; ok {
			return rec.Reason
		}
	}
	return ""
}

// Blocked is the Executor's single hot-path check: global scope first,
// then per-agent, returning the first matching reason. It must be
// sub-microsecond; it takes one read lock and performs no I/O.
func (ks *KillSwitch) Blocked(agentID string) (bool, string) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.global != nil {
		return true, ks.global.Reason
	}
	if rec, ok := ks.agents[agentID]; ok {
		return true, rec.Reason
	}
	return false, ""
}

// Snapshot is the full-state view exposed to the administrative surface.
type Snapshot struct {
	GlobalActive bool
	Global       *Record
	Agents       map[string]Record
	HistoryCount int
}

// Snapshot returns a point-in-time copy of all kill-switch state.
func (ks *KillSwitch) Snapshot() Snapshot {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	agents := make(map[string]Record, len(ks.agents))
	for k, v := range ks.agents {
		agents[k] = v
	}
	var global *Record
	if ks.global != nil {
		g := *ks.global
		global = &g
	}
	return Snapshot{
		GlobalActive: ks.global != nil,
		Global:       global,
		Agents:       agents,
		HistoryCount: len(ks.history),
	}
}

// History returns the full trigger history, oldest first, for audit
// reconciliation.
func (ks *KillSwitch) History() []Record {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]Record, len(ks.history))
	copy(out, ks.history)
	return out
}

// CheckFileKill is an additional global-scope trigger source (not a new
// scope): the presence of a sentinel file trips the existing global flag.
// Call periodically; it is idempotent — it will not re-append history
// once the global switch is already tripped.
func (ks *KillSwitch) CheckFileKill() {
	if ks.fileWatchPath == "" {
		return
	}
	if _, err := os.Stat(ks.fileWatchPath); err != nil {
		return
	}
	ks.mu.RLock()
	already := ks.global != nil
	ks.mu.RUnlock()
	if !already {
		_ = ks.Activate(ScopeGlobal, "KILL sentinel file detected", "", "filesystem", "file")
	}
}

// SetFileWatchPath overrides the sentinel file location (used by tests).
func (ks *KillSwitch) SetFileWatchPath(path string) {
	ks.mu.Lock()
	ks.fileWatchPath = path
	ks.mu.Unlock()
}
