// Package observability is the Observability store (C11): an
// append-only event log feeding dashboard queries and replay. It is
// best-effort and off the request hot path other than the append
// itself — the Audit Trail remains the authoritative, tamper-evident
// record; this store exists for fast, indexed reads.
package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/controlplane/aicp/internal/clockid"
)

// Event is one append to the store. ExecutionID, ActorID, and AgentID
// may be empty; EventType and Timestamp are always set.
type Event struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Filters narrows Query to a subset of the log, same shape as
// audit.Filters but over Event's smaller field set.
type Filters struct {
	ExecutionID string
	ActorID     string
	AgentID     string
	EventTypes  []string
}

func (f Filters) matches(e Event) bool {
	if f.ExecutionID != "" && e.ExecutionID != f.ExecutionID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DefaultQueryLimit is the bound spec.md §4.9 requires when a caller
// doesn't specify one.
const DefaultQueryLimit = 100

// Broadcaster receives every appended Event for a live feed (e.g. a
// WebSocket hub). Optional; Store works with a nil Broadcaster.
type Broadcaster interface {
	Broadcast(event Event)
}

// Store is the append-only event log: a single writer lock guards the
// slice, matching §5's "Observability store: append-only ring or list
// with a single writer lock." Unlike the Audit Trail it is not
// hash-chained — it trades tamper-evidence for cheap, indexed reads.
type Store struct {
	mu     sync.Mutex
	clock  *clockid.Source
	events []Event
	cap    int
	bcast  Broadcaster
	logger *slog.Logger
}

// New builds a Store. capacity bounds how many events are retained —
// 0 means unbounded. bcast may be nil.
func New(clock *clockid.Source, capacity int, bcast Broadcaster, logger *slog.Logger) *Store {
	if clock == nil {
		clock = clockid.New(clockid.SystemClock{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clock:  clock,
		cap:    capacity,
		bcast:  bcast,
		logger: logger.With("component", "observability.Store"),
	}
}

// Record appends an Event. It never returns an error: per spec.md
// §4.9, an append failure here must never block or fail the Executor,
// so there is nothing for a caller to handle. Satisfies
// executor.EventRecorder.
func (s *Store) Record(eventType, executionID, actorID, agentID string, data map[string]any) {
	e := Event{
		ID:          s.clock.NewID("obs"),
		EventType:   eventType,
		Timestamp:   s.clock.Now(),
		ExecutionID: executionID,
		ActorID:     actorID,
		AgentID:     agentID,
		Data:        data,
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	if s.cap > 0 && len(s.events) > s.cap {
		// Drop the oldest entries, turning the slice into a ring.
		s.events = append([]Event(nil), s.events[len(s.events)-s.cap:]...)
	}
	s.mu.Unlock()

	if s.bcast != nil {
		s.bcast.Broadcast(e)
	}
}

// Query returns matching events, newest first. limit == 0 defaults to
// DefaultQueryLimit, matching §4.9's default; a negative limit is
// unbounded.
func (s *Store) Query(f Filters, limit int) []Event {
	if limit == 0 {
		limit = DefaultQueryLimit
	}

	s.mu.Lock()
	snapshot := append([]Event(nil), s.events...)
	s.mu.Unlock()

	out := make([]Event, 0)
	for i := len(snapshot) - 1; i >= 0; i-- {
		if f.matches(snapshot[i]) {
			out = append(out, snapshot[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// ByExecution is a convenience wrapper over Query for the common
// "replay this one execution" case, unbounded (an execution's event
// count is inherently small).
func (s *Store) ByExecution(executionID string) []Event {
	return s.Query(Filters{ExecutionID: executionID}, -1)
}

// Len returns the number of events currently retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
