package observability

import (
	"testing"
	"time"

	"github.com/controlplane/aicp/internal/clockid"
)

func newTestStore(capacity int, bcast Broadcaster) *Store {
	clock := clockid.New(clockid.NewSequencedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond))
	return New(clock, capacity, bcast, nil)
}

func TestStore_RecordAndQuery(t *testing.T) {
	s := newTestStore(0, nil)
	s.Record("request.submitted", "exec-1", "actor-1", "agent-1", nil)
	s.Record("request.completed", "exec-1", "actor-1", "agent-1", map[string]any{"latency_ms": 12})

	events := s.Query(Filters{ExecutionID: "exec-1"}, -1)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	// Newest first.
	if events[0].EventType != "request.completed" {
		t.Errorf("events[0].EventType = %q, want request.completed", events[0].EventType)
	}
}

func TestStore_QueryFiltersByAgentAndEventType(t *testing.T) {
	s := newTestStore(0, nil)
	s.Record("request.submitted", "exec-1", "actor-1", "agent-a", nil)
	s.Record("request.submitted", "exec-2", "actor-1", "agent-b", nil)
	s.Record("request.blocked", "exec-3", "actor-1", "agent-a", nil)

	byAgent := s.Query(Filters{AgentID: "agent-a"}, -1)
	if len(byAgent) != 2 {
		t.Fatalf("len(byAgent) = %d, want 2", len(byAgent))
	}

	byType := s.Query(Filters{EventTypes: []string{"request.blocked"}}, -1)
	if len(byType) != 1 {
		t.Fatalf("len(byType) = %d, want 1", len(byType))
	}
}

func TestStore_QueryDefaultLimit(t *testing.T) {
	s := newTestStore(0, nil)
	for i := 0; i < DefaultQueryLimit+10; i++ {
		s.Record("request.submitted", "exec", "actor", "agent", nil)
	}
	events := s.Query(Filters{}, 0)
	if len(events) != DefaultQueryLimit {
		t.Fatalf("len(events) = %d, want %d", len(events), DefaultQueryLimit)
	}
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	s := newTestStore(3, nil)
	for i := 0; i < 5; i++ {
		s.Record("request.submitted", "exec", "actor", "agent", nil)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
}

func TestStore_ByExecutionIsUnbounded(t *testing.T) {
	s := newTestStore(0, nil)
	for i := 0; i < DefaultQueryLimit+5; i++ {
		s.Record("policy.evaluated", "exec-1", "actor", "agent", nil)
	}
	events := s.ByExecution("exec-1")
	if len(events) != DefaultQueryLimit+5 {
		t.Fatalf("len(events) = %d, want %d", len(events), DefaultQueryLimit+5)
	}
}

type recordingBroadcaster struct {
	events []Event
}

func (r *recordingBroadcaster) Broadcast(e Event) {
	r.events = append(r.events, e)
}

func TestStore_RecordBroadcasts(t *testing.T) {
	bcast := &recordingBroadcaster{}
	s := newTestStore(0, bcast)
	s.Record("request.submitted", "exec-1", "actor-1", "agent-1", nil)

	if len(bcast.events) != 1 {
		t.Fatalf("len(bcast.events) = %d, want 1", len(bcast.events))
	}
	if bcast.events[0].ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", bcast.events[0].ExecutionID)
	}
}
