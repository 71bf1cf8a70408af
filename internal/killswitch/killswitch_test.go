package killswitch

import (
	"os"
	"testing"

	"github.com/controlplane/aicp/internal/cperrors"
)

func TestKillSwitch_GlobalActivate(t *testing.T) {
	ks := New(nil)

	blocked, _ := ks.Blocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked initially")
	}

	if err := ks.Activate(ScopeGlobal, "runaway agent", "", "api", "api"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	blocked, msg := ks.Blocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked after global activation")
	}
	if msg != "runaway agent" {
		t.Errorf("message = %q, want %q", msg, "runaway agent")
	}

	blocked, _ = ks.Blocked("agent-99")
	if !blocked {
		t.Fatal("expected all agents blocked after global activation")
	}
}

func TestKillSwitch_GlobalDeactivate(t *testing.T) {
	ks := New(nil)
	ks.Activate(ScopeGlobal, "test", "", "cli", "cli")

	active, _ := ks.IsActive(ScopeGlobal, "")
	if !active {
		t.Fatal("expected active")
	}

	if err := ks.Deactivate(ScopeGlobal, ""); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, _ = ks.IsActive(ScopeGlobal, "")
	if active {
		t.Fatal("expected not active after deactivate")
	}
}

func TestKillSwitch_AgentActivate(t *testing.T) {
	ks := New(nil)

	if err := ks.Activate(ScopeAgent, "cost exceeded", "agent-1", "dashboard", "dashboard"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	active, _ := ks.IsActive(ScopeAgent, "agent-1")
	if !active {
		t.Fatal("expected agent-1 active")
	}

	active, _ = ks.IsActive(ScopeAgent, "agent-2")
	if active {
		t.Fatal("expected agent-2 not active")
	}
}

func TestKillSwitch_AgentDeactivate(t *testing.T) {
	ks := New(nil)
	ks.Activate(ScopeAgent, "test", "agent-1", "api", "api")

	if err := ks.Deactivate(ScopeAgent, "agent-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, _ := ks.IsActive(ScopeAgent, "agent-1")
	if active {
		t.Fatal("expected not active after agent deactivate")
	}
}

func TestKillSwitch_GlobalImpliesAllAgents(t *testing.T) {
	ks := New(nil)
	ks.Activate(ScopeAgent, "agent reason", "agent-1", "api", "api")
	ks.Activate(ScopeGlobal, "global reason", "", "api", "api")

	blocked, msg := ks.Blocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked")
	}
	if msg != "global reason" {
		t.Errorf("expected global message to take precedence, got %q", msg)
	}

	// A previously unaffected agent is now blocked too.
	active, _ := ks.IsActive(ScopeAgent, "agent-99")
	if !active {
		t.Fatal("expected agent-99 active via global scope")
	}
	blocked, _ = ks.Blocked("agent-99")
	if !blocked {
		t.Fatal("expected agent-99 blocked via global scope")
	}
}

func TestKillSwitch_InvalidScope(t *testing.T) {
	ks := New(nil)

	err := ks.Activate(Scope("session"), "x", "", "api", "api")
	if !cperrors.Is(err, cperrors.InvalidScope) {
		t.Fatalf("expected InvalidScope, got %v", err)
	}

	_, err = ks.IsActive(Scope("bogus"), "")
	if !cperrors.Is(err, cperrors.InvalidScope) {
		t.Fatalf("expected InvalidScope, got %v", err)
	}
}

func TestKillSwitch_MissingAgentId(t *testing.T) {
	ks := New(nil)

	err := ks.Activate(ScopeAgent, "x", "", "api", "api")
	if !cperrors.Is(err, cperrors.MissingAgentId) {
		t.Fatalf("expected MissingAgentId, got %v", err)
	}

	_, err = ks.IsActive(ScopeAgent, "")
	if !cperrors.Is(err, cperrors.MissingAgentId) {
		t.Fatalf("expected MissingAgentId, got %v", err)
	}
}

func TestKillSwitch_History(t *testing.T) {
	ks := New(nil)

	ks.Activate(ScopeGlobal, "reason1", "", "api", "api")
	ks.Activate(ScopeAgent, "reason2", "agent-1", "cli", "cli")

	history := ks.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Scope != ScopeGlobal {
		t.Errorf("history[0].Scope = %q, want %q", history[0].Scope, ScopeGlobal)
	}
	if history[1].Scope != ScopeAgent {
		t.Errorf("history[1].Scope = %q, want %q", history[1].Scope, ScopeAgent)
	}
}

func TestKillSwitch_Snapshot(t *testing.T) {
	ks := New(nil)

	snap := ks.Snapshot()
	if snap.GlobalActive {
		t.Error("expected global inactive")
	}
	if snap.HistoryCount != 0 {
		t.Error("expected history count 0")
	}

	ks.Activate(ScopeGlobal, "test", "", "api", "api")
	ks.Activate(ScopeAgent, "test", "agent-1", "api", "api")

	snap = ks.Snapshot()
	if !snap.GlobalActive {
		t.Error("expected global active")
	}
	if snap.HistoryCount != 2 {
		t.Errorf("history count = %d, want 2", snap.HistoryCount)
	}
	if _, ok := snap.Agents["agent-1"]; !ok {
		t.Error("expected agent-1 in snapshot")
	}
}

func TestKillSwitch_FileKill(t *testing.T) {
	tmpDir := t.TempDir()
	killFile := tmpDir + "/KILL"

	ks := New(nil)
	ks.SetFileWatchPath(killFile)

	ks.CheckFileKill()
	blocked, _ := ks.Blocked("agent-1")
	if blocked {
		t.Fatal("expected not blocked without KILL file")
	}

	if err := os.WriteFile(killFile, []byte("STOP"), 0644); err != nil {
		t.Fatal(err)
	}

	ks.CheckFileKill()
	blocked, _ = ks.Blocked("agent-1")
	if !blocked {
		t.Fatal("expected blocked after KILL file created")
	}

	historyBefore := len(ks.History())
	ks.CheckFileKill()
	historyAfter := len(ks.History())
	if historyAfter != historyBefore {
		t.Errorf("duplicate history entry created: before=%d, after=%d", historyBefore, historyAfter)
	}
}

