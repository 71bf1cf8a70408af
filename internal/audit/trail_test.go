package audit

import (
	"testing"
	"time"

	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/cperrors"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	clock := clockid.NewSequencedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	tr, err := New([]byte("test-secret"), clockid.New(clock), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return tr
}

func TestNew_EmptySecretRefuses(t *testing.T) {
	_, err := New(nil, nil, nil)
	if !cperrors.Is(err, cperrors.FailClosed) {
		t.Fatalf("New(nil secret) error = %v, want FailClosed", err)
	}
}

func TestAppend_SequenceAndChain(t *testing.T) {
	tr := newTestTrail(t)

	e1, err := tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	if err != nil {
		t.Fatal(err)
	}
	if e1.Sequence != 1 {
		t.Errorf("e1.Sequence = %d, want 1", e1.Sequence)
	}
	if e1.PreviousHash != "" {
		t.Errorf("e1.PreviousHash = %q, want empty", e1.PreviousHash)
	}
	if e1.Hash == "" || e1.Signature == "" {
		t.Error("e1 hash/signature not populated")
	}

	e2, err := tr.Append("policy.evaluated", "evaluate", "allow", map[string]any{"policy_id": "p1"}, "req-1", "agent-1", "actor-1")
	if err != nil {
		t.Fatal(err)
	}
	if e2.Sequence != 2 {
		t.Errorf("e2.Sequence = %d, want 2", e2.Sequence)
	}
	if e2.PreviousHash != e1.Hash {
		t.Errorf("e2.PreviousHash = %q, want %q", e2.PreviousHash, e1.Hash)
	}
}

func TestVerifyIntegrity_EmptyChainValid(t *testing.T) {
	tr := newTestTrail(t)
	report := tr.VerifyIntegrity()
	if !report.Valid {
		t.Errorf("empty chain should be valid, got %+v", report)
	}
}

func TestVerifyIntegrity_ValidChain(t *testing.T) {
	tr := newTestTrail(t)
	for i := 0; i < 5; i++ {
		if _, err := tr.Append("request.executed", "invoke", "ok", nil, "req-1", "agent-1", "actor-1"); err != nil {
			t.Fatal(err)
		}
	}
	report := tr.VerifyIntegrity()
	if !report.Valid || len(report.Issues) != 0 {
		t.Errorf("expected valid chain, got %+v", report)
	}
	if report.TotalEntries != 5 {
		t.Errorf("TotalEntries = %d, want 5", report.TotalEntries)
	}
}

func TestVerifyIntegrity_DetectsTamperedData(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	tr.Append("request.completed", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")

	// Directly mutate the backing slice to simulate tampering.
	tr.entries[0].Data = map[string]any{"injected": true}

	report := tr.VerifyIntegrity()
	if report.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	foundHashMismatch := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueHashMismatch {
			foundHashMismatch = true
		}
	}
	if !foundHashMismatch {
		t.Errorf("expected hash_mismatch issue, got %+v", report.Issues)
	}
}

func TestVerifyIntegrity_DetectsBrokenChainLink(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	tr.Append("request.completed", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")

	tr.entries[1].PreviousHash = "forged-hash"

	report := tr.VerifyIntegrity()
	if report.Valid {
		t.Fatal("expected broken chain to be invalid")
	}
}

func TestVerifyIntegrity_DetectsInvalidSignature(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")

	tr.entries[0].Signature = "0000000000000000000000000000000000000000000000000000000000000000"

	report := tr.VerifyIntegrity()
	if report.Valid {
		t.Fatal("expected invalid signature to be detected")
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueInvalidSignature {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invalid_signature issue, got %+v", report.Issues)
	}
}

func TestVerifyEntry(t *testing.T) {
	tr := newTestTrail(t)
	e, _ := tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	if !tr.VerifyEntry(e) {
		t.Error("VerifyEntry(valid entry) = false, want true")
	}
	e.Data = map[string]any{"tampered": true}
	if tr.VerifyEntry(e) {
		t.Error("VerifyEntry(tampered entry) = true, want false")
	}
}

func TestChainOfCustody(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	tr.Append("request.submitted", "invoke", "ok", nil, "req-2", "agent-1", "actor-1")
	tr.Append("request.completed", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")

	custody := tr.ChainOfCustody("req-1")
	if len(custody) != 2 {
		t.Fatalf("ChainOfCustody(req-1) len = %d, want 2", len(custody))
	}
	if custody[0].Sequence != 1 || custody[1].Sequence != 3 {
		t.Errorf("unexpected order: %+v", custody)
	}
}

func TestQuery_FiltersAndLimit(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	tr.Append("policy.evaluated", "evaluate", "deny", nil, "req-1", "agent-1", "actor-1")
	tr.Append("request.submitted", "invoke", "ok", nil, "req-2", "agent-2", "actor-2")

	results := tr.Query(Filters{EventTypes: []string{"request.submitted"}}, 0)
	if len(results) != 2 {
		t.Fatalf("Query() len = %d, want 2", len(results))
	}
	// newest first
	if results[0].RequestID != "req-2" {
		t.Errorf("Query()[0].RequestID = %q, want req-2", results[0].RequestID)
	}

	limited := tr.Query(Filters{}, 1)
	if len(limited) != 1 {
		t.Fatalf("Query() with limit=1 returned %d entries", len(limited))
	}
}

func TestExport_IncludesIntegrityReport(t *testing.T) {
	tr := newTestTrail(t)
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	tr.Append("request.completed", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")

	bundle := tr.Export(Filters{RequestID: "req-1"})
	if !bundle.IntegrityReport.Valid {
		t.Error("expected valid integrity report")
	}
	if bundle.Metadata.TotalEntries != 2 {
		t.Errorf("Metadata.TotalEntries = %d, want 2", bundle.Metadata.TotalEntries)
	}
	if len(bundle.Entries) != 2 {
		t.Errorf("len(Entries) = %d, want 2", len(bundle.Entries))
	}
}

func TestLen(t *testing.T) {
	tr := newTestTrail(t)
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
	tr.Append("request.submitted", "invoke", "ok", nil, "req-1", "agent-1", "actor-1")
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}
