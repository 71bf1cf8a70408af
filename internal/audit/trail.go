package audit

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/cperrors"
	"github.com/controlplane/aicp/internal/metrics"
)

// PersistentStore durably persists entries so a Trail survives a
// process restart. SQLiteStore is the shipped implementation; Save
// failures are logged and otherwise ignored — the in-memory chain
// remains the authoritative record for the life of the process.
type PersistentStore interface {
	Save(Entry) error
	LoadAll() ([]Entry, error)
}

// Trail is the hash-chained, HMAC-signed audit log. Appends are
// serialized by an exclusive lock — the append-and-hash operation is
// the single serialization point for the whole component; readers may
// scan a snapshot concurrently without blocking writers.
type Trail struct {
	mu     sync.Mutex
	clock  *clockid.Source
	secret []byte
	logger *slog.Logger
	store  PersistentStore

	entries  []Entry
	lastHash string
}

// New creates a Trail. secret signs every entry's hash via HMAC-SHA256
// and must be non-empty — per spec, a component with no configured
// signing secret refuses to start rather than logging unsigned entries.
func New(secret []byte, clock *clockid.Source, logger *slog.Logger) (*Trail, error) {
	if len(secret) == 0 {
		return nil, cperrors.New(cperrors.FailClosed, "audit trail signing secret is not configured", nil)
	}
	if clock == nil {
		clock = clockid.New(clockid.SystemClock{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		clock:  clock,
		secret: append([]byte(nil), secret...),
		logger: logger.With("component", "audit.Trail"),
	}, nil
}

// WithStore rehydrates the chain from store (if it already holds
// entries) and attaches it so subsequent Append calls persist. Call
// once, immediately after New, before any Append.
func (t *Trail) WithStore(store PersistentStore) (*Trail, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load persisted audit entries: %w", err)
	}
	t.entries = existing
	if len(existing) > 0 {
		t.lastHash = existing[len(existing)-1].Hash
	}
	t.store = store
	return t, nil
}

// Append freezes a new Entry on top of the chain and returns a copy of
// it. event_type is required; request_id/agent_id/actor_id may be
// empty. Append never fails under correct usage.
func (t *Trail) Append(eventType, action, status string, data map[string]any, requestID, agentID, actorID string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		Sequence:     int64(len(t.entries)) + 1,
		EventID:      t.clock.NewID("evt"),
		EventType:    eventType,
		Timestamp:    t.clock.Now(),
		RequestID:    requestID,
		AgentID:      agentID,
		ActorID:      actorID,
		Action:       action,
		Status:       status,
		Data:         data,
		PreviousHash: t.lastHash,
	}

	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("compute audit entry hash: %w", err)
	}
	e.Hash = hash
	e.Signature = computeSignature(t.secret, hash)

	t.entries = append(t.entries, e)
	t.lastHash = hash

	if t.store != nil {
		if err := t.store.Save(e); err != nil {
			t.logger.Error("failed to persist audit entry, continuing with in-memory chain", "sequence", e.Sequence, "error", err)
		}
	}

	metrics.AuditAppends.WithLabelValues(eventType).Inc()
	t.logger.Debug("audit entry appended", "sequence", e.Sequence, "event_type", eventType, "request_id", requestID)
	return e, nil
}

// snapshot returns a defensive copy of the current entry slice for
// lock-free reading.
func (t *Trail) snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// VerifyIntegrity walks the whole chain and recomputes every entry's
// hash, chain linkage, sequence number and signature. The report lists
// every broken invariant found; it is valid only when empty.
func (t *Trail) VerifyIntegrity() IntegrityReport {
	entries := t.snapshot()
	if len(entries) == 0 {
		return IntegrityReport{Valid: true, Message: "No entries to verify"}
	}

	var issues []Issue
	expectedPrev := ""
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			issues = append(issues, Issue{EntrySequence: e.Sequence, Kind: IssueSequenceMismatch,
				Expected: fmt.Sprintf("%d", i+1), Actual: fmt.Sprintf("%d", e.Sequence)})
		}
		if e.PreviousHash != expectedPrev {
			issues = append(issues, Issue{EntrySequence: e.Sequence, Kind: IssueChainBroken,
				Expected: expectedPrev, Actual: e.PreviousHash})
		}
		computed, err := computeHash(e)
		if err != nil || computed != e.Hash {
			issues = append(issues, Issue{EntrySequence: e.Sequence, Kind: IssueHashMismatch,
				Expected: computed, Actual: e.Hash})
		}
		if !verifySignature(t.secret, e.Hash, e.Signature) {
			issues = append(issues, Issue{EntrySequence: e.Sequence, Kind: IssueInvalidSignature})
		}
		expectedPrev = e.Hash
	}

	msg := "All entries valid"
	if len(issues) > 0 {
		msg = fmt.Sprintf("Found %d issues", len(issues))
	}
	return IntegrityReport{Valid: len(issues) == 0, TotalEntries: len(entries), Issues: issues, Message: msg}
}

// VerifyEntry checks a single entry's hash and signature in isolation
// (no chain-linkage or sequence check, since the caller may be handed
// an entry outside its chain context).
func (t *Trail) VerifyEntry(e Entry) bool {
	computed, err := computeHash(e)
	if err != nil || computed != e.Hash {
		return false
	}
	return verifySignature(t.secret, e.Hash, e.Signature)
}

// ChainOfCustody returns the ordered subsequence of entries bound to
// requestID.
func (t *Trail) ChainOfCustody(requestID string) []Entry {
	entries := t.snapshot()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// Query returns up to limit entries matching f, newest first. limit<=0
// means unbounded.
func (t *Trail) Query(f Filters, limit int) []Entry {
	entries := t.snapshot()
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if f.matches(entries[i]) {
			out = append(out, entries[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Export builds a compliance bundle: the filtered entries (oldest
// first) plus the integrity report for the whole chain, not just the
// filtered slice — a partial export must not hide a tamper signal
// elsewhere in the chain.
func (t *Trail) Export(f Filters) ExportBundle {
	entries := t.snapshot()
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.matches(e) {
			filtered = append(filtered, e)
		}
	}

	report := t.VerifyIntegrity()
	return ExportBundle{
		Metadata: ExportMetadata{
			GeneratedAt:       t.clock.Now(),
			TotalEntries:      len(filtered),
			IntegrityVerified: report.Valid,
			Filters:           f,
		},
		IntegrityReport: report,
		Entries:         filtered,
	}
}

// Len returns the number of entries currently in the chain.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
