package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable append-only backing store for a Trail. The
// in-memory chain in Trail remains the source of truth for a running
// process; SQLiteStore exists so the chain survives a restart, per
// spec.md §9's note that the Audit Trail is the first component that
// should get a pluggable persistent back end.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		sequence      INTEGER PRIMARY KEY,
		event_id      TEXT NOT NULL UNIQUE,
		event_type    TEXT NOT NULL,
		timestamp     DATETIME NOT NULL,
		request_id    TEXT,
		agent_id      TEXT,
		actor_id      TEXT,
		action        TEXT,
		status        TEXT,
		data          TEXT,
		previous_hash TEXT NOT NULL,
		hash          TEXT NOT NULL,
		signature     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_entries(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_entries(event_type);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Save appends e to durable storage. Sequence is the primary key, so a
// replayed Save of an already-persisted sequence is a no-op error the
// caller can safely ignore via Append's own in-memory sequencing.
func (s *SQLiteStore) Save(e Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal audit entry data: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_entries
			(sequence, event_id, event_type, timestamp, request_id, agent_id, actor_id, action, status, data, previous_hash, hash, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, e.EventID, e.EventType, e.Timestamp, e.RequestID, e.AgentID, e.ActorID, e.Action, e.Status, string(data), e.PreviousHash, e.Hash, e.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %d: %w", e.Sequence, err)
	}
	return nil
}

// LoadAll returns every persisted entry in sequence order, for
// rehydrating a Trail after a restart.
func (s *SQLiteStore) LoadAll() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT sequence, event_id, event_type, timestamp, request_id, agent_id, actor_id, action, status, data, previous_hash, hash, signature
		 FROM audit_entries ORDER BY sequence ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var data string
		if err := rows.Scan(&e.Sequence, &e.EventID, &e.EventType, &e.Timestamp, &e.RequestID, &e.AgentID, &e.ActorID, &e.Action, &e.Status, &data, &e.PreviousHash, &e.Hash, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal audit entry %d data: %w", e.Sequence, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close cleanly shuts down the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
