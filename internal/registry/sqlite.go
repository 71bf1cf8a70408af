package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// PersistentStore durably persists Agent records so a Registry survives
// a process restart. SQLiteStore is the shipped implementation,
// adapted from the Audit Trail's own store of the same shape
// (internal/audit/sqlite.go) — Save is an upsert here since an Agent,
// unlike an audit.Entry, is mutable.
type PersistentStore interface {
	Save(Agent) error
	Delete(id string) error
	LoadAll() ([]Agent, error)
}

// SQLiteStore is a durable backing store for a Registry.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry store: %w", err)
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
	CREATE TABLE IF NOT EXISTS agents (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		model        TEXT,
		environment  TEXT NOT NULL,
		status       TEXT NOT NULL,
		risk_level   TEXT NOT NULL,
		policy_ids   TEXT,
		rate_cap     TEXT,
		cost_cap     REAL,
		metadata     TEXT,
		created_at   DATETIME NOT NULL,
		created_by   TEXT,
		updated_at   DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create registry schema: %w", err)
	}
	return nil
}

// Save upserts a, so it can be called after both Register and any
// later mutation (Update, Deactivate, Activate).
func (s *SQLiteStore) Save(a Agent) error {
	policyIDs, err := json.Marshal(a.PolicyIDs)
	if err != nil {
		return fmt.Errorf("marshal policy ids: %w", err)
	}
	var rateCap []byte
	if a.RateCap != nil {
		if rateCap, err = json.Marshal(a.RateCap); err != nil {
			return fmt.Errorf("marshal rate cap: %w", err)
		}
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO agents (id, name, model, environment, status, risk_level, policy_ids, rate_cap, cost_cap, metadata, created_at, created_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, model=excluded.model, environment=excluded.environment,
		   status=excluded.status, risk_level=excluded.risk_level, policy_ids=excluded.policy_ids,
		   rate_cap=excluded.rate_cap, cost_cap=excluded.cost_cap, metadata=excluded.metadata,
		   updated_at=excluded.updated_at`,
		a.ID, a.Name, a.Model, string(a.Environment), string(a.Status), string(a.RiskLevel),
		string(policyIDs), string(rateCap), a.CostCap, string(metadata), a.CreatedAt, a.CreatedBy, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.ID, err)
	}
	return nil
}

// Delete removes a persisted agent by id. Not finding it is not an error.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted agent, for rehydrating a Registry
// after a restart.
func (s *SQLiteStore) LoadAll() ([]Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, name, model, environment, status, risk_level, policy_ids, rate_cap, cost_cap, metadata, created_at, created_by, updated_at FROM agents`,
	)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var policyIDs, rateCap, metadata string
		var costCap sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.Name, &a.Model, &a.Environment, &a.Status, &a.RiskLevel,
			&policyIDs, &rateCap, &costCap, &metadata, &a.CreatedAt, &a.CreatedBy, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if policyIDs != "" {
			if err := json.Unmarshal([]byte(policyIDs), &a.PolicyIDs); err != nil {
				return nil, fmt.Errorf("unmarshal policy ids for %s: %w", a.ID, err)
			}
		}
		if rateCap != "" {
			var rc RateCap
			if err := json.Unmarshal([]byte(rateCap), &rc); err != nil {
				return nil, fmt.Errorf("unmarshal rate cap for %s: %w", a.ID, err)
			}
			a.RateCap = &rc
		}
		if costCap.Valid {
			v := costCap.Float64
			a.CostCap = &v
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close cleanly shuts down the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
