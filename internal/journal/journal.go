// Package journal persists finished workflow runs to SQLite.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/josephgoksu/FlowWing/models"
)

// DefaultFile is the journal database file name relative to .flowwing.
const DefaultFile = "journal.db"

// Run is one recorded workflow instance outcome.
type Run struct {
	ID             string                    `json:"id"`
	WorkflowID     string                    `json:"workflowId"`
	State          models.InstanceState      `json:"state"`
	Error          string                    `json:"error,omitempty"`
	Variables      map[string]any            `json:"variables,omitempty"`
	CompletedNodes []string                  `json:"completedNodes,omitempty"`
	NodeResults    map[string]map[string]any `json:"nodeResults,omitempty"`
	StartTime      time.Time                 `json:"startTime,omitzero"`
	EndTime        time.Time                 `json:"endTime,omitzero"`
	RecordedAt     time.Time                 `json:"recordedAt"`
}

// RunSummary is the lightweight listing form of a run.
type RunSummary struct {
	ID         string               `json:"id"`
	WorkflowID string               `json:"workflowId"`
	State      models.InstanceState `json:"state"`
	Error      string               `json:"error,omitempty"`
	StartTime  time.Time            `json:"startTime,omitzero"`
	EndTime    time.Time            `json:"endTime,omitzero"`
	RecordedAt time.Time            `json:"recordedAt"`
}

// Store is a SQLite-backed run journal.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the journal database at path. Pass ":memory:"
// for an ephemeral journal.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		variables TEXT,                     -- JSON snapshot at completion
		completed_nodes TEXT,               -- JSON array in completion order
		started_at TEXT NOT NULL DEFAULT '',
		ended_at TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS node_results (
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		result TEXT,                        -- JSON object
		PRIMARY KEY (run_id, node_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_runs_recorded ON runs(recorded_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record stores an instance snapshot. Recording the same instance again
// replaces the earlier row, so re-recording after a state change is safe.
func (s *Store) Record(inst models.WorkflowInstance) error {
	varsJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	nodesJSON, err := json.Marshal(inst.CompletedNodes)
	if err != nil {
		return fmt.Errorf("marshal completed nodes: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs (id, workflow_id, state, error, variables, completed_nodes, started_at, ended_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.WorkflowID, string(inst.State), inst.Error, string(varsJSON), string(nodesJSON),
		formatTime(inst.StartTime), formatTime(inst.EndTime), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM node_results WHERE run_id = ?", inst.ID); err != nil {
		return fmt.Errorf("clear node results: %w", err)
	}
	for nodeID, result := range inst.NodeResults {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result for node %s: %w", nodeID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO node_results (run_id, node_id, result) VALUES (?, ?, ?)
		`, inst.ID, nodeID, string(resultJSON))
		if err != nil {
			return fmt.Errorf("insert node result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a full run by instance id.
func (s *Store) Get(id string) (*Run, error) {
	var r Run
	var state, varsJSON, nodesJSON string
	var startedAt, endedAt, recordedAt string

	err := s.db.QueryRow(`
		SELECT id, workflow_id, state, error, variables, completed_nodes, started_at, ended_at, recorded_at
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.WorkflowID, &state, &r.Error, &varsJSON, &nodesJSON,
		&startedAt, &endedAt, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	r.State = models.InstanceState(state)
	r.StartTime = parseTime(startedAt)
	r.EndTime = parseTime(endedAt)
	r.RecordedAt = parseTime(recordedAt)
	if err := json.Unmarshal([]byte(varsJSON), &r.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	if err := json.Unmarshal([]byte(nodesJSON), &r.CompletedNodes); err != nil {
		return nil, fmt.Errorf("unmarshal completed nodes: %w", err)
	}

	rows, err := s.db.Query("SELECT node_id, result FROM node_results WHERE run_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	r.NodeResults = make(map[string]map[string]any)
	for rows.Next() {
		var nodeID, resultJSON string
		if err := rows.Scan(&nodeID, &resultJSON); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		var result map[string]any
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, fmt.Errorf("unmarshal result for node %s: %w", nodeID, err)
		}
		r.NodeResults[nodeID] = result
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node results: %w", err)
	}

	return &r, nil
}

// List returns recent runs, newest first. An empty workflowID lists runs of
// every workflow. A non-positive limit falls back to 50.
func (s *Store) List(workflowID string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workflow_id, state, error, started_at, ended_at, recorded_at
		FROM runs
	`
	args := []any{}
	if workflowID != "" {
		query += " WHERE workflow_id = ?"
		args = append(args, workflowID)
	}
	query += " ORDER BY recorded_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var state, startedAt, endedAt, recordedAt string
		if err := rows.Scan(&r.ID, &r.WorkflowID, &state, &r.Error, &startedAt, &endedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = models.InstanceState(state)
		r.StartTime = parseTime(startedAt)
		r.EndTime = parseTime(endedAt)
		r.RecordedAt = parseTime(recordedAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
