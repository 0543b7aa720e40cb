// Package logstore appends execution audit records to the logger database.
// Records are write-once: one task row plus one result row per attempted
// unit, including attempts that failed before any remote invocation. The
// core never reads them back.
package logstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/DIPx2/WASSERFALL/internal/classify"
)

// Record is one audit entry: the attempted action and its outcome.
type Record struct {
	Host     string
	Text     string // rendered command/SQL, or an error marker for pre-execution failures
	Unit     string // database name; empty for shell units and host-level failures
	Code     classify.Code
	ExitCode int
	Stdout   string
	Stderr   string
}

// Store appends execution records. Writes are serialized by the underlying
// driver; callers may append concurrently.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the logger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open logger db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_tasks (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			target_host   TEXT NOT NULL,
			query_text    TEXT NOT NULL,
			database_name TEXT,
			created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS execution_results (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id     INTEGER NOT NULL REFERENCES execution_tasks(id),
			code        TEXT NOT NULL,
			exit_code   INTEGER,
			stdout_json TEXT,
			stderr_text TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure logger schema: %w", err)
		}
	}
	return nil
}

// payload is the JSON envelope stored in stdout_json.
type payload struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Append writes one record. The task and result rows are committed together;
// a failed append is reported but never mutates previously written records.
func (s *Store) Append(rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	defer tx.Rollback()

	var unit any
	if rec.Unit != "" {
		unit = rec.Unit
	}

	res, err := tx.Exec(
		`INSERT INTO execution_tasks (target_host, query_text, database_name) VALUES (?, ?, ?)`,
		rec.Host, rec.Text, unit)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}

	body, err := json.Marshal(payload{
		Stdout:   rec.Stdout,
		Stderr:   rec.Stderr,
		ExitCode: rec.ExitCode,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO execution_results (task_id, code, exit_code, stdout_json, stderr_text) VALUES (?, ?, ?, ?, ?)`,
		taskID, string(rec.Code), rec.ExitCode, string(body), rec.Stderr,
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	return tx.Commit()
}
