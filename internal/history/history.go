// Package history keeps a local SQLite record of past runs, so resolution
// rates can be compared across models and dataset versions without trawling
// report directories.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sfbench/sfbench/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	model_name      TEXT NOT NULL,
	dataset         TEXT NOT NULL,
	evaluation_hash TEXT,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	total           INTEGER NOT NULL,
	resolved        INTEGER NOT NULL,
	errors          INTEGER NOT NULL,
	resolution_pct  REAL NOT NULL,
	mean_score      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS run_instances (
	run_id           TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	instance_id      TEXT NOT NULL,
	status           TEXT NOT NULL,
	resolved         INTEGER NOT NULL,
	functional_score INTEGER NOT NULL,
	duration_seconds REAL NOT NULL,
	PRIMARY KEY (run_id, instance_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model_name);
`

// Store is the run-history database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a finished report, replacing any previous record with
// the same run id.
func (s *Store) RecordRun(rep *report.EvaluationReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, model_name, dataset, evaluation_hash, started_at, finished_at,
		 total, resolved, errors, resolution_pct, mean_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.ModelName, rep.Dataset, rep.EvaluationHash,
		rep.StartTime, rep.EndTime,
		rep.Summary.Total, rep.Summary.Resolved, rep.Summary.Errors,
		rep.Summary.ResolutionPct, rep.Summary.FunctionalScore.Mean)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM run_instances WHERE run_id = ?`, rep.RunID); err != nil {
		return fmt.Errorf("clearing run instances: %w", err)
	}
	for _, inst := range rep.Instances {
		resolved := 0
		if inst.Resolved {
			resolved = 1
		}
		_, err := tx.Exec(`
			INSERT INTO run_instances
			(run_id, instance_id, status, resolved, functional_score, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rep.RunID, inst.InstanceID, string(inst.Status), resolved,
			inst.FunctionalScore, inst.DurationSeconds)
		if err != nil {
			return fmt.Errorf("inserting instance %s: %w", inst.InstanceID, err)
		}
	}

	return tx.Commit()
}

// RunSummary is one row of the listing.
type RunSummary struct {
	RunID         string
	ModelName     string
	Dataset       string
	FinishedAt    string
	Total         int
	Resolved      int
	ResolutionPct float64
	MeanScore     float64
}

// ListRuns returns recent runs, newest first, optionally filtered by model.
func (s *Store) ListRuns(model string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT run_id, model_name, dataset, finished_at, total, resolved, resolution_pct, mean_score
		FROM runs`
	args := []interface{}{}
	if model != "" {
		query += ` WHERE model_name = ?`
		args = append(args, model)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.ModelName, &r.Dataset, &r.FinishedAt,
			&r.Total, &r.Resolved, &r.ResolutionPct, &r.MeanScore); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InstanceHistory returns one instance's outcomes across runs, newest
// first.
func (s *Store) InstanceHistory(instanceID string, limit int) ([]InstanceOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT i.run_id, r.model_name, i.status, i.resolved, i.functional_score
		FROM run_instances i JOIN runs r ON r.run_id = i.run_id
		WHERE i.instance_id = ?
		ORDER BY r.finished_at DESC LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying instance history: %w", err)
	}
	defer rows.Close()

	var out []InstanceOutcome
	for rows.Next() {
		var o InstanceOutcome
		var resolved int
		if err := rows.Scan(&o.RunID, &o.ModelName, &o.Status, &resolved, &o.FunctionalScore); err != nil {
			return nil, fmt.Errorf("scanning instance outcome: %w", err)
		}
		o.Resolved = resolved == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// InstanceOutcome is one instance's result in one run.
type InstanceOutcome struct {
	RunID           string
	ModelName       string
	Status          string
	Resolved        bool
	FunctionalScore int
}
