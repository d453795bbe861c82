package store

import (
	"database/sql"
	"encoding/json"

	_ "github.com/glebarez/go-sqlite"
)

// RunStore persists run summaries and their ordered step records.
type RunStore struct {
	DB *sql.DB
}

func NewRunStore(dbPath string) (*RunStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT,
			status TEXT,
			result TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			idx INTEGER,
			role TEXT,
			payload TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			return nil, err
		}
	}

	return &RunStore{DB: db}, nil
}

// SaveRun upserts a run summary keyed by run id.
func (s *RunStore) SaveRun(run RunRecord) error {
	query := `INSERT INTO runs (id, task, status, result) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, result = excluded.result`
	_, err := s.DB.Exec(query, run.ID, run.Task, run.Status, run.Result)
	return err
}

// SaveSteps appends the run's step records in order. Each record is
// stored as its serialized JSON form so the load path reproduces an
// identical ordered sequence.
func (s *RunStore) SaveSteps(runID string, steps []StepRecord) error {
	query := `INSERT INTO steps (run_id, idx, role, payload) VALUES (?, ?, ?, ?)`
	for _, step := range steps {
		payload, err := json.Marshal(step)
		if err != nil {
			return err
		}
		if _, err := s.DB.Exec(query, runID, step.Index, string(step.Role), string(payload)); err != nil {
			return err
		}
	}
	return nil
}

// LoadSteps returns a run's step records in their original order.
func (s *RunStore) LoadSteps(runID string) ([]StepRecord, error) {
	query := `SELECT payload FROM steps WHERE run_id = ? ORDER BY idx ASC`
	rows, err := s.DB.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var step StepRecord
		if err := json.Unmarshal([]byte(payload), &step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// LoadRun fetches a run summary by id.
func (s *RunStore) LoadRun(runID string) (*RunRecord, error) {
	query := `SELECT id, task, status, result FROM runs WHERE id = ?`
	var run RunRecord
	err := s.DB.QueryRow(query, runID).Scan(&run.ID, &run.Task, &run.Status, &run.Result)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) Close() error {
	return s.DB.Close()
}
