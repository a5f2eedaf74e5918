// Package runstore keeps the history of apportionment runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/sqlitedb"
)

// ErrNotFound is returned when no run matches
var ErrNotFound = errors.New("run not found")

// Store persists runs. The full run is kept as JSON next to the indexed columns.
type Store struct {
	db *sql.DB
}

// Open opens or creates the run database at path
func Open(path string) (*Store, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		rows_written INTEGER NOT NULL DEFAULT 0,
		unmatched_units INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_name_started ON runs(name, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a run as it begins
func (s *Store) StartRun(ctx context.Context, run *models.Run) error {
	return s.save(ctx, run)
}

// FinishRun records the final state of a run
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	return s.save(ctx, run)
}

func (s *Store) save(ctx context.Context, run *models.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO runs (id, name, status, started_at, finished_at, rows_written, unmatched_units, error, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = sqlitedb.RetryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID,
			run.Name,
			string(run.Status),
			run.StartedAt,
			run.FinishedAt,
			run.Summary.RowsWritten,
			run.Summary.UnmatchedUnits,
			run.Error,
			string(data),
		)
		return err
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return decode(data)
}

// ListRuns returns the most recent runs first, at most limit (0 for all)
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	query := `SELECT data FROM runs ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

// LastRun returns the most recent run with the given name
func (s *Store) LastRun(ctx context.Context, name string) (*models.Run, error) {
	runs, err := s.list(ctx, `SELECT data FROM runs WHERE name = ? ORDER BY started_at DESC LIMIT 1`, name)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no runs named %s", ErrNotFound, name)
	}
	return runs[0], nil
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.Run, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := decode(data)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func decode(data string) (*models.Run, error) {
	var run models.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}
