package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IshaanNene/specwatch/internal/types"
)

// FileCheckpointStore keeps the campaign checkpoint in a JSON file.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore stores the checkpoint at path.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

// Load returns the zero checkpoint when none has been written yet.
func (s *FileCheckpointStore) Load(ctx context.Context) (types.Checkpoint, error) {
	var cp types.Checkpoint
	if _, err := ReadJSON(s.path, &cp); err != nil {
		return types.Checkpoint{}, &types.StorageError{Backend: "checkpoint", Err: err}
	}
	return cp, nil
}

func (s *FileCheckpointStore) Save(ctx context.Context, cp types.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if err := WriteJSON(s.path, cp); err != nil {
		return &types.StorageError{Backend: "checkpoint", Err: err}
	}
	return nil
}

// Clean removes the checkpoint file.
func (s *FileCheckpointStore) Clean() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileCheckpointStore) Close() error { return nil }

// SQLiteCheckpointStore keeps the checkpoint as a single row and records
// every campaign attempt in a runs table.
type SQLiteCheckpointStore struct {
	conn *sql.DB
}

// NewSQLiteCheckpointStore opens (or creates) the database at path.
func NewSQLiteCheckpointStore(path string) (*SQLiteCheckpointStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create dir: %w", err)}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("open database: %w", err)}
	}
	conn.SetMaxOpenConns(1)

	s := &SQLiteCheckpointStore{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("init schema: %w", err)}
	}
	return s, nil
}

func (s *SQLiteCheckpointStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		model_index INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT NOT NULL,
		model TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		vehicles INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		exit_reason TEXT,
		error TEXT,
		PRIMARY KEY (run_id, attempt)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteCheckpointStore) Load(ctx context.Context) (types.Checkpoint, error) {
	query := `SELECT model_index, retry_count, updated_at FROM checkpoint WHERE id = 1`
	var cp types.Checkpoint
	err := s.conn.QueryRowContext(ctx, query).Scan(&cp.ModelIndex, &cp.RetryCount, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return types.Checkpoint{}, nil
	}
	if err != nil {
		return types.Checkpoint{}, &types.StorageError{Backend: "sqlite", Err: err}
	}
	return cp, nil
}

func (s *SQLiteCheckpointStore) Save(ctx context.Context, cp types.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO checkpoint (id, model_index, retry_count, updated_at) VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		model_index = excluded.model_index,
		retry_count = excluded.retry_count,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, cp.ModelIndex, cp.RetryCount, cp.UpdatedAt); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	return nil
}

// RecordRun stores one campaign attempt.
func (s *SQLiteCheckpointStore) RecordRun(ctx context.Context, r types.RunRecord) error {
	query := `
	INSERT INTO runs (run_id, model, attempt, started_at, finished_at, status, vehicles, pages, exit_reason, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, attempt) DO UPDATE SET
		finished_at = excluded.finished_at,
		status = excluded.status,
		vehicles = excluded.vehicles,
		pages = excluded.pages,
		exit_reason = excluded.exit_reason,
		error = excluded.error
	`
	_, err := s.conn.ExecContext(ctx, query,
		r.RunID, r.Model, r.Attempt, r.StartedAt, r.FinishedAt, r.Status,
		r.Vehicles, r.Pages, r.ExitReason, r.Error)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	return nil
}

// RecentRuns returns up to limit attempts, newest first.
func (s *SQLiteCheckpointStore) RecentRuns(ctx context.Context, limit int) ([]types.RunRecord, error) {
	query := `
	SELECT run_id, model, attempt, started_at, finished_at, status, vehicles, pages,
		COALESCE(exit_reason, ''), COALESCE(error, '')
	FROM runs
	ORDER BY started_at DESC
	LIMIT ?
	`
	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: err}
	}
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		var r types.RunRecord
		if err := rows.Scan(&r.RunID, &r.Model, &r.Attempt, &r.StartedAt, &r.FinishedAt,
			&r.Status, &r.Vehicles, &r.Pages, &r.ExitReason, &r.Error); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: err}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteCheckpointStore) Close() error {
	return s.conn.Close()
}
