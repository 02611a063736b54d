package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	// A single connection keeps :memory: databases shared and writers
	// serialized.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			model_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			exit_status TEXT NOT NULL DEFAULT '',
			submission TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL DEFAULT 0,
			api_calls INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			completed_at TEXT,
			trajectory_path TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS trajectories (
			run_id TEXT PRIMARY KEY,
			saved_at TEXT NOT NULL,
			data BLOB NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);
	`)
	return err
}

const runColumns = `id, task, model_name, state, exit_status, submission, cost, api_calls, started_at, completed_at, trajectory_path`

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Task, run.ModelName, string(run.State), run.ExitStatus, run.Submission,
		run.Cost, run.APICalls, formatTime(run.StartedAt), formatTime(run.CompletedAt), run.TrajectoryPath,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var startedAt, completedAt string
	err := row.Scan(&run.ID, &run.Task, &run.ModelName, &run.State, &run.ExitStatus, &run.Submission,
		&run.Cost, &run.APICalls, &startedAt, &completedAt, &run.TrajectoryPath)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return run, err
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET model_name = ?, state = ?, exit_status = ?, submission = ?, cost = ?, api_calls = ?,
		 started_at = ?, completed_at = ?, trajectory_path = ? WHERE id = ?`,
		run.ModelName, string(run.State), run.ExitStatus, run.Submission, run.Cost, run.APICalls,
		formatTime(run.StartedAt), formatTime(run.CompletedAt), run.TrajectoryPath,
		run.ID,
	)
	return err
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trajectories WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

func (s *Store) ListRuns(ctx context.Context) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveTrajectory stores the latest trajectory document of a run,
// replacing any earlier snapshot.
func (s *Store) SaveTrajectory(ctx context.Context, runID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trajectories (run_id, saved_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET saved_at = excluded.saved_at, data = excluded.data`,
		runID, formatTime(time.Now()), data,
	)
	return err
}

func (s *Store) GetTrajectory(ctx context.Context, runID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM trajectories WHERE run_id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trajectory of run %q: %w", runID, ErrNotFound)
	}
	return data, err
}

// FailStaleRuns marks runs left pending or running by a crashed process as
// failed.
func (s *Store) FailStaleRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = 'failed', completed_at = ? WHERE state IN ('pending', 'running')`,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
