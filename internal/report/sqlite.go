package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/txstress/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		node_url TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		requested INTEGER DEFAULT 0,
		sent INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		completed INTEGER DEFAULT 0,
		pending INTEGER DEFAULT 0,
		avg_latency_ns INTEGER DEFAULT 0,
		latency_stats TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun inserts run and stores the assigned row id in run.ID.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunReport) error {
	var latency sql.NullString
	if run.Latency != nil {
		b, err := json.Marshal(run.Latency)
		if err != nil {
			return fmt.Errorf("failed to marshal latency stats: %w", err)
		}
		latency = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (mode, state, node_url, started_at, finished_at, requested, sent, failed,
			skipped, completed, pending, avg_latency_ns, latency_stats, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(run.Mode), string(run.State), run.NodeURL, run.StartedAt, nullTime(run.FinishedAt),
		run.Requested, run.Sent, run.Failed, run.Skipped, run.Completed, run.Pending,
		int64(run.AvgLatency), latency, nullString(run.Error))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}
	run.ID = id
	return nil
}

const selectRun = `
	SELECT id, mode, state, node_url, started_at, finished_at, requested, sent, failed,
		skipped, completed, pending, avg_latency_ns, latency_stats, error_message
	FROM runs`

// GetRun returns the run with the given id, or nil if there is none.
func (s *SQLiteStorage) GetRun(ctx context.Context, id int64) (*types.RunReport, error) {
	row := s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectRun+" ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunReport{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{Runs: runs, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteRun removes a run. Deleting an unknown id is not an error.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*types.RunReport, error) {
	var (
		run      types.RunReport
		mode     string
		state    string
		finished sql.NullTime
		avgNS    int64
		latency  sql.NullString
		errMsg   sql.NullString
	)
	err := sc.Scan(&run.ID, &mode, &state, &run.NodeURL, &run.StartedAt, &finished,
		&run.Requested, &run.Sent, &run.Failed, &run.Skipped, &run.Completed, &run.Pending,
		&avgNS, &latency, &errMsg)
	if err != nil {
		return nil, err
	}

	run.Mode = types.Mode(mode)
	run.State = types.RunState(state)
	run.AvgLatency = time.Duration(avgNS)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if latency.Valid && latency.String != "" {
		var stats types.LatencyStats
		if err := json.Unmarshal([]byte(latency.String), &stats); err != nil {
			slog.Warn("failed to unmarshal JSON field",
				"field", "latency_stats",
				"runID", run.ID,
				"error", err.Error())
		} else {
			run.Latency = &stats
		}
	}
	return &run, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
