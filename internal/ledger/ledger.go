// Package ledger persists the run and invocation trail to a local sqlite
// database, so failed runs can be diagnosed and reproduced after their
// workspaces are gone.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/photopipe/internal/solver"
)

// Ledger wraps the sqlite handle. Safe for concurrent runs; database/sql
// serializes access to the underlying connection pool.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path and ensures the
// schema exists.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT PRIMARY KEY,
			started_at   TIMESTAMP NOT NULL,
			finished_at  TIMESTAMP,
			state        TEXT,
			failed_stage TEXT,
			cause        TEXT
		);
		CREATE TABLE IF NOT EXISTS invocations (
			invocation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			stage         TEXT NOT NULL,
			command_line  TEXT NOT NULL,
			work_dir      TEXT,
			device_ids    TEXT,
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP NOT NULL,
			exit_code     INTEGER,
			timed_out     BOOLEAN,
			stderr        TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRunStart implements the pipeline.Recorder interface.
func (l *Ledger) RecordRunStart(ctx context.Context, runID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC(),
	)
	return err
}

// RecordInvocation implements the pipeline.Recorder interface.
func (l *Ledger) RecordInvocation(ctx context.Context, runID string, inv *solver.StageInvocation) error {
	ids := make([]string, len(inv.DeviceIDs))
	for i, id := range inv.DeviceIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO invocations
		 (run_id, stage, command_line, work_dir, device_ids, started_at, finished_at, exit_code, timed_out, stderr)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, inv.Stage, inv.CommandLine, inv.Dir, strings.Join(ids, ","),
		inv.Start.UTC(), inv.End.UTC(), inv.ExitCode, inv.TimedOut, inv.Stderr,
	)
	return err
}

// RecordRunEnd implements the pipeline.Recorder interface.
func (l *Ledger) RecordRunEnd(ctx context.Context, runID string, state, failedStage, cause string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, state = ?, failed_stage = ?, cause = ? WHERE run_id = ?`,
		time.Now().UTC(), state, failedStage, cause, runID,
	)
	return err
}

// RunRecord is one row of the runs table, for inspection tooling.
type RunRecord struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  *time.Time
	State       string
	FailedStage string
	Cause       string
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at,
		        COALESCE(state, ''), COALESCE(failed_stage, ''), COALESCE(cause, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&rec.RunID, &rec.StartedAt, &finished, &rec.State, &rec.FailedStage, &rec.Cause); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
