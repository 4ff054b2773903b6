// Package history keeps a SQLite ledger of finished jobs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ytaudio/internal/domain"
	"ytaudio/internal/jobs"
)

// Record is one finished job as stored in the ledger.
type Record struct {
	JobID      string               `json:"jobId"`
	Source     string               `json:"source"`
	Title      string               `json:"title,omitempty"`
	Stage      domain.Stage         `json:"stage"`
	OutputPath string               `json:"outputPath,omitempty"`
	ErrorKind  domain.ErrorKind     `json:"errorKind,omitempty"`
	Error      string               `json:"error,omitempty"`
	FailedAt   domain.Stage         `json:"failedAt,omitempty"`
	Attempts   map[domain.Stage]int `json:"attempts,omitempty"`
	Format     domain.OutputFormat  `json:"format"`
	Enhanced   bool                 `json:"enhanced"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Succeeded reports whether the job completed.
func (r Record) Succeeded() bool {
	return r.Stage == domain.StageCompleted
}

// Duration is the wall time of the job.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FromResult builds a record from a terminal job result.
func FromResult(result jobs.JobResult, opts domain.JobOptions) Record {
	return Record{
		JobID:      result.JobID,
		Source:     result.Source,
		Title:      result.Title,
		Stage:      result.Stage,
		OutputPath: result.OutputPath,
		ErrorKind:  result.ErrorKind,
		Error:      result.ErrorMessage(),
		FailedAt:   result.FailedAt,
		Attempts:   result.Attempts,
		Format:     opts.Format,
		Enhanced:   opts.Enhance,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// Store persists records in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// Concurrent job goroutines share one connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	job_id      TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	failed_at   TEXT NOT NULL DEFAULT '',
	attempts    TEXT NOT NULL DEFAULT '{}',
	format      TEXT NOT NULL DEFAULT '',
	enhanced    INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate history database: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT OR REPLACE INTO runs (job_id, source, title, stage, output_path, error_kind, error, failed_at, attempts, format, enhanced, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(r Record) ([]any, error) {
	attempts, err := json.Marshal(r.Attempts)
	if err != nil {
		return nil, fmt.Errorf("encode attempts: %w", err)
	}
	return []any{
		r.JobID, r.Source, r.Title, string(r.Stage), r.OutputPath, string(r.ErrorKind), r.Error,
		string(r.FailedAt), string(attempts), string(r.Format), r.Enhanced,
		toMillis(r.StartedAt), toMillis(r.FinishedAt),
	}, nil
}

// Add inserts or replaces a record.
func (s *Store) Add(ctx context.Context, r Record) error {
	args, err := insertArgs(r)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertRunSQL, args...); err != nil {
		return fmt.Errorf("insert history record %s: %w", r.JobID, err)
	}
	return nil
}

// AddBatch records every result of a batch in one transaction.
func (s *Store) AddBatch(ctx context.Context, batch jobs.BatchResult, opts domain.JobOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	for _, result := range batch.Ordered() {
		r := FromResult(result, opts)
		args, err := insertArgs(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertRunSQL, args...); err != nil {
			return fmt.Errorf("insert history record %s: %w", r.JobID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// List returns the most recent records first. limit <= 0 returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
SELECT job_id, source, title, stage, output_path, error_kind, error, failed_at, attempts, format, enhanced, started_at, finished_at
FROM runs
ORDER BY finished_at DESC, job_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                             Record
			stage, kind, failedAt         string
			format, attempts              string
			startedMillis, finishedMillis int64
		)
		if err := rows.Scan(&r.JobID, &r.Source, &r.Title, &stage, &r.OutputPath, &kind, &r.Error,
			&failedAt, &attempts, &format, &r.Enhanced, &startedMillis, &finishedMillis); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Stage = domain.Stage(stage)
		r.ErrorKind = domain.ErrorKind(kind)
		r.FailedAt = domain.Stage(failedAt)
		r.Format = domain.OutputFormat(format)
		r.StartedAt = fromMillis(startedMillis)
		r.FinishedAt = fromMillis(finishedMillis)
		if err := json.Unmarshal([]byte(attempts), &r.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for %s: %w", r.JobID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
