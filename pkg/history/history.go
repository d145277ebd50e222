// Package history keeps a sqlite ledger of partfix runs: the classification
// of every image that was checked, the mismatches found and the digests of
// the files a fix rewrote.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opencontainers/go-digest"

	"github.com/woliveiras/partfix/pkg/bootcheck"
)

// Run is one recorded invocation.
type Run struct {
	ID         string
	ImagePath  string
	Status     string
	Reason     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Mismatches []Mismatch
	Changes    []Change
}

// Mismatch is a recorded reference mismatch.
type Mismatch struct {
	Reference string
	File      string
	Line      int
	Expected  string
	Found     string
}

// Change is a recorded file rewrite.
type Change struct {
	Partition int
	File      string
	Before    digest.Digest
	After     digest.Digest
}

// Store persists runs in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// in-memory databases are per connection
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// FromResult converts the outcome of bootcheck.Run into a Run record.
// res may be nil when the run failed before classification.
func FromResult(id, imagePath string, started time.Time, res *bootcheck.Result, runErr error) Run {
	run := Run{
		ID:         id,
		ImagePath:  imagePath,
		Status:     "failed",
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if res == nil {
		return run
	}

	if res.RunID != "" {
		run.ID = res.RunID
	}
	if runErr == nil {
		run.Status = res.Status.String()
	}
	if res.Reason != nil {
		run.Reason = res.Reason.Error()
	}
	for _, m := range res.Mismatches {
		run.Mismatches = append(run.Mismatches, Mismatch{
			Reference: m.Ref.Name,
			File:      m.Ref.File,
			Line:      m.Ref.Line,
			Expected:  m.Expected,
			Found:     m.Found,
		})
	}
	for _, c := range res.Changes {
		run.Changes = append(run.Changes, Change{
			Partition: c.Partition,
			File:      c.File,
			Before:    c.Before,
			After:     c.After,
		})
	}
	return run
}

// Record saves a run together with its mismatches and file changes.
func (s *Store) Record(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, image_path, status, reason, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ImagePath, run.Status, run.Reason, run.Error,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, m := range run.Mismatches {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mismatches (run_id, position, reference, file, line, expected, found)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, m.Reference, m.File, m.Line, m.Expected, m.Found)
		if err != nil {
			return fmt.Errorf("insert mismatch %s: %w", m.Reference, err)
		}
	}

	for _, c := range run.Changes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_changes (run_id, part_index, file, digest_before, digest_after)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, c.Partition, c.File, c.Before.String(), c.After.String())
		if err != nil {
			return fmt.Errorf("insert change %s: %w", c.File, err)
		}
	}

	return tx.Commit()
}

// List returns recorded runs newest first. An empty imagePath lists all
// images.
func (s *Store) List(ctx context.Context, imagePath string) ([]Run, error) {
	query := `SELECT id, image_path, status, reason, error, started_at, finished_at FROM runs`
	var args []any
	if imagePath != "" {
		query += ` WHERE image_path = ?`
		args = append(args, imagePath)
	}
	query += ` ORDER BY finished_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var started, finished int64
		run := Run{}
		if err := rows.Scan(&run.ID, &run.ImagePath, &run.Status, &run.Reason, &run.Error,
			&started, &finished); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, started)
		run.FinishedAt = time.Unix(0, finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if err := s.loadDetails(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) loadDetails(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, file, line, expected, found FROM mismatches
		WHERE run_id = ? ORDER BY position
	`, run.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.Reference, &m.File, &m.Line, &m.Expected, &m.Found); err != nil {
			rows.Close()
			return err
		}
		run.Mismatches = append(run.Mismatches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT part_index, file, digest_before, digest_after FROM file_changes
		WHERE run_id = ? ORDER BY part_index, file
	`, run.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c Change
		var before, after string
		if err := rows.Scan(&c.Partition, &c.File, &before, &after); err != nil {
			return err
		}
		c.Before = digest.Digest(before)
		c.After = digest.Digest(after)
		run.Changes = append(run.Changes, c)
	}
	return rows.Err()
}
