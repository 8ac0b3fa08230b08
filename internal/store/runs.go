package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/shotdiff/dbopen"
	"github.com/hazyhaar/shotdiff/report"
)

// Run is a stored report run.
type Run struct {
	ID           string `json:"id"`
	Dir          string `json:"dir"`
	Mode         string `json:"mode"`
	MinPixelDiff int    `json:"min_pixel_diff"`
	Processed    int    `json:"processed"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
	Interrupted  bool   `json:"interrupted"`
	StartedAt    int64  `json:"started_at"`
	FinishedAt   int64  `json:"finished_at"`
}

// Result is a stored outcome for one screenshot.
type Result struct {
	RunID      string `json:"run_id,omitempty"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Locale     string `json:"locale"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	PixelCount int    `json:"pixel_count"`
	OldW       int    `json:"old_w"`
	OldH       int    `json:"old_h"`
	NewW       int    `json:"new_w"`
	NewH       int    `json:"new_h"`
	Artifact   string `json:"artifact,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

const insertResult = `
	INSERT INTO results
		(run_id, path, name, locale, label, status, pixel_count,
		 old_w, old_h, new_w, new_h, artifact, error, created_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func resultArgs(runID any, e report.Entry, now int64) []any {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return []any{
		runID, e.File.Path, e.File.Name, e.File.Locale, e.File.Label(), e.Status.String(), e.PixelCount,
		e.SizeOld.X, e.SizeOld.Y, e.SizeNew.X, e.SizeNew.Y, e.Artifact, msg, now,
	}
}

// SaveRun stores a finished report run and its entries in one transaction.
// Cancelled entries are not stored.
func (s *Store) SaveRun(ctx context.Context, res *report.Result, started time.Time, interrupted bool) (*Run, error) {
	run := &Run{
		ID:           s.runID(),
		Dir:          res.Dir,
		Mode:         res.Mode.String(),
		MinPixelDiff: res.MinPixelDiff,
		Processed:    res.Processed,
		Skipped:      res.Skipped,
		Errors:       res.Errors,
		Interrupted:  interrupted,
		StartedAt:    started.UnixMilli(),
		FinishedAt:   s.now().UnixMilli(),
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs
				(id, dir, mode, min_pixel_diff, processed, skipped, errors, interrupted, started_at, finished_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			run.ID, run.Dir, run.Mode, run.MinPixelDiff, run.Processed, run.Skipped, run.Errors,
			boolInt(run.Interrupted), run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return err
		}
		for _, e := range res.Entries {
			if e.Status == report.StatusCancelled {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertResult, resultArgs(run.ID, e, run.FinishedAt)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: save run: %w", err)
	}
	return run, nil
}

// RecordEntry stores a single diff made outside a run.
func (s *Store) RecordEntry(ctx context.Context, e report.Entry) error {
	if _, err := dbopen.Exec(ctx, s.DB, insertResult, resultArgs(nil, e, s.now().UnixMilli())...); err != nil {
		return fmt.Errorf("store: record %s: %w", e.File.Path, err)
	}
	return nil
}

const runColumns = `id, dir, mode, min_pixel_diff, processed, skipped, errors, interrupted, started_at, finished_at`

func scanRun(sc interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var interrupted int
	if err := sc.Scan(&r.ID, &r.Dir, &r.Mode, &r.MinPixelDiff, &r.Processed, &r.Skipped, &r.Errors,
		&interrupted, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Interrupted = interrupted != 0
	return r, nil
}

// GetRun returns the run with id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const resultColumns = `COALESCE(run_id, ''), path, name, locale, label, status, pixel_count,
	old_w, old_h, new_w, new_h, artifact, error, created_at`

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]*Result, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.RunID, &r.Path, &r.Name, &r.Locale, &r.Label, &r.Status, &r.PixelCount,
			&r.OldW, &r.OldH, &r.NewW, &r.NewH, &r.Artifact, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunResults returns the stored entries of a run in report order.
func (s *Store) RunResults(ctx context.Context, runID string) ([]*Result, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM results WHERE run_id = ? ORDER BY id`, runID)
}

// History returns every stored result for path, newest first.
func (s *Store) History(ctx context.Context, path string) ([]*Result, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM results WHERE path = ? ORDER BY created_at DESC, id DESC`, path)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
