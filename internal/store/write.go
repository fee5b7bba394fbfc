package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WriteRun inserts a run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	optsJSON, err := OptionsKey(run.Options)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, options, methods, failures, cached, finished)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		optsJSON,
		run.Methods,
		run.Failures,
		run.Cached,
		run.Finished,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// FinishRun records the final counters of a run and marks it finished.
// Returns an error wrapping sql.ErrNoRows if the run does not exist.
func (s *Store) FinishRun(ctx context.Context, id string, methods, failures, cached int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET methods = ?, failures = ?, cached = ?, finished = 1
		WHERE id = ?
	`, methods, failures, cached, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// WriteResult inserts a cached result.
// Uses ON CONFLICT DO NOTHING: the first rendering of a (hash, options) pair
// wins, and later writes report inserted=false.
func (s *Store) WriteResult(ctx context.Context, r Result) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results
		(method_hash, options_key, method, body, error_code, error_message, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(method_hash, options_key) DO NOTHING
	`,
		r.MethodHash,
		r.OptionsKey,
		r.Method,
		r.Body,
		r.ErrorCode,
		r.ErrorMessage,
		r.RunID,
	)
	if err != nil {
		return false, fmt.Errorf("write result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write result: rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordMethod atomically stores a freshly rendered result (unless it came
// from the cache) and appends it to the run's method list at seq.
//
// This is the crash-safe variant of WriteResult followed by a run_methods
// insert: a run never lists a method whose result is missing.
func (s *Store) RecordMethod(ctx context.Context, runID string, seq int64, r Result, fromCache bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record method: begin tx: %w", err)
	}
	defer tx.Rollback()

	if !fromCache {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO results
			(method_hash, options_key, method, body, error_code, error_message, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(method_hash, options_key) DO NOTHING
		`,
			r.MethodHash,
			r.OptionsKey,
			r.Method,
			r.Body,
			r.ErrorCode,
			r.ErrorMessage,
			runID,
		)
		if err != nil {
			return fmt.Errorf("record method: write result: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_methods (run_id, seq, method_hash, options_key, from_cache)
		VALUES (?, ?, ?, ?, ?)
	`, runID, seq, r.MethodHash, r.OptionsKey, fromCache)
	if err != nil {
		return fmt.Errorf("record method: write run method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record method: commit: %w", err)
	}
	return nil
}
