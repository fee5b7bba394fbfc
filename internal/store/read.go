package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LookupResult returns the cached result for a method hash and options key.
// found is false, with a nil error, on a cache miss.
func (s *Store) LookupResult(ctx context.Context, methodHash, optionsKey string) (r Result, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT method_hash, options_key, method, body, error_code, error_message, run_id
		FROM results
		WHERE method_hash = ? AND options_key = ?
	`, methodHash, optionsKey)
	r, err = scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("lookup result: %w", err)
	}
	return r, true, nil
}

// ListResults returns every cached result ordered by method name, then hash.
//
// Returns an empty slice (not nil) if the cache is empty.
func (s *Store) ListResults(ctx context.Context) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method_hash, options_key, method, body, error_code, error_message, run_id
		FROM results
		ORDER BY method COLLATE BINARY ASC, method_hash ASC, options_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// ReadRun returns a run by ID. The error wraps sql.ErrNoRows if it does not
// exist.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, options, methods, failures, cached, finished
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, oldest first. UUIDv7 IDs sort by start time.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, options, methods, failures, cached, finished
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (Result, error) {
	var r Result
	err := sc.Scan(&r.MethodHash, &r.OptionsKey, &r.Method, &r.Body, &r.ErrorCode, &r.ErrorMessage, &r.RunID)
	return r, err
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var optsJSON string
	if err := sc.Scan(&run.ID, &optsJSON, &run.Methods, &run.Failures, &run.Cached, &run.Finished); err != nil {
		return Run{}, err
	}
	opts, err := unmarshalOptions(optsJSON)
	if err != nil {
		return Run{}, err
	}
	run.Options = opts
	return run, nil
}
