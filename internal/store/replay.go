package store

import (
	"context"
	"fmt"
)

// ReplayRun returns the methods a run produced in the order it produced
// them, each joined with its cached rendering. Replaying a run needs no
// decompilation: every listed method has a result row.
//
// Returns an empty slice (not nil) for a run with no methods.
func (s *Store) ReplayRun(ctx context.Context, runID string) ([]RunMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.seq, m.from_cache,
		       r.method_hash, r.options_key, r.method, r.body, r.error_code, r.error_message, r.run_id
		FROM run_methods m
		JOIN results r ON r.method_hash = m.method_hash AND r.options_key = m.options_key
		WHERE m.run_id = ?
		ORDER BY m.seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("replay run: %w", err)
	}
	defer rows.Close()

	out := []RunMethod{}
	for rows.Next() {
		var m RunMethod
		r := &m.Result
		if err := rows.Scan(&m.Seq, &m.FromCache,
			&r.MethodHash, &r.OptionsKey, &r.Method, &r.Body, &r.ErrorCode, &r.ErrorMessage, &r.RunID); err != nil {
			return nil, fmt.Errorf("replay run: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay run: iterate: %w", err)
	}
	return out, nil
}
