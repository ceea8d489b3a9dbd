package persistence

import (
	"context"
	"fmt"
	"time"
)

// PruneGuardrailEvents deletes guardrail event rows older than the cutoff.
// Called on the retention schedule; returns the number of rows removed.
func (s *Store) PruneGuardrailEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guardrail_events WHERE created_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune guardrail events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune guardrail events: %w", err)
	}
	return n, nil
}

// CountGuardrailEvents reports the total number of recorded events.
func (s *Store) CountGuardrailEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guardrail_events;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count guardrail events: %w", err)
	}
	return n, nil
}
