package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRouteTaken is returned when a create or update would collide with an
	// existing route. The UNIQUE index decides; callers map this to a
	// validation failure for the user.
	ErrRouteTaken = errors.New("route already taken")
	ErrNotFound   = errors.New("ato not found")
)

// ATORecord is the persisted form of a custom agent takeover definition.
// Route is stored post-normalization; Tools is a comma-joined list.
type ATORecord struct {
	ID           string
	OwnerID      string
	Label        string
	Route        string
	Instructions string
	Model        string
	Temperature  float64
	Tools        []string
	MemoryScope  string
	Voice        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Store) CreateATO(ctx context.Context, rec ATORecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO atos (id, owner_id, label, route, instructions, model, temperature, tools, memory_scope, voice)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, rec.ID, rec.OwnerID, rec.Label, rec.Route, rec.Instructions, rec.Model,
		rec.Temperature, joinTools(rec.Tools), rec.MemoryScope, rec.Voice)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("route %q: %w", rec.Route, ErrRouteTaken)
		}
		return fmt.Errorf("insert ato: %w", err)
	}
	return nil
}

func (s *Store) GetATO(ctx context.Context, id string) (ATORecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, label, route, instructions, model, temperature, tools, memory_scope, voice, created_at, updated_at
		FROM atos WHERE id = ?;
	`, id)
	return scanATO(row)
}

func (s *Store) GetATOByRoute(ctx context.Context, route string) (ATORecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, label, route, instructions, model, temperature, tools, memory_scope, voice, created_at, updated_at
		FROM atos WHERE route = ?;
	`, route)
	return scanATO(row)
}

func (s *Store) ListATOsByOwner(ctx context.Context, ownerID string) ([]ATORecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, label, route, instructions, model, temperature, tools, memory_scope, voice, created_at, updated_at
		FROM atos WHERE owner_id = ? ORDER BY created_at ASC;
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list atos: %w", err)
	}
	defer rows.Close()

	var out []ATORecord
	for rows.Next() {
		rec, err := scanATO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountATOsByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM atos WHERE owner_id = ?;`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count atos: %w", err)
	}
	return n, nil
}

// CountATOsCreatedSince supports monthly creation quotas. Deleted ATOs do not
// count back toward the window; only surviving rows are visible.
func (s *Store) CountATOsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM atos WHERE owner_id = ? AND created_at >= ?;
	`, ownerID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent atos: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateATO(ctx context.Context, rec ATORecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE atos
		SET label = ?, route = ?, instructions = ?, model = ?, temperature = ?, tools = ?, memory_scope = ?, voice = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?;
	`, rec.Label, rec.Route, rec.Instructions, rec.Model, rec.Temperature,
		joinTools(rec.Tools), rec.MemoryScope, rec.Voice, rec.ID, rec.OwnerID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("route %q: %w", rec.Route, ErrRouteTaken)
		}
		return fmt.Errorf("update ato: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ato: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteATO(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM atos WHERE id = ? AND owner_id = ?;`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete ato: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ato: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanATO(row scannable) (ATORecord, error) {
	var rec ATORecord
	var tools string
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Label, &rec.Route, &rec.Instructions,
		&rec.Model, &rec.Temperature, &tools, &rec.MemoryScope, &rec.Voice,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ATORecord{}, ErrNotFound
		}
		return ATORecord{}, fmt.Errorf("scan ato: %w", err)
	}
	rec.Tools = splitTools(tools)
	return rec, nil
}

func joinTools(tools []string) string {
	return strings.Join(tools, ",")
}

func splitTools(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
