package ato

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/persistence"
)

// Registry resolves routes and enforces tier limits on custom ATOs. The
// sqlite UNIQUE index on the route column is the serialization point for
// uniqueness; the registry's own checks just produce friendlier errors.
type Registry struct {
	store *persistence.Store
}

func NewRegistry(store *persistence.Store) *Registry {
	return &Registry{store: store}
}

// Resolve finds the agent behind a route for an owner: built-ins first,
// then the owner's custom ATOs. Another owner's routes are invisible.
func (r *Registry) Resolve(ctx context.Context, route, ownerID string) (Definition, error) {
	normalized := NormalizeRoute(route)
	if normalized == "" {
		return Definition{}, ErrRouteInvalid
	}
	if d, ok := builtins[normalized]; ok {
		return d, nil
	}

	rec, err := r.store.GetATOByRoute(ctx, normalized)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Definition{}, fmt.Errorf("route %q: %w", normalized, ErrNotFound)
		}
		return Definition{}, err
	}
	if rec.OwnerID != ownerID {
		return Definition{}, fmt.Errorf("route %q: %w", normalized, ErrNotFound)
	}
	return fromRecord(rec), nil
}

// Create validates a new custom ATO against the owner's tier and persists
// it. The returned definition carries the generated ID and normalized route.
func (r *Registry) Create(ctx context.Context, def Definition, tier config.TierConfig) (Definition, error) {
	normalized := NormalizeRoute(def.Route)
	if normalized == "" {
		return Definition{}, ErrRouteInvalid
	}
	if _, reserved := builtins[normalized]; reserved {
		return Definition{}, fmt.Errorf("route %q is reserved: %w", normalized, ErrRouteCollision)
	}
	if err := validateTools(def.AllowedTools); err != nil {
		return Definition{}, err
	}
	if len(def.SystemPrompt) > tier.MaxInstructionChars {
		return Definition{}, fmt.Errorf("%d chars over tier limit %d: %w",
			len(def.SystemPrompt), tier.MaxInstructionChars, ErrInstructionsTooLong)
	}

	total, err := r.store.CountATOsByOwner(ctx, def.OwnerID)
	if err != nil {
		return Definition{}, err
	}
	if total >= tier.MaxCustomATOs {
		return Definition{}, fmt.Errorf("tier allows %d custom agents: %w", tier.MaxCustomATOs, ErrQuotaExceeded)
	}
	monthly, err := r.store.CountATOsCreatedSince(ctx, def.OwnerID, startOfMonth(time.Now()))
	if err != nil {
		return Definition{}, err
	}
	if monthly >= tier.MaxCreatedPerMonth {
		return Definition{}, fmt.Errorf("tier allows %d creations per month: %w", tier.MaxCreatedPerMonth, ErrQuotaExceeded)
	}

	def.ID = uuid.NewString()
	def.Route = normalized
	def.BuiltIn = false
	if err := r.store.CreateATO(ctx, toRecord(def)); err != nil {
		if errors.Is(err, persistence.ErrRouteTaken) {
			audit.Record("reject", "ato_create", "route collision", "", normalized)
			return Definition{}, fmt.Errorf("route %q: %w", normalized, ErrRouteCollision)
		}
		return Definition{}, err
	}
	audit.Record("allow", "ato_create", "created", "", normalized)
	return def, nil
}

// Update rewrites an existing ATO. A route change re-runs the same
// reservation and uniqueness checks as Create.
func (r *Registry) Update(ctx context.Context, def Definition, tier config.TierConfig) error {
	normalized := NormalizeRoute(def.Route)
	if normalized == "" {
		return ErrRouteInvalid
	}
	if _, reserved := builtins[normalized]; reserved {
		return fmt.Errorf("route %q is reserved: %w", normalized, ErrRouteCollision)
	}
	if err := validateTools(def.AllowedTools); err != nil {
		return err
	}
	if len(def.SystemPrompt) > tier.MaxInstructionChars {
		return fmt.Errorf("%d chars over tier limit %d: %w",
			len(def.SystemPrompt), tier.MaxInstructionChars, ErrInstructionsTooLong)
	}

	def.Route = normalized
	if err := r.store.UpdateATO(ctx, toRecord(def)); err != nil {
		switch {
		case errors.Is(err, persistence.ErrRouteTaken):
			audit.Record("reject", "ato_update", "route collision", "", normalized)
			return fmt.Errorf("route %q: %w", normalized, ErrRouteCollision)
		case errors.Is(err, persistence.ErrNotFound):
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Delete removes an ATO. Only the owner may delete; the route frees up
// immediately because the row is gone.
func (r *Registry) Delete(ctx context.Context, id, ownerID string) error {
	if err := r.store.DeleteATO(ctx, id, ownerID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	audit.Record("allow", "ato_delete", "deleted", "", id)
	return nil
}

// List returns the owner's custom ATOs in creation order.
func (r *Registry) List(ctx context.Context, ownerID string) ([]Definition, error) {
	recs, err := r.store.ListATOsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, len(recs))
	for i, rec := range recs {
		defs[i] = fromRecord(rec)
	}
	return defs, nil
}

func startOfMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func toRecord(def Definition) persistence.ATORecord {
	return persistence.ATORecord{
		ID:           def.ID,
		OwnerID:      def.OwnerID,
		Label:        def.Label,
		Route:        def.Route,
		Instructions: def.SystemPrompt,
		Model:        def.Model,
		Temperature:  def.Temperature,
		Tools:        def.AllowedTools,
		MemoryScope:  def.MemoryScope,
		Voice:        def.Voice,
	}
}

func fromRecord(rec persistence.ATORecord) Definition {
	return Definition{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		Label:        rec.Label,
		Route:        rec.Route,
		SystemPrompt: rec.Instructions,
		Model:        rec.Model,
		Temperature:  rec.Temperature,
		AllowedTools: rec.Tools,
		MemoryScope:  rec.MemoryScope,
		Voice:        rec.Voice,
	}
}
