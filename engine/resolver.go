/*
resolver.go - Identity resolution with a per-run cache

PURPOSE:
  Resolves raw spreadsheet labels to canonical Manager/Creator ids, creating
  identities on first sighting. Resolutions are memoized for the duration of
  one batch run.

SCOPING:
  A Resolver is constructed fresh for each processing run and owned
  exclusively by it. It is NOT a package-level singleton and is not shared
  across concurrently running batches. Within one run the same raw label
  always resolves to the same id and creates at most one persistent record.

KNOWN GAP:
  Two overlapping batch runs that both first-sight the same handle can race
  on creation; the store's unique handle constraint turns the loser into a
  re-lookup.

SEE ALSO:
  - row.go:      NormalizeLabel, the single equivalence function
  - pipeline.go: Calls Resolve* per row
*/
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Resolver memoizes identity lookups for one batch run.
type Resolver struct {
	store  IdentityStore
	logger zerolog.Logger

	managers map[string]ManagerID // key: normalized label
	creators map[string]CreatorID
}

// NewResolver creates a resolver with an empty cache. One per processing run.
func NewResolver(store IdentityStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		logger:   logger,
		managers: make(map[string]ManagerID),
		creators: make(map[string]CreatorID),
	}
}

// ResolveManager returns the canonical id for a raw manager label, creating
// the manager with the inferred type if the handle is unknown.
func (r *Resolver) ResolveManager(ctx context.Context, rawLabel string, t ManagerType) (ManagerID, error) {
	handle := NormalizeLabel(rawLabel)
	if handle == "" {
		return "", ErrEmptyLabel
	}
	if id, ok := r.managers[handle]; ok {
		return id, nil
	}

	existing, err := r.store.FindManagerByHandle(ctx, handle)
	if err == nil {
		r.managers[handle] = existing.ID
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	now := time.Now().UTC()
	m := Manager{
		ID:            ManagerID(uuid.NewString()),
		Handle:        handle,
		DisplayName:   strings.TrimSpace(rawLabel),
		Type:          t,
		LifetimeTotal: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateManager(ctx, m); err != nil {
		// Lost a creation race with an overlapping run: take theirs.
		if again, ferr := r.store.FindManagerByHandle(ctx, handle); ferr == nil {
			r.managers[handle] = again.ID
			return again.ID, nil
		}
		return "", err
	}
	r.logger.Info().
		Str("manager_id", string(m.ID)).
		Str("handle", handle).
		Str("type", string(t)).
		Msg("created manager on first sighting")

	r.managers[handle] = m.ID
	return m.ID, nil
}

// ResolveCreator returns the canonical id for a raw creator label, creating
// the creator if the handle is unknown.
func (r *Resolver) ResolveCreator(ctx context.Context, rawLabel string) (CreatorID, error) {
	handle := NormalizeLabel(rawLabel)
	if handle == "" {
		return "", ErrEmptyLabel
	}
	if id, ok := r.creators[handle]; ok {
		return id, nil
	}

	existing, err := r.store.FindCreatorByHandle(ctx, handle)
	if err == nil {
		r.creators[handle] = existing.ID
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	c := Creator{
		ID:          CreatorID(uuid.NewString()),
		Handle:      handle,
		DisplayName: strings.TrimSpace(rawLabel),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateCreator(ctx, c); err != nil {
		if again, ferr := r.store.FindCreatorByHandle(ctx, handle); ferr == nil {
			r.creators[handle] = again.ID
			return again.ID, nil
		}
		return "", err
	}
	r.logger.Debug().
		Str("creator_id", string(c.ID)).
		Str("handle", handle).
		Msg("created creator on first sighting")

	r.creators[handle] = c.ID
	return c.ID, nil
}
