package engine_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/engine"
	"github.com/warp/commission-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestResolver(t *testing.T) (*engine.Resolver, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return engine.NewResolver(mem, zerolog.Nop()), mem
}

// =============================================================================
// MANAGER RESOLUTION TESTS
// =============================================================================

func TestResolver_CreatesManagerOnFirstSighting(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Resolving an unseen manager label
	// THEN: A manager is created with the normalized handle and inferred type

	r, mem := newTestResolver(t)
	ctx := context.Background()

	id, err := r.ResolveManager(ctx, "  Alice   Smith ", engine.ManagerLive)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m, err := mem.FindManagerByHandle(ctx, "alice smith")
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, engine.ManagerLive, m.Type)
	assert.Equal(t, "Alice   Smith", m.DisplayName, "display name keeps the raw spelling, trimmed")
}

func TestResolver_EquivalentLabels_SameIdentity(t *testing.T) {
	// GIVEN: Labels differing only in case and whitespace
	// WHEN: Resolving each variant
	// THEN: All resolve to one id and only one manager record exists

	r, mem := newTestResolver(t)
	ctx := context.Background()

	first, err := r.ResolveManager(ctx, "Alice Smith", engine.ManagerLive)
	require.NoError(t, err)

	for _, variant := range []string{"alice smith", " ALICE  SMITH ", "Alice\tSmith"} {
		id, err := r.ResolveManager(ctx, variant, engine.ManagerLive)
		require.NoError(t, err)
		assert.Equal(t, first, id, "variant=%q", variant)
	}

	managers, err := mem.ListManagers(ctx)
	require.NoError(t, err)
	assert.Len(t, managers, 1)
}

func TestResolver_ReusesExistingManagerAcrossRuns(t *testing.T) {
	// GIVEN: A manager created by an earlier run
	// WHEN: A fresh resolver (empty cache) sees the same handle
	// THEN: The existing identity is reused, no second record

	mem := store.NewMemory()
	ctx := context.Background()

	first, err := engine.NewResolver(mem, zerolog.Nop()).ResolveManager(ctx, "Bob", engine.ManagerTeam)
	require.NoError(t, err)

	second, err := engine.NewResolver(mem, zerolog.Nop()).ResolveManager(ctx, "BOB", engine.ManagerTeam)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolver_EmptyLabel_Rejected(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.ResolveManager(ctx, "   ", engine.ManagerLive)
	assert.ErrorIs(t, err, engine.ErrEmptyLabel)

	_, err = r.ResolveCreator(ctx, "")
	assert.ErrorIs(t, err, engine.ErrEmptyLabel)
}

// =============================================================================
// CREATOR RESOLUTION TESTS
// =============================================================================

func TestResolver_CreatorMemoization(t *testing.T) {
	// GIVEN: The same creator label resolved twice in one run
	// THEN: One record, one id

	r, mem := newTestResolver(t)
	ctx := context.Background()

	a, err := r.ResolveCreator(ctx, "Star Creator")
	require.NoError(t, err)
	b, err := r.ResolveCreator(ctx, "star  creator")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := mem.FindCreatorByHandle(ctx, "star creator")
	require.NoError(t, err)
	assert.Equal(t, a, c.ID)
}

func TestResolver_ManagerAndCreatorNamespacesIndependent(t *testing.T) {
	// GIVEN: The same label used for a manager and a creator
	// THEN: Two distinct identities in their own namespaces

	r, _ := newTestResolver(t)
	ctx := context.Background()

	mid, err := r.ResolveManager(ctx, "Jordan", engine.ManagerLive)
	require.NoError(t, err)
	cid, err := r.ResolveCreator(ctx, "Jordan")
	require.NoError(t, err)

	assert.NotEqual(t, string(mid), string(cid))
}
