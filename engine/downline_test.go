package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/engine"
	"github.com/warp/commission-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func seedEdge(t *testing.T, mem *store.Memory, team, live engine.ManagerID, level engine.DownlineLevel) {
	t.Helper()
	_, err := mem.SaveEdge(context.Background(), engine.GenealogyEdge{
		ID:            engine.EdgeID("edge-" + string(team) + "-" + string(live)),
		TeamManagerID: team,
		LiveManagerID: live,
		Level:         level,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

// =============================================================================
// PROPAGATION TESTS
// =============================================================================

func TestPropagate_LevelA_TenPercentOfBase(t *testing.T) {
	// GIVEN: An edge (team, live, A) and the live manager with base 1000
	// WHEN: Propagating the period
	// THEN: The team manager receives a 100.00 DOWNLINE_LEVEL_A bonus
	//       tagged with the live manager

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "live", engine.ManagerLive)
	seedEdge(t, mem, "team", "live", engine.LevelA)
	seedTx(t, mem, "b1", period, "live", "c1", "4000", "0", "4000", "600.00")
	seedTx(t, mem, "b1", period, "live", "c2", "2000", "0", "2000", "400.00")

	written, err := engine.NewPropagator(mem, zerolog.Nop()).Propagate(ctx, period, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, engine.BonusDownlineA, bonuses[0].Type)
	assert.True(t, bonuses[0].Amount.Equal(dec("100.00")), "got %s", bonuses[0].Amount)
	assert.Equal(t, engine.ManagerID("live"), bonuses[0].RelatedManagerID)
	assert.Equal(t, engine.BatchID("b1"), bonuses[0].BatchID)
}

func TestPropagate_LevelRates(t *testing.T) {
	// GIVEN: Edges at levels B and C over descendants with base 1000 each
	// THEN: B pays 75.00, C pays 50.00

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "live-b", engine.ManagerLive)
	seedManager(t, mem, "live-c", engine.ManagerLive)
	seedEdge(t, mem, "team", "live-b", engine.LevelB)
	seedEdge(t, mem, "team", "live-c", engine.LevelC)
	seedTx(t, mem, "b1", period, "live-b", "c1", "3334", "0", "3334", "1000.00")
	seedTx(t, mem, "b1", period, "live-c", "c2", "3334", "0", "3334", "1000.00")

	written, err := engine.NewPropagator(mem, zerolog.Nop()).Propagate(ctx, period, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	require.Len(t, bonuses, 2)

	byType := make(map[engine.BonusType]engine.Bonus)
	for _, b := range bonuses {
		byType[b.Type] = b
	}
	assert.True(t, byType[engine.BonusDownlineB].Amount.Equal(dec("75.00")))
	assert.True(t, byType[engine.BonusDownlineC].Amount.Equal(dec("50.00")))
}

func TestPropagate_Idempotent(t *testing.T) {
	// GIVEN: A propagated period
	// WHEN: Propagating again
	// THEN: The deterministic bonus id upserts; still exactly one bonus

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "live", engine.ManagerLive)
	seedEdge(t, mem, "team", "live", engine.LevelA)
	seedTx(t, mem, "b1", period, "live", "c1", "1000", "0", "1000", "300.00")

	prop := engine.NewPropagator(mem, zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := prop.Propagate(ctx, period, "b1")
		require.NoError(t, err)
	}

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	assert.Len(t, bonuses, 1)
	assert.True(t, bonuses[0].Amount.Equal(dec("30.00")))
}

func TestPropagate_ReleveledEdge_ReplacesPriorBonus(t *testing.T) {
	// GIVEN: A propagated edge at level A (bonus 100.00 on base 1000)
	// WHEN: The edge drops to level B and propagation re-runs
	// THEN: Only the level-B bonus (75.00) remains; the A payout is gone

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "live", engine.ManagerLive)
	seedEdge(t, mem, "team", "live", engine.LevelA)
	seedTx(t, mem, "b1", period, "live", "c1", "3334", "0", "3334", "1000.00")

	prop := engine.NewPropagator(mem, zerolog.Nop())
	_, err := prop.Propagate(ctx, period, "b1")
	require.NoError(t, err)

	seedEdge(t, mem, "team", "live", engine.LevelB)
	_, err = prop.Propagate(ctx, period, "b1")
	require.NoError(t, err)

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, engine.BonusDownlineB, bonuses[0].Type)
	assert.True(t, bonuses[0].Amount.Equal(dec("75.00")), "got %s", bonuses[0].Amount)
}

func TestPropagate_DeletedEdge_RemovesBonus(t *testing.T) {
	// GIVEN: A propagated edge
	// WHEN: The edge is deleted and propagation re-runs
	// THEN: The downline bonus disappears with it

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "live", engine.ManagerLive)
	seedEdge(t, mem, "team", "live", engine.LevelA)
	seedTx(t, mem, "b1", period, "live", "c1", "1000", "0", "1000", "300.00")

	prop := engine.NewPropagator(mem, zerolog.Nop())
	_, err := prop.Propagate(ctx, period, "b1")
	require.NoError(t, err)

	require.NoError(t, mem.DeleteEdge(ctx, "edge-team-live"))
	written, err := prop.Propagate(ctx, period, "b1")
	require.NoError(t, err)
	assert.Zero(t, written)

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	assert.Empty(t, bonuses)
}

func TestPropagate_DescendantWithoutActivity_NoBonus(t *testing.T) {
	// GIVEN: An edge whose live manager has no transactions this period
	// WHEN: Propagating
	// THEN: No bonus is written

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")

	seedManager(t, mem, "team", engine.ManagerTeam)
	seedManager(t, mem, "idle", engine.ManagerLive)
	seedEdge(t, mem, "team", "idle", engine.LevelA)

	written, err := engine.NewPropagator(mem, zerolog.Nop()).Propagate(ctx, period, "b1")
	require.NoError(t, err)
	assert.Zero(t, written)

	bonuses, err := mem.ListManagerBonuses(ctx, "team", period)
	require.NoError(t, err)
	assert.Empty(t, bonuses)
}
