package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/engine"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testManager(id string) engine.Manager {
	now := time.Now().UTC()
	return engine.Manager{
		ID:            engine.ManagerID(id),
		Handle:        id,
		DisplayName:   id,
		Type:          engine.ManagerLive,
		LifetimeTotal: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testBatch(id string, period engine.Period, status engine.BatchStatus) engine.UploadBatch {
	now := time.Now().UTC()
	return engine.UploadBatch{
		ID:        engine.BatchID(id),
		Period:    period,
		Source:    "uploads/" + id + ".xlsx",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// IDENTITY TESTS
// =============================================================================

func TestSQLite_ManagerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testManager("alice")
	m.LifetimeTotal = dec("123.45")
	require.NoError(t, store.CreateManager(ctx, m))

	got, err := store.GetManager(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Handle, got.Handle)
	assert.Equal(t, engine.ManagerLive, got.Type)
	assert.True(t, got.LifetimeTotal.Equal(dec("123.45")))

	byHandle, err := store.FindManagerByHandle(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byHandle.ID)

	_, err = store.GetManager(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrManagerNotFound)
	_, err = store.FindManagerByHandle(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSQLite_DuplicateHandle_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateManager(ctx, testManager("alice")))

	dup := testManager("alice")
	dup.ID = "different-id"
	err := store.CreateManager(ctx, dup)
	assert.ErrorIs(t, err, engine.ErrDuplicateHandle)
}

func TestSQLite_AddToLifetimeTotal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateManager(ctx, testManager("alice")))
	require.NoError(t, store.AddToLifetimeTotal(ctx, "alice", dec("870.00")))
	require.NoError(t, store.AddToLifetimeTotal(ctx, "alice", dec("-370.00")))

	got, err := store.GetManager(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.LifetimeTotal.Equal(dec("500.00")))

	err = store.AddToLifetimeTotal(ctx, "ghost", dec("1"))
	assert.ErrorIs(t, err, engine.ErrManagerNotFound)
}

// =============================================================================
// BATCH LIFECYCLE TESTS
// =============================================================================

func TestSQLite_TryBeginProcessing_CAS(t *testing.T) {
	// GIVEN: A pending batch
	// WHEN: Claiming it twice
	// THEN: First claim wins and flips the status; second is rejected

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "202508", engine.BatchPending)))

	require.NoError(t, store.TryBeginProcessing(ctx, "b1"))
	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, engine.BatchDownloading, got.Status)
	assert.True(t, got.IsProcessing)
	assert.True(t, got.IsActive)

	err = store.TryBeginProcessing(ctx, "b1")
	assert.ErrorIs(t, err, engine.ErrBatchAlreadyProcessing)

	// Completed batches reject with the dedicated sentinel
	require.NoError(t, store.EndProcessing(ctx, "b1", engine.BatchCompleted, ""))
	err = store.TryBeginProcessing(ctx, "b1")
	assert.ErrorIs(t, err, engine.ErrBatchCompleted)

	err = store.TryBeginProcessing(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrBatchNotFound)
}

func TestSQLite_FailedBatch_CanBeReclaimed(t *testing.T) {
	// GIVEN: A batch that ended FAILED
	// WHEN: Triggering again
	// THEN: The claim succeeds and the error message is reset

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "202508", engine.BatchPending)))
	require.NoError(t, store.TryBeginProcessing(ctx, "b1"))
	require.NoError(t, store.EndProcessing(ctx, "b1", engine.BatchFailed, "source unreachable"))

	require.NoError(t, store.TryBeginProcessing(ctx, "b1"))
	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, engine.BatchDownloading, got.Status)
	assert.Empty(t, got.Error)
}

func TestSQLite_SupersedeBatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("old1", "202508", engine.BatchCompleted)))
	require.NoError(t, store.CreateBatch(ctx, testBatch("old2", "202508", engine.BatchFailed)))
	require.NoError(t, store.CreateBatch(ctx, testBatch("keep", "202508", engine.BatchProcessing)))
	require.NoError(t, store.CreateBatch(ctx, testBatch("july", "202507", engine.BatchCompleted)))

	retired, err := store.SupersedeBatches(ctx, "202508", "keep")
	require.NoError(t, err)
	assert.ElementsMatch(t, []engine.BatchID{"old1", "old2"}, retired)

	for _, id := range retired {
		b, err := store.GetBatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, engine.BatchSuperseded, b.Status)
		assert.False(t, b.IsActive)
	}

	july, err := store.GetBatch(ctx, "july")
	require.NoError(t, err)
	assert.Equal(t, engine.BatchCompleted, july.Status)

	// Idempotent: nothing left to retire
	retired, err = store.SupersedeBatches(ctx, "202508", "keep")
	require.NoError(t, err)
	assert.Empty(t, retired)
}

func TestSQLite_UpdateBatchProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, testBatch("b1", "202508", engine.BatchProcessing)))
	require.NoError(t, store.UpdateBatchProgress(ctx, "b1", 42, 100, 40, 2))

	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
	assert.Equal(t, 100, got.TotalRows)
	assert.Equal(t, 40, got.ProcessedRows)
	assert.Equal(t, 2, got.SkippedRows)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestSQLite_CommitChunk_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	chunk := engine.ChunkWrite{
		BatchID: "b1",
		Transactions: []engine.Transaction{{
			ID:             "tx1",
			BatchID:        "b1",
			Period:         "202508",
			ManagerID:      "alice",
			ManagerType:    engine.ManagerLive,
			CreatorID:      "c1",
			GrossAmount:    dec("2000"),
			Deductions:     dec("150"),
			Net:            dec("1850"),
			BaseCommission: dec("555.00"),
			CreatedAt:      now,
		}},
		Bonuses: []engine.Bonus{{
			ID:        "alice|202508|MILESTONE_S|c1",
			ManagerID: "alice",
			Period:    "202508",
			BatchID:   "b1",
			Type:      engine.BonusMilestoneS,
			Amount:    dec("75"),
			CreatedAt: now,
		}},
	}
	require.NoError(t, store.CommitChunk(ctx, chunk))

	txs, err := store.ListTransactions(ctx, "202508")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].GrossAmount.Equal(dec("2000")))
	assert.True(t, txs[0].BaseCommission.Equal(dec("555.00")))
	assert.Equal(t, engine.ManagerLive, txs[0].ManagerType)

	bonuses, err := store.ListBonuses(ctx, "202508")
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, engine.BonusMilestoneS, bonuses[0].Type)
}

func TestSQLite_CommitChunk_BonusIDConflict_Upserts(t *testing.T) {
	// GIVEN: A committed bonus with a deterministic id
	// WHEN: A later chunk carries the same id with a new amount
	// THEN: One row remains, holding the latest amount

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bonus := engine.Bonus{
		ID: "k1", ManagerID: "alice", Period: "202508", BatchID: "b1",
		Type: engine.BonusDownlineA, Amount: dec("30.00"), CreatedAt: now,
	}
	require.NoError(t, store.CommitChunk(ctx, engine.ChunkWrite{BatchID: "b1", Bonuses: []engine.Bonus{bonus}}))

	bonus.Amount = dec("45.00")
	require.NoError(t, store.CommitChunk(ctx, engine.ChunkWrite{BatchID: "b1", Bonuses: []engine.Bonus{bonus}}))

	bonuses, err := store.ListBonuses(ctx, "202508")
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.True(t, bonuses[0].Amount.Equal(dec("45.00")))
}

func TestSQLite_DeleteDownlineBonuses(t *testing.T) {
	// GIVEN: Downline bonuses for two batches plus a milestone and a manual
	//        bonus in the target batch's period
	// WHEN: Deleting one batch's downline bonuses
	// THEN: Only that batch's DOWNLINE_LEVEL_* rows disappear

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []engine.Bonus{
		{ID: "dl-b1", ManagerID: "team", Period: "202508", BatchID: "b1",
			Type: engine.BonusDownlineA, Amount: dec("30.00"), CreatedAt: now},
		{ID: "dl-b2", ManagerID: "team", Period: "202508", BatchID: "b2",
			Type: engine.BonusDownlineB, Amount: dec("22.50"), CreatedAt: now},
		{ID: "ms-b1", ManagerID: "alice", Period: "202508", BatchID: "b1",
			Type: engine.BonusMilestoneS, Amount: dec("75"), CreatedAt: now},
		{ID: "manual", ManagerID: "alice", Period: "202508",
			Type: engine.BonusRecruitment, Amount: dec("500"), CreatedAt: now},
	}
	for _, b := range seed {
		require.NoError(t, store.UpsertBonus(ctx, b))
	}

	require.NoError(t, store.DeleteDownlineBonuses(ctx, "202508", "b1"))

	bonuses, err := store.ListBonuses(ctx, "202508")
	require.NoError(t, err)
	ids := make([]string, 0, len(bonuses))
	for _, b := range bonuses {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []string{"dl-b2", "ms-b1", "manual"}, ids)
}

func TestSQLite_PurgeBatchData(t *testing.T) {
	// GIVEN: Two batches of data plus a manual (batch-less) bonus
	// WHEN: Purging one batch
	// THEN: Only its rows disappear; the manual bonus survives

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, batchID := range []engine.BatchID{"old", "new"} {
		require.NoError(t, store.CommitChunk(ctx, engine.ChunkWrite{
			BatchID: batchID,
			Transactions: []engine.Transaction{{
				ID: "tx-" + string(batchID), BatchID: batchID, Period: "202508",
				ManagerID: "alice", ManagerType: engine.ManagerLive, CreatorID: "c1",
				GrossAmount: dec("1000"), Net: dec("1000"), BaseCommission: dec("300.00"),
				CreatedAt: now,
			}},
			Bonuses: []engine.Bonus{{
				ID: "bonus-" + string(batchID), ManagerID: "alice", Period: "202508",
				BatchID: batchID, Type: engine.BonusMilestoneS, Amount: dec("75"), CreatedAt: now,
			}},
		}))
	}
	require.NoError(t, store.UpsertBonus(ctx, engine.Bonus{
		ID: "manual", ManagerID: "alice", Period: "202508",
		Type: engine.BonusRecruitment, Amount: dec("500"), CreatedAt: now,
	}))
	require.NoError(t, store.UpsertEarnings(ctx, engine.ManagerEarnings{
		ManagerID: "alice", Period: "202508", BatchID: "old",
		TotalEarnings: dec("375.00"), Status: engine.EarningsFinal, UpdatedAt: now,
	}))

	require.NoError(t, store.PurgeBatchData(ctx, "202508", []engine.BatchID{"old"}))

	txs, err := store.ListTransactions(ctx, "202508")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, engine.BatchID("new"), txs[0].BatchID)

	bonuses, err := store.ListBonuses(ctx, "202508")
	require.NoError(t, err)
	ids := make([]string, 0, len(bonuses))
	for _, b := range bonuses {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []string{"bonus-new", "manual"}, ids)

	_, err = store.GetEarnings(ctx, "alice", "202508")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// =============================================================================
// EARNINGS TESTS
// =============================================================================

func TestSQLite_UpsertEarnings_ReplacesOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := engine.ManagerEarnings{
		ManagerID: "alice", Period: "202508", BatchID: "b1",
		BaseCommission: dec("300.00"), TotalEarnings: dec("300.00"),
		TransactionCount: 1, CreatorCount: 1,
		Status: engine.EarningsFinal, UpdatedAt: now,
	}
	require.NoError(t, store.UpsertEarnings(ctx, e))

	e.TotalEarnings = dec("870.00")
	e.MilestonePayouts = dec("75.00")
	e.BatchID = "b2"
	require.NoError(t, store.UpsertEarnings(ctx, e))

	got, err := store.GetEarnings(ctx, "alice", "202508")
	require.NoError(t, err)
	assert.True(t, got.TotalEarnings.Equal(dec("870.00")))
	assert.Equal(t, engine.BatchID("b2"), got.BatchID)

	list, err := store.ListEarnings(ctx, "202508")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// =============================================================================
// GENEALOGY TESTS
// =============================================================================

func TestSQLite_SaveEdge_UpsertsByPair(t *testing.T) {
	// GIVEN: An edge for (team, live)
	// WHEN: Saving the pair again with a new level and a new id
	// THEN: One edge remains, keeping the stored identity with the new level

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.SaveEdge(ctx, engine.GenealogyEdge{
		ID: "e1", TeamManagerID: "team", LiveManagerID: "live",
		Level: engine.LevelA, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	second, err := store.SaveEdge(ctx, engine.GenealogyEdge{
		ID: "e2", TeamManagerID: "team", LiveManagerID: "live",
		Level: engine.LevelC, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the pair keeps its original edge id")
	assert.Equal(t, engine.LevelC, second.Level)

	edges, err := store.ListEdges(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestSQLite_SaveEdge_ValidatesStructure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveEdge(ctx, engine.GenealogyEdge{
		ID: "e1", TeamManagerID: "same", LiveManagerID: "same", Level: engine.LevelA,
	})
	assert.ErrorIs(t, err, engine.ErrSelfEdge)

	_, err = store.SaveEdge(ctx, engine.GenealogyEdge{
		ID: "e2", TeamManagerID: "team", LiveManagerID: "live", Level: "Z",
	})
	assert.ErrorIs(t, err, engine.ErrInvalidLevel)
}

func TestSQLite_DeleteEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	saved, err := store.SaveEdge(ctx, engine.GenealogyEdge{
		ID: "e1", TeamManagerID: "team", LiveManagerID: "live",
		Level: engine.LevelB, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteEdge(ctx, saved.ID))
	_, err = store.GetEdge(ctx, saved.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	err = store.DeleteEdge(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
