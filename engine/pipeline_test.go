package engine_test

import (
	"context"
	"errors"
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

func newTestBatch(t *testing.T, mem *store.Memory, period engine.Period) *engine.UploadBatch {
	t.Helper()
	now := time.Now().UTC()
	b := engine.UploadBatch{
		ID:        engine.BatchID("batch-" + string(period)),
		Period:    period,
		Source:    "test.xlsx",
		Status:    engine.BatchProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, mem.CreateBatch(context.Background(), b))
	return &b
}

func newTestPipeline(mem *store.Memory) *engine.Pipeline {
	resolver := engine.NewResolver(mem, zerolog.Nop())
	return engine.NewPipeline(mem, resolver, zerolog.Nop())
}

func liveRow(period engine.Period, manager, creator, gross string, milestones map[engine.MilestoneKind]string) engine.Row {
	return engine.Row{
		Period:       period,
		ManagerLabel: manager,
		ManagerType:  engine.ManagerLive,
		CreatorLabel: creator,
		GrossRaw:     gross,
		Milestones:   milestones,
	}
}

// failingChunkStore rejects every chunk commit.
type failingChunkStore struct {
	*store.Memory
}

func (f *failingChunkStore) CommitChunk(context.Context, engine.ChunkWrite) error {
	return errors.New("disk on fire")
}

// =============================================================================
// PIPELINE TESTS
// =============================================================================

func TestPipeline_WritesTransactionsAndMilestoneBonuses(t *testing.T) {
	// GIVEN: Two valid rows, one with a milestone
	// WHEN: Processing the batch
	// THEN: Two transactions and one bonus land, progress reaches 80

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")
	batch := newTestBatch(t, mem, period)

	rows := []engine.Row{
		liveRow(period, "Alice", "Creator One", "2000", map[engine.MilestoneKind]string{engine.MilestoneS: "150"}),
		liveRow(period, "Alice", "Creator Two", "800", nil),
	}

	res, err := newTestPipeline(mem).Process(ctx, batch, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Skipped)

	txs, err := mem.ListTransactions(ctx, period)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, batch.ID, tx.BatchID)
		assert.Equal(t, period, tx.Period)
	}

	bonuses, err := mem.ListBonuses(ctx, period)
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, engine.BonusMilestoneS, bonuses[0].Type)
	assert.True(t, bonuses[0].Amount.Equal(dec("75")))

	got, err := mem.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.Progress)
	assert.Equal(t, 2, got.ProcessedRows)
}

func TestPipeline_SkipsBadRows(t *testing.T) {
	// GIVEN: Rows with unparsable gross, zero gross, and a blank manager label
	// WHEN: Processing
	// THEN: Bad rows are counted as skipped, the good row still lands

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")
	batch := newTestBatch(t, mem, period)

	rows := []engine.Row{
		liveRow(period, "Alice", "C1", "not-a-number", nil),
		liveRow(period, "Alice", "C2", "0", nil),
		liveRow(period, "  ", "C3", "500", nil),
		liveRow(period, "Alice", "C4", "1000", nil),
	}

	res, err := newTestPipeline(mem).Process(ctx, batch, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 3, res.Skipped)

	txs, err := mem.ListTransactions(ctx, period)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].BaseCommission.Equal(dec("300.00")))
}

func TestPipeline_ChunksLargeUploads(t *testing.T) {
	// GIVEN: More rows than one chunk holds
	// WHEN: Processing
	// THEN: Every row lands and counters add up across chunk boundaries

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")
	batch := newTestBatch(t, mem, period)

	var rows []engine.Row
	for i := 0; i < engine.ChunkSize*2+7; i++ {
		rows = append(rows, liveRow(period, "Alice", "C"+string(rune('a'+i%26))+string(rune('a'+i/26)), "100", nil))
	}

	res, err := newTestPipeline(mem).Process(ctx, batch, rows)
	require.NoError(t, err)
	assert.Equal(t, len(rows), res.Processed)

	txs, err := mem.ListTransactions(ctx, period)
	require.NoError(t, err)
	assert.Len(t, txs, len(rows))
}

func TestPipeline_DuplicateMilestoneSighting_PaysOnce(t *testing.T) {
	// GIVEN: The same (manager, creator, milestone) appears on two rows
	// WHEN: Processing
	// THEN: Both transactions land but the milestone bonus is booked once

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")
	batch := newTestBatch(t, mem, period)

	milestone := map[engine.MilestoneKind]string{engine.MilestoneN: "300"}
	rows := []engine.Row{
		liveRow(period, "Alice", "Creator One", "1000", milestone),
		liveRow(period, "Alice", "Creator One", "1200", milestone),
	}

	_, err := newTestPipeline(mem).Process(ctx, batch, rows)
	require.NoError(t, err)

	txs, err := mem.ListTransactions(ctx, period)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	bonuses, err := mem.ListBonuses(ctx, period)
	require.NoError(t, err)
	require.Len(t, bonuses, 1, "same milestone for the same creator upserts, not duplicates")
	assert.True(t, bonuses[0].Amount.Equal(dec("150")))
}

func TestPipeline_CommitFailure_AbortsBatch(t *testing.T) {
	// GIVEN: A store that rejects chunk commits
	// WHEN: Processing
	// THEN: The pipeline surfaces a chunk commit error

	mem := store.NewMemory()
	ctx := context.Background()
	period := engine.Period("202508")
	batch := newTestBatch(t, mem, period)

	failing := &failingChunkStore{Memory: mem}
	resolver := engine.NewResolver(mem, zerolog.Nop())
	pipeline := engine.NewPipeline(failing, resolver, zerolog.Nop())

	_, err := pipeline.Process(ctx, batch, []engine.Row{
		liveRow(period, "Alice", "C1", "1000", nil),
	})
	require.Error(t, err)

	var commitErr *engine.ChunkCommitError
	assert.ErrorAs(t, err, &commitErr)
	assert.Equal(t, batch.ID, commitErr.BatchID)
}
