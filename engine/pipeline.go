/*
pipeline.go - Chunked, atomic persistence of computed rows

PURPOSE:
  Walks the upload's rows in fixed-size chunks. For each chunk: resolve
  identities, compute commissions, build Transaction + milestone Bonus writes,
  commit the chunk as one atomic group, then update the batch's progress.

FAILURE SEMANTICS:
  - Row-level data errors (blank labels, unparsable or non-positive gross)
    are logged, counted, and skipped. The batch continues.
  - Identity-resolution errors (store unavailable) abort the chunk and the
    batch.
  - A chunk commit failure aborts the batch. Committed chunks persist; the
    batch is resumable at chunk granularity only.

CHUNK SIZE:
  50 rows per chunk. A row yields one transaction and at most four milestone
  bonuses, so a write group stays within 250 operations.

SEE ALSO:
  - calculator.go: Per-row math
  - resolver.go:   Identity cache
  - processor.go:  Maps pipeline failure onto batch status FAILED
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChunkSize bounds one atomic write group.
const ChunkSize = 50

// Progress checkpoints. The pipeline owns the span between loading the rows
// and the calculating phase.
const (
	progressLoaded       = 5
	progressPipelineDone = 80
	progressAggregated   = 90
	progressPropagated   = 95
	progressDone         = 100
)

// PipelineStore is the store surface the pipeline needs.
type PipelineStore interface {
	LedgerStore
	UpdateBatchProgress(ctx context.Context, id BatchID, progress, total, processed, skipped int) error
}

// Pipeline persists computed rows for one batch.
type Pipeline struct {
	store    PipelineStore
	resolver *Resolver
	logger   zerolog.Logger
}

func NewPipeline(store PipelineStore, resolver *Resolver, logger zerolog.Logger) *Pipeline {
	return &Pipeline{store: store, resolver: resolver, logger: logger}
}

// PipelineResult reports row counters for the finished batch.
type PipelineResult struct {
	Processed int
	Skipped   int
}

// Process computes and commits all rows for the batch. Rows must already be
// scoped to the batch's period; supersession must have run before this.
func (p *Pipeline) Process(ctx context.Context, batch *UploadBatch, rows []Row) (PipelineResult, error) {
	var res PipelineResult
	total := len(rows)

	for chunkIdx, start := 0, 0; start < total; chunkIdx, start = chunkIdx+1, start+ChunkSize {
		end := start + ChunkSize
		if end > total {
			end = total
		}

		chunk := ChunkWrite{BatchID: batch.ID}
		for i := start; i < end; i++ {
			tx, bonuses, err := p.buildRow(ctx, batch, rows[i])
			if err != nil {
				if IsRowError(err) {
					res.Skipped++
					p.logger.Warn().
						Str("batch_id", string(batch.ID)).
						Int("row", i).
						Err(err).
						Msg("row skipped")
					continue
				}
				// Resolution/store failure: fatal for the batch.
				return res, &RowError{Index: i, Err: err}
			}
			chunk.Transactions = append(chunk.Transactions, tx)
			chunk.Bonuses = append(chunk.Bonuses, bonuses...)
		}

		if len(chunk.Transactions) > 0 || len(chunk.Bonuses) > 0 {
			if err := p.store.CommitChunk(ctx, chunk); err != nil {
				return res, &ChunkCommitError{BatchID: batch.ID, Chunk: chunkIdx, Err: err}
			}
		}
		res.Processed += len(chunk.Transactions)

		progress := progressLoaded
		if total > 0 {
			progress += (end * (progressPipelineDone - progressLoaded)) / total
		}
		if err := p.store.UpdateBatchProgress(ctx, batch.ID, progress, total, res.Processed, res.Skipped); err != nil {
			return res, err
		}
		p.logger.Debug().
			Str("batch_id", string(batch.ID)).
			Int("chunk", chunkIdx).
			Int("transactions", len(chunk.Transactions)).
			Int("bonuses", len(chunk.Bonuses)).
			Int("progress", progress).
			Msg("chunk committed")
	}

	return res, nil
}

// buildRow turns one row into its writes. Returns a row-level error (see
// IsRowError) when the row should be skipped.
func (p *Pipeline) buildRow(ctx context.Context, batch *UploadBatch, row Row) (Transaction, []Bonus, error) {
	gross, err := row.Gross()
	if err != nil {
		return Transaction{}, nil, err
	}

	result, err := CalculateRow(gross, row.Achieved(), row.ManagerType)
	if err != nil {
		return Transaction{}, nil, err
	}

	managerID, err := p.resolver.ResolveManager(ctx, row.ManagerLabel, row.ManagerType)
	if err != nil {
		return Transaction{}, nil, err
	}
	creatorID, err := p.resolver.ResolveCreator(ctx, row.CreatorLabel)
	if err != nil {
		return Transaction{}, nil, err
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:             uuid.NewString(),
		BatchID:        batch.ID,
		Period:         batch.Period,
		ManagerID:      managerID,
		ManagerType:    row.ManagerType,
		CreatorID:      creatorID,
		GrossAmount:    Round2(result.GrossAmount),
		Deductions:     Round2(result.Deductions),
		Net:            Round2(result.Net),
		BaseCommission: result.BaseCommission,
		CreatedAt:      now,
	}

	var bonuses []Bonus
	for _, k := range MilestoneKinds {
		amount, ok := result.MilestoneBonuses[k]
		if !ok {
			continue
		}
		bt := MilestoneBonusType(k)
		bonuses = append(bonuses, Bonus{
			// Keyed by creator: a repeated (manager, creator, milestone)
			// sighting within the period overwrites the identical payout
			// instead of paying twice.
			ID:        BonusKey(managerID, batch.Period, bt, string(creatorID)),
			ManagerID: managerID,
			Period:    batch.Period,
			BatchID:   batch.ID,
			Type:      bt,
			Amount:    Round2(amount),
			CreatedAt: now,
		})
	}
	return tx, bonuses, nil
}
