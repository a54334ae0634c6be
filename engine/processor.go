/*
processor.go - Batch lifecycle orchestration

PURPOSE:
  Drives one batch through the persisted status machine:

    PENDING -> DOWNLOADING -> PROCESSING -> CALCULATING -> COMPLETED
                                   \-> FAILED (any step)

  DOWNLOADING loads rows from the batch's source. PROCESSING runs
  supersession then the chunked write pipeline. CALCULATING aggregates
  earnings, propagates downline commissions, then re-aggregates so extras
  include the freshly booked downline bonuses.

SINGLE FLOW:
  One logical sequence per batch, no internal row parallelism. Batches for
  different periods may run concurrently; same-period races are settled by
  the store's conditional TryBeginProcessing claim. There is no cancellation:
  a started batch runs to a terminal state.

FAILURE:
  Any step failure ends the batch FAILED with the captured message. There is
  no automatic retry; re-processing requires a fresh explicit trigger.

SEE ALSO:
  - pipeline.go, supersede.go, aggregate.go, downline.go: The steps
  - api: Exposes StartProcessing and the genealogy re-propagation trigger
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RowSource supplies a batch's rows. Implemented by the spreadsheet ingest
// layer; tests substitute fixtures.
type RowSource interface {
	Rows(ctx context.Context, batch *UploadBatch) ([]Row, error)
}

// RowSourceFunc adapts a function to RowSource.
type RowSourceFunc func(ctx context.Context, batch *UploadBatch) ([]Row, error)

func (f RowSourceFunc) Rows(ctx context.Context, batch *UploadBatch) ([]Row, error) {
	return f(ctx, batch)
}

// Processor orchestrates batch processing end to end.
type Processor struct {
	store  Store
	source RowSource
	logger zerolog.Logger
}

func NewProcessor(store Store, source RowSource, logger zerolog.Logger) *Processor {
	return &Processor{store: store, source: source, logger: logger}
}

// CreateBatch registers a new PENDING batch for the period.
func (p *Processor) CreateBatch(ctx context.Context, period Period, source string) (*UploadBatch, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	b := UploadBatch{
		ID:        BatchID(uuid.NewString()),
		Period:    period,
		Source:    source,
		Status:    BatchPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateBatch(ctx, b); err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("batch_id", string(b.ID)).
		Str("period", string(period)).
		Str("source", source).
		Msg("batch created")
	return &b, nil
}

// StartProcessing runs the full pipeline for the batch. A live or completed
// batch rejects the trigger (ErrBatchAlreadyProcessing / ErrBatchCompleted);
// callers treat that as a no-op, not a failure.
func (p *Processor) StartProcessing(ctx context.Context, batchID BatchID) error {
	if err := p.Claim(ctx, batchID); err != nil {
		return err
	}
	return p.Run(ctx, batchID)
}

// Claim performs only the atomic idempotency claim, letting callers reject a
// duplicate trigger synchronously and run the pipeline in the background.
func (p *Processor) Claim(ctx context.Context, batchID BatchID) error {
	return p.store.TryBeginProcessing(ctx, batchID)
}

// Run executes the pipeline against an already-claimed batch.
func (p *Processor) Run(ctx context.Context, batchID BatchID) error {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		p.fail(ctx, batchID, err)
		return err
	}

	logger := p.logger.With().
		Str("batch_id", string(batch.ID)).
		Str("period", string(batch.Period)).
		Logger()
	logger.Info().Msg("batch processing started")

	if err := p.run(ctx, batch, logger); err != nil {
		p.fail(ctx, batchID, err)
		logger.Error().Err(err).Msg("batch processing failed")
		return err
	}

	if err := p.store.UpdateBatchProgress(ctx, batchID, progressDone, batch.TotalRows, batch.ProcessedRows, batch.SkippedRows); err != nil {
		logger.Warn().Err(err).Msg("final progress update failed")
	}
	if err := p.store.EndProcessing(ctx, batchID, BatchCompleted, ""); err != nil {
		return err
	}
	logger.Info().Msg("batch processing completed")
	return nil
}

// run executes the pipeline steps against an already-claimed batch.
// The batch struct is updated in place with the row counters.
func (p *Processor) run(ctx context.Context, batch *UploadBatch, logger zerolog.Logger) error {
	// DOWNLOADING: pull rows from the source.
	rows, err := p.source.Rows(ctx, batch)
	if err != nil {
		return fmt.Errorf("loading rows: %w", err)
	}
	if err := p.store.UpdateBatchProgress(ctx, batch.ID, progressLoaded, len(rows), 0, 0); err != nil {
		return err
	}
	logger.Info().Int("rows", len(rows)).Msg("rows loaded")

	// PROCESSING: retire prior batches, then write this one.
	if err := p.store.SetBatchStatus(ctx, batch.ID, BatchProcessing); err != nil {
		return err
	}
	superseder := NewSuperseder(p.store, logger)
	if err := superseder.EnforceSingleActive(ctx, batch.Period, batch.ID); err != nil {
		return err
	}

	resolver := NewResolver(p.store, logger)
	pipeline := NewPipeline(p.store, resolver, logger)
	result, err := pipeline.Process(ctx, batch, rows)
	if err != nil {
		return err
	}
	batch.TotalRows = len(rows)
	batch.ProcessedRows = result.Processed
	batch.SkippedRows = result.Skipped

	// CALCULATING: aggregate, propagate, fold the downline bonuses back in.
	if err := p.store.SetBatchStatus(ctx, batch.ID, BatchCalculating); err != nil {
		return err
	}
	aggregator := NewAggregator(p.store, logger)
	if _, err := aggregator.Aggregate(ctx, batch.ID, batch.Period); err != nil {
		return fmt.Errorf("aggregating earnings: %w", err)
	}
	if err := p.store.UpdateBatchProgress(ctx, batch.ID, progressAggregated, batch.TotalRows, result.Processed, result.Skipped); err != nil {
		return err
	}

	propagator := NewPropagator(p.store, logger)
	written, err := propagator.Propagate(ctx, batch.Period, batch.ID)
	if err != nil {
		return fmt.Errorf("propagating downline commissions: %w", err)
	}
	if written > 0 {
		if _, err := aggregator.Aggregate(ctx, batch.ID, batch.Period); err != nil {
			return fmt.Errorf("refreshing earnings: %w", err)
		}
	}
	return p.store.UpdateBatchProgress(ctx, batch.ID, progressPropagated, batch.TotalRows, result.Processed, result.Skipped)
}

// fail records a FAILED outcome; best effort, the original error wins.
func (p *Processor) fail(ctx context.Context, batchID BatchID, cause error) {
	if err := p.store.EndProcessing(ctx, batchID, BatchFailed, cause.Error()); err != nil {
		p.logger.Error().
			Str("batch_id", string(batchID)).
			Err(err).
			Msg("could not record batch failure")
	}
}

// Repropagate re-evaluates downline commissions for the period's active
// batch and refreshes earnings. Triggered by genealogy mutations. A period
// with no active batch is a no-op.
func (p *Processor) Repropagate(ctx context.Context, period Period) error {
	batches, err := p.store.ListBatches(ctx, period)
	if err != nil {
		return err
	}
	var active *UploadBatch
	for i := range batches {
		if batches[i].IsActive && batches[i].Status == BatchCompleted {
			active = &batches[i]
			break
		}
	}
	if active == nil {
		return nil
	}

	propagator := NewPropagator(p.store, p.logger)
	if _, err := propagator.Propagate(ctx, period, active.ID); err != nil {
		return err
	}
	aggregator := NewAggregator(p.store, p.logger)
	_, err = aggregator.Aggregate(ctx, active.ID, period)
	return err
}

// AwardBonus books a manual extra (recruitment, graduation, diamond) for a
// manager. The id is deterministic on (manager, period, type, reference) so
// a repeated award with the same reference updates rather than duplicates.
func (p *Processor) AwardBonus(ctx context.Context, managerID ManagerID, period Period, t BonusType, amount decimal.Decimal, reference string) (*Bonus, error) {
	switch t {
	case BonusRecruitment, BonusGraduation, BonusDiamond:
	default:
		return nil, fmt.Errorf("%w: %q is not a manual award", ErrInvalidBonusType, t)
	}
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if _, err := p.store.GetManager(ctx, managerID); err != nil {
		return nil, err
	}

	b := Bonus{
		ID:        BonusKey(managerID, period, t, reference),
		ManagerID: managerID,
		Period:    period,
		Type:      t,
		Amount:    Round2(amount),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.UpsertBonus(ctx, b); err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("manager_id", string(managerID)).
		Str("period", string(period)).
		Str("type", string(t)).
		Str("amount", b.Amount.String()).
		Msg("manual bonus awarded")

	// Fold the award into the period's earnings when one exists.
	if err := p.refreshEarnings(ctx, period); err != nil {
		return nil, err
	}
	return &b, nil
}

// ClearBatch purges a batch's derived rows and marks it CLEARED.
func (p *Processor) ClearBatch(ctx context.Context, batchID BatchID) error {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.Live() {
		return ErrBatchAlreadyProcessing
	}

	earnings, err := p.store.ListEarnings(ctx, batch.Period)
	if err != nil {
		return err
	}
	for _, e := range earnings {
		if e.BatchID != batch.ID {
			continue
		}
		if err := p.store.AddToLifetimeTotal(ctx, e.ManagerID, e.TotalEarnings.Neg()); err != nil {
			return err
		}
	}
	if err := p.store.PurgeBatchData(ctx, batch.Period, []BatchID{batch.ID}); err != nil {
		return err
	}
	if err := p.store.SetBatchInactive(ctx, batch.ID); err != nil {
		return err
	}
	if err := p.store.EndProcessing(ctx, batch.ID, BatchCleared, ""); err != nil {
		return err
	}
	p.logger.Info().
		Str("batch_id", string(batch.ID)).
		Str("period", string(batch.Period)).
		Msg("batch cleared")
	return nil
}

// refreshEarnings re-aggregates the period against its active completed
// batch, if any.
func (p *Processor) refreshEarnings(ctx context.Context, period Period) error {
	batches, err := p.store.ListBatches(ctx, period)
	if err != nil {
		return err
	}
	for i := range batches {
		if batches[i].IsActive && batches[i].Status == BatchCompleted {
			aggregator := NewAggregator(p.store, p.logger)
			_, err := aggregator.Aggregate(ctx, batches[i].ID, period)
			return err
		}
	}
	return nil
}
