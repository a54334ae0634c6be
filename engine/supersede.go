/*
supersede.go - Single authoritative batch per period

PURPOSE:
  Before a new batch produces durable results for a period, every other batch
  for that period is retired: marked SUPERSEDED and inactive, and its derived
  rows (transactions, earnings, batch-scoped bonuses) purged. No query ever
  observes a mixed result set from two batches for the same period.

ORDERING:
  Runs strictly before the write pipeline. A supersession failure aborts the
  run before any new writes occur.

LIFETIME TOTALS:
  Retired earnings are subtracted from each manager's running lifetime total
  so the superseding batch's aggregation can add its own figures without
  double counting.

SEE ALSO:
  - processor.go: Invokes this between DOWNLOADING and PROCESSING
  - store.go:     SupersedeBatches / PurgeBatchData contracts
*/
package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// SupersederStore is the store surface supersession needs.
type SupersederStore interface {
	BatchStore
	LedgerStore
	EarningsStore
	IdentityStore
}

// Superseder retires prior batches for a period.
type Superseder struct {
	store  SupersederStore
	logger zerolog.Logger
}

func NewSuperseder(store SupersederStore, logger zerolog.Logger) *Superseder {
	return &Superseder{store: store, logger: logger}
}

// EnforceSingleActive marks every batch for the period other than newBatchID
// as SUPERSEDED and purges their derived data. Idempotent: with nothing to
// retire it is a no-op.
func (s *Superseder) EnforceSingleActive(ctx context.Context, period Period, newBatchID BatchID) error {
	retired, err := s.store.SupersedeBatches(ctx, period, newBatchID)
	if err != nil {
		return &SupersessionError{Period: period, Err: err}
	}
	if len(retired) == 0 {
		return nil
	}

	// Back the retired batches' earnings out of lifetime totals before the
	// rows disappear.
	earnings, err := s.store.ListEarnings(ctx, period)
	if err != nil {
		return &SupersessionError{Period: period, Err: err}
	}
	retiredSet := make(map[BatchID]bool, len(retired))
	for _, id := range retired {
		retiredSet[id] = true
	}
	for _, e := range earnings {
		if !retiredSet[e.BatchID] {
			continue
		}
		if err := s.store.AddToLifetimeTotal(ctx, e.ManagerID, e.TotalEarnings.Neg()); err != nil {
			return &SupersessionError{Period: period, Err: err}
		}
	}

	if err := s.store.PurgeBatchData(ctx, period, retired); err != nil {
		return &SupersessionError{Period: period, Err: err}
	}

	s.logger.Info().
		Str("period", string(period)).
		Str("batch_id", string(newBatchID)).
		Int("retired", len(retired)).
		Msg("prior batches superseded")
	return nil
}
