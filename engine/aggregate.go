/*
aggregate.go - Per-manager earnings roll-up for a period

PURPOSE:
  Scans the period's transactions and bonuses, groups by manager, and upserts
  one ManagerEarnings row per manager:

    baseCommission   = sum of per-row base commissions
    milestonePayouts = sum of MILESTONE_* bonus amounts
    extras           = sum of manual awards + DOWNLINE_LEVEL_* amounts
    totalEarnings    = baseCommission + milestonePayouts + extras

  plus gross/deduction/net sums, transaction count, and distinct creator
  count. Unknown (legacy) bonus types are ignored.

ORDERING:
  Runs strictly after the write pipeline for the batch and strictly after
  supersession has purged stale prior-batch rows; re-run after downline
  propagation so extras include the bonuses it wrote.

SEE ALSO:
  - downline.go:  Writes the DOWNLINE_LEVEL_* bonuses picked up here
  - processor.go: Sequencing
*/
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AggregatorStore is the store surface aggregation needs.
type AggregatorStore interface {
	LedgerStore
	EarningsStore
	IdentityStore
}

// Aggregator rolls up one period into ManagerEarnings rows.
type Aggregator struct {
	store  AggregatorStore
	logger zerolog.Logger
}

func NewAggregator(store AggregatorStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// accumulator collects one manager's figures during the scan.
type accumulator struct {
	base       decimal.Decimal
	milestones decimal.Decimal
	extras     decimal.Decimal
	gross      decimal.Decimal
	deductions decimal.Decimal
	net        decimal.Decimal
	txCount    int
	creators   map[CreatorID]bool
}

// Aggregate recomputes earnings for every manager with activity in the
// period and upserts the rows tagged with batchID. Returns the number of
// managers written.
func (a *Aggregator) Aggregate(ctx context.Context, batchID BatchID, period Period) (int, error) {
	txs, err := a.store.ListTransactions(ctx, period)
	if err != nil {
		return 0, err
	}
	bonuses, err := a.store.ListBonuses(ctx, period)
	if err != nil {
		return 0, err
	}

	acc := make(map[ManagerID]*accumulator)
	get := func(id ManagerID) *accumulator {
		m, ok := acc[id]
		if !ok {
			m = &accumulator{
				base:       decimal.Zero,
				milestones: decimal.Zero,
				extras:     decimal.Zero,
				gross:      decimal.Zero,
				deductions: decimal.Zero,
				net:        decimal.Zero,
				creators:   make(map[CreatorID]bool),
			}
			acc[id] = m
		}
		return m
	}

	for _, tx := range txs {
		m := get(tx.ManagerID)
		m.base = m.base.Add(tx.BaseCommission)
		m.gross = m.gross.Add(tx.GrossAmount)
		m.deductions = m.deductions.Add(tx.Deductions)
		m.net = m.net.Add(tx.Net)
		m.txCount++
		m.creators[tx.CreatorID] = true
	}

	for _, b := range bonuses {
		switch {
		case b.Type.IsMilestone():
			m := get(b.ManagerID)
			m.milestones = m.milestones.Add(b.Amount)
		case b.Type.IsExtra():
			m := get(b.ManagerID)
			m.extras = m.extras.Add(b.Amount)
		default:
			// Legacy/noise bonus kinds stay out of the totals.
		}
	}

	now := time.Now().UTC()
	for managerID, m := range acc {
		total := m.base.Add(m.milestones).Add(m.extras)

		// Lifetime total tracks the delta against whatever this period
		// previously held, so re-aggregation never double counts.
		previous := decimal.Zero
		if existing, err := a.store.GetEarnings(ctx, managerID, period); err == nil {
			previous = existing.TotalEarnings
		}

		e := ManagerEarnings{
			ManagerID:        managerID,
			Period:           period,
			BaseCommission:   Round2(m.base),
			MilestonePayouts: Round2(m.milestones),
			Extras:           Round2(m.extras),
			TotalEarnings:    Round2(total),
			TotalGross:       Round2(m.gross),
			TotalDeductions:  Round2(m.deductions),
			TotalNet:         Round2(m.net),
			TransactionCount: m.txCount,
			CreatorCount:     len(m.creators),
			BatchID:          batchID,
			Status:           EarningsFinal,
			UpdatedAt:        now,
		}
		if err := a.store.UpsertEarnings(ctx, e); err != nil {
			return 0, err
		}
		if delta := e.TotalEarnings.Sub(previous); !delta.IsZero() {
			if err := a.store.AddToLifetimeTotal(ctx, managerID, delta); err != nil {
				return 0, err
			}
		}
	}

	a.logger.Info().
		Str("batch_id", string(batchID)).
		Str("period", string(period)).
		Int("managers", len(acc)).
		Msg("earnings aggregated")
	return len(acc), nil
}
