/*
downline.go - Hierarchy commission propagation

PURPOSE:
  For every genealogy edge (team, live, level): sum the live manager's base
  commission across the period's transactions, multiply by the level's rate,
  and book the result as a DOWNLINE_LEVEL_{level} bonus onto the team manager
  with relatedManagerId = live.

NO GRAPH TRAVERSAL:
  Each edge is evaluated independently from the direct descendant's own base
  commission. Multi-level roll-ups require the hierarchy to be enumerated as
  direct edges at the correct level; depth is never inferred.

IDEMPOTENCY:
  Each run first deletes the batch's existing downline bonuses for the
  period, then books from the current edge set. Re-runs after an edge is
  re-leveled or deleted therefore converge on exactly one payout per
  surviving (team, live) pair and zero for removed pairs.

SEE ALSO:
  - aggregate.go: Re-run after propagation folds these bonuses into extras
  - types.go:     DownlineRate table
*/
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PropagatorStore is the store surface propagation needs.
type PropagatorStore interface {
	LedgerStore
	GenealogyStore
}

// Propagator books level-weighted downline commissions onto ancestors.
type Propagator struct {
	store  PropagatorStore
	logger zerolog.Logger
}

func NewPropagator(store PropagatorStore, logger zerolog.Logger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// Propagate evaluates every genealogy edge against the period's transactions.
// Runs after aggregation so descendant base commissions are final. Returns
// the number of bonuses written.
func (p *Propagator) Propagate(ctx context.Context, period Period, batchID BatchID) (int, error) {
	// Clear this batch's prior downline payouts so the run reflects only
	// the current edge set. An edge re-leveled since the last run would
	// otherwise leave both levels' bonuses in place.
	if err := p.store.DeleteDownlineBonuses(ctx, period, batchID); err != nil {
		return 0, err
	}

	edges, err := p.store.ListEdges(ctx)
	if err != nil {
		return 0, err
	}
	if len(edges) == 0 {
		return 0, nil
	}

	txs, err := p.store.ListTransactions(ctx, period)
	if err != nil {
		return 0, err
	}
	baseByManager := make(map[ManagerID]decimal.Decimal)
	for _, tx := range txs {
		baseByManager[tx.ManagerID] = baseByManager[tx.ManagerID].Add(tx.BaseCommission)
	}

	written := 0
	now := time.Now().UTC()
	for _, edge := range edges {
		rate, err := DownlineRate(edge.Level)
		if err != nil {
			return written, err
		}
		base, ok := baseByManager[edge.LiveManagerID]
		if !ok {
			continue
		}
		amount := Round2(base.Mul(rate))
		if !amount.IsPositive() {
			continue
		}

		bt := DownlineBonusType(edge.Level)
		b := Bonus{
			ID:               BonusKey(edge.TeamManagerID, period, bt, string(edge.LiveManagerID)),
			ManagerID:        edge.TeamManagerID,
			Period:           period,
			BatchID:          batchID,
			Type:             bt,
			Amount:           amount,
			RelatedManagerID: edge.LiveManagerID,
			CreatedAt:        now,
		}
		if err := p.store.UpsertBonus(ctx, b); err != nil {
			return written, err
		}
		written++
		p.logger.Debug().
			Str("team_manager", string(edge.TeamManagerID)).
			Str("live_manager", string(edge.LiveManagerID)).
			Str("level", string(edge.Level)).
			Str("amount", amount.String()).
			Msg("downline bonus booked")
	}

	p.logger.Info().
		Str("period", string(period)).
		Int("edges", len(edges)).
		Int("bonuses", written).
		Msg("downline propagation complete")
	return written, nil
}
