/*
calculator.go - Pure per-row commission math

PURPOSE:
  Computes everything a single revenue row yields, with no I/O:
  milestone deductions, net-for-commission, base commission, and the fixed
  milestone bonus amounts.

INVARIANTS:
  net  = max(0, gross - sum of deductions for achieved milestones)
  base = round2(net * rate(managerType)), rate LIVE=0.30 TEAM=0.35
  bonus[k] = fixed table value iff k achieved, else absent

  Rows with gross <= 0 are rejected with ErrNonPositiveGross; callers skip
  them rather than failing the batch.

SEE ALSO:
  - types.go:    Deduction, rate, and bonus tables
  - pipeline.go: Turns results into Transaction/Bonus writes
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// RowResult is the computed outcome of one revenue row.
type RowResult struct {
	GrossAmount    decimal.Decimal
	Deductions     decimal.Decimal
	Net            decimal.Decimal
	BaseCommission decimal.Decimal
	// MilestoneBonuses holds only achieved kinds; absent means zero.
	MilestoneBonuses map[MilestoneKind]decimal.Decimal
}

// CalculateRow computes deductions, net, base commission, and milestone
// bonuses for one row. Pure: same inputs, same outputs, no side effects.
func CalculateRow(gross decimal.Decimal, achieved map[MilestoneKind]bool, t ManagerType) (RowResult, error) {
	if gross.LessThanOrEqual(decimal.Zero) {
		return RowResult{}, ErrNonPositiveGross
	}

	deductions := decimal.Zero
	bonuses := make(map[MilestoneKind]decimal.Decimal)
	for _, k := range MilestoneKinds {
		if !achieved[k] {
			continue
		}
		deductions = deductions.Add(MilestoneDeduction(k))
		bonuses[k] = MilestoneBonus(t, k)
	}

	net := gross.Sub(deductions)
	if net.IsNegative() {
		net = decimal.Zero
	}

	return RowResult{
		GrossAmount:      gross,
		Deductions:       deductions,
		Net:              net,
		BaseCommission:   Round2(net.Mul(CommissionRate(t))),
		MilestoneBonuses: bonuses,
	}, nil
}
