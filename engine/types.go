/*
Package engine implements the commission calculation and batch processing core.

PURPOSE:
  Ingests spreadsheet rows describing creator revenue and computes commission
  payouts for two tiers of manager (LIVE and TEAM): per-row base commission,
  milestone bonuses, manual extras, and multi-level downline commissions
  propagated along the manager genealogy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period:          A calendar month (YYYYMM) scoping one commission cycle
  - Manager/Creator: Canonical identities resolved from raw spreadsheet labels
  - UploadBatch:     One submission of rows for a period, with a status machine
  - Transaction:     Immutable per-row record of the computed commission
  - Bonus:           Milestone, extra, or downline payout (deterministic IDs)
  - ManagerEarnings: One roll-up row per (manager, period)
  - GenealogyEdge:   team → live relation carrying a downline level

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Immutability: Transactions and per-row Bonuses are written once
  3. Single authority: exactly one UploadBatch is active per period
  4. Determinism: recalculation-prone bonuses use composed keys, not UUIDs

SEE ALSO:
  - calculator.go: Pure per-row commission math
  - processor.go:  Batch lifecycle orchestration
  - store.go:      Persistence interfaces
*/
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ManagerID string
	CreatorID string
	BatchID   string
	EdgeID    string
)

// =============================================================================
// PERIOD - Calendar month (YYYYMM)
// =============================================================================

// Period identifies one commission cycle, e.g. "202508".
type Period string

// ParsePeriod validates a YYYYMM string.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || year < 2000 || year > 2999 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	month, err := strconv.Atoi(s[4:])
	if err != nil || month < 1 || month > 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period(s), nil
}

// CurrentPeriod returns the period containing t.
func CurrentPeriod(t time.Time) Period {
	return Period(t.Format("200601"))
}

func (p Period) String() string { return string(p) }

// =============================================================================
// MANAGER TYPES AND RATE TABLES
// =============================================================================

// ManagerType determines the commission rate and milestone payout table.
type ManagerType string

const (
	ManagerLive ManagerType = "LIVE"
	ManagerTeam ManagerType = "TEAM"
)

// CommissionRate returns the manager's cut of net revenue.
// LIVE managers earn 30%, TEAM managers 35%.
func CommissionRate(t ManagerType) decimal.Decimal {
	if t == ManagerTeam {
		return decimal.NewFromFloat(0.35)
	}
	return decimal.NewFromFloat(0.30)
}

// MilestoneKind is a discrete achievement signal on a row.
type MilestoneKind string

const (
	MilestoneS MilestoneKind = "S"
	MilestoneN MilestoneKind = "N"
	MilestoneO MilestoneKind = "O"
	MilestoneP MilestoneKind = "P"
)

// MilestoneKinds lists all kinds in a stable order.
var MilestoneKinds = []MilestoneKind{MilestoneS, MilestoneN, MilestoneO, MilestoneP}

// MilestoneDeduction is the fixed amount removed from gross when the
// milestone is achieved, before the commission base is computed.
func MilestoneDeduction(k MilestoneKind) decimal.Decimal {
	switch k {
	case MilestoneS:
		return decimal.NewFromInt(150)
	case MilestoneN:
		return decimal.NewFromInt(300)
	case MilestoneO:
		return decimal.NewFromInt(1000)
	case MilestoneP:
		return decimal.NewFromInt(240)
	}
	return decimal.Zero
}

// MilestoneBonus is the fixed payout for an achieved milestone. The amount
// depends on the manager type, never on the row magnitude.
func MilestoneBonus(t ManagerType, k MilestoneKind) decimal.Decimal {
	live := t != ManagerTeam
	switch k {
	case MilestoneS:
		if live {
			return decimal.NewFromInt(75)
		}
		return decimal.NewFromInt(80)
	case MilestoneN:
		if live {
			return decimal.NewFromInt(150)
		}
		return decimal.NewFromInt(165)
	case MilestoneO:
		if live {
			return decimal.NewFromInt(400)
		}
		return decimal.NewFromInt(450)
	case MilestoneP:
		if live {
			return decimal.NewFromInt(100)
		}
		return decimal.NewFromInt(120)
	}
	return decimal.Zero
}

// =============================================================================
// DOWNLINE LEVELS
// =============================================================================

// DownlineLevel weights how much of a live manager's base commission flows
// to the team manager on a genealogy edge.
type DownlineLevel string

const (
	LevelA DownlineLevel = "A"
	LevelB DownlineLevel = "B"
	LevelC DownlineLevel = "C"
)

// DownlineRate returns the share of the descendant's base commission booked
// onto the ancestor: A=10%, B=7.5%, C=5%.
func DownlineRate(l DownlineLevel) (decimal.Decimal, error) {
	switch l {
	case LevelA:
		return decimal.NewFromFloat(0.10), nil
	case LevelB:
		return decimal.NewFromFloat(0.075), nil
	case LevelC:
		return decimal.NewFromFloat(0.05), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidLevel, l)
}

// =============================================================================
// BONUS TYPES
// =============================================================================

type BonusType string

const (
	BonusMilestoneS BonusType = "MILESTONE_S"
	BonusMilestoneN BonusType = "MILESTONE_N"
	BonusMilestoneO BonusType = "MILESTONE_O"
	BonusMilestoneP BonusType = "MILESTONE_P"

	BonusRecruitment BonusType = "RECRUITMENT_BONUS"
	BonusGraduation  BonusType = "GRADUATION_BONUS"
	BonusDiamond     BonusType = "DIAMOND_BONUS"

	BonusDownlineA BonusType = "DOWNLINE_LEVEL_A"
	BonusDownlineB BonusType = "DOWNLINE_LEVEL_B"
	BonusDownlineC BonusType = "DOWNLINE_LEVEL_C"
)

// MilestoneBonusType maps a milestone kind to its bonus record type.
func MilestoneBonusType(k MilestoneKind) BonusType {
	return BonusType("MILESTONE_" + string(k))
}

// DownlineBonusType maps a genealogy level to its bonus record type.
func DownlineBonusType(l DownlineLevel) BonusType {
	return BonusType("DOWNLINE_LEVEL_" + string(l))
}

// IsMilestone reports whether the bonus is a fixed milestone payout.
func (t BonusType) IsMilestone() bool {
	return strings.HasPrefix(string(t), "MILESTONE_")
}

// IsDownline reports whether the bonus is a propagated hierarchy commission.
func (t BonusType) IsDownline() bool {
	return strings.HasPrefix(string(t), "DOWNLINE_LEVEL_")
}

// IsExtra reports whether the bonus counts toward a manager's extras:
// manual awards and downline commissions.
func (t BonusType) IsExtra() bool {
	switch t {
	case BonusRecruitment, BonusGraduation, BonusDiamond,
		BonusDownlineA, BonusDownlineB, BonusDownlineC:
		return true
	}
	return false
}

// Known reports whether the type participates in aggregation at all.
// Unknown (legacy) types are ignored by the aggregator, not failed on.
func (t BonusType) Known() bool {
	return t.IsMilestone() || t.IsExtra()
}

// BonusKey composes the deterministic Bonus ID used for payouts that may be
// recalculated: the same (manager, period, type, context) always produces the
// same ID, so a re-run upserts instead of appending a duplicate.
func BonusKey(manager ManagerID, period Period, t BonusType, context string) string {
	return fmt.Sprintf("%s|%s|%s|%s", manager, period, t, context)
}

// =============================================================================
// BATCH STATUS MACHINE
// =============================================================================

// BatchStatus is the persisted state of an UploadBatch. The processing
// pipeline moves a batch forward through the live states; COMPLETED, FAILED,
// SUPERSEDED and CLEARED are terminal.
type BatchStatus string

const (
	BatchPending     BatchStatus = "PENDING"
	BatchDownloading BatchStatus = "DOWNLOADING"
	BatchProcessing  BatchStatus = "PROCESSING"
	BatchCalculating BatchStatus = "CALCULATING"
	BatchCompleted   BatchStatus = "COMPLETED"
	BatchFailed      BatchStatus = "FAILED"
	BatchSuperseded  BatchStatus = "SUPERSEDED"
	BatchCleared     BatchStatus = "CLEARED"
)

// Live reports whether the batch is mid-pipeline. A live batch rejects a
// duplicate processing trigger.
func (s BatchStatus) Live() bool {
	switch s {
	case BatchDownloading, BatchProcessing, BatchCalculating:
		return true
	}
	return false
}

// Terminal reports whether the batch can never be processed again
// without an explicit fresh trigger.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchSuperseded, BatchCleared:
		return true
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

// Manager is a canonical payout recipient. Created on first sighting of a
// handle not yet known; the commission rate is derived from Type, never
// stored.
type Manager struct {
	ID            ManagerID
	Handle        string // normalized, unique
	DisplayName   string
	Type          ManagerType
	LifetimeTotal decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Creator is a canonical revenue source. Carries no financial rate.
type Creator struct {
	ID          CreatorID
	Handle      string // normalized, unique
	DisplayName string
	CreatedAt   time.Time
}

// UploadBatch is one submission of rows for a period.
// At most one batch per period holds IsActive=true.
type UploadBatch struct {
	ID            BatchID
	Period        Period
	Source        string // where the rows come from (spooled file path)
	Status        BatchStatus
	Progress      int // 0-100
	TotalRows     int
	ProcessedRows int
	SkippedRows   int
	IsActive      bool
	IsProcessing  bool // idempotency guard, cleared on terminal status
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Transaction is the immutable per-row commission record.
type Transaction struct {
	ID             string
	BatchID        BatchID
	Period         Period
	ManagerID      ManagerID
	ManagerType    ManagerType
	CreatorID      CreatorID
	GrossAmount    decimal.Decimal
	Deductions     decimal.Decimal
	Net            decimal.Decimal // net-for-commission
	BaseCommission decimal.Decimal
	CreatedAt      time.Time
}

// Bonus is a payout beyond base commission. Batch-scoped bonuses (milestones,
// downline) carry the producing BatchID; manual extras leave it empty and
// survive supersession.
type Bonus struct {
	ID               string
	ManagerID        ManagerID
	Period           Period
	BatchID          BatchID // empty for manual awards
	Type             BonusType
	Amount           decimal.Decimal
	RelatedManagerID ManagerID // downline only: the descendant that earned it
	CreatedAt        time.Time
}

// EarningsStatus marks whether an earnings row reflects a finished run.
type EarningsStatus string

const (
	EarningsFinal EarningsStatus = "FINAL"
)

// ManagerEarnings is the per-(manager, period) roll-up read by reporting.
// Replaced by upsert once per successful processing run.
type ManagerEarnings struct {
	ManagerID        ManagerID
	Period           Period
	BaseCommission   decimal.Decimal
	MilestonePayouts decimal.Decimal
	Extras           decimal.Decimal
	TotalEarnings    decimal.Decimal // base + milestones + extras
	TotalGross       decimal.Decimal
	TotalDeductions  decimal.Decimal
	TotalNet         decimal.Decimal
	TransactionCount int
	CreatorCount     int
	BatchID          BatchID
	Status           EarningsStatus
	UpdatedAt        time.Time
}

// GenealogyEdge is a directed relation: the team manager receives a share of
// the live manager's base commission at the edge's level. Self-edges are
// forbidden; at most one edge exists per (team, live) pair.
type GenealogyEdge struct {
	ID            EdgeID
	TeamManagerID ManagerID
	LiveManagerID ManagerID
	Level         DownlineLevel
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks the edge's structural invariants.
func (e GenealogyEdge) Validate() error {
	if e.TeamManagerID == "" || e.LiveManagerID == "" {
		return fmt.Errorf("%w: both manager ids required", ErrInvalidEdge)
	}
	if e.TeamManagerID == e.LiveManagerID {
		return ErrSelfEdge
	}
	if _, err := DownlineRate(e.Level); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Round2 rounds to 2 decimal places, half up. Applied at the point of
// persistence to every monetary result.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
