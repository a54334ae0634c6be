/*
store.go - Persistence interfaces for the commission engine

PURPOSE:
  Defines the boundary between domain logic and the database. Components
  accept the narrow interface they need; the full Store is the union a
  concrete backend implements.

ATOMIC WRITE GROUPS:
  CommitChunk is the only multi-record write and it is all-or-nothing: a
  chunk's Transactions and Bonuses land together or not at all. There is no
  cross-chunk transaction; a crash loses at most the uncommitted chunk.

IDEMPOTENCY:
  TryBeginProcessing is a conditional write (compare-and-set), not a
  read-then-write: two concurrent triggers for the same batch cannot both
  succeed. Bonus and earnings writes are upserts keyed deterministically, so
  recalculation overwrites instead of duplicating.

IMPLEMENTATIONS:
  - store/sqlite:     Production SQLite (goose-migrated, WAL)
  - engine/store:     In-memory, for tests

SEE ALSO:
  - pipeline.go:  Sole user of CommitChunk
  - processor.go: Drives the batch status transitions
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTITY
// =============================================================================

// IdentityStore persists managers and creators, looked up by normalized
// handle. Find* return ErrNotFound when the handle is unknown.
type IdentityStore interface {
	FindManagerByHandle(ctx context.Context, handle string) (*Manager, error)
	CreateManager(ctx context.Context, m Manager) error
	GetManager(ctx context.Context, id ManagerID) (*Manager, error)
	ListManagers(ctx context.Context) ([]Manager, error)

	// AddToLifetimeTotal adjusts the manager's running lifetime total by
	// delta (negative when superseded earnings are retired).
	AddToLifetimeTotal(ctx context.Context, id ManagerID, delta decimal.Decimal) error

	FindCreatorByHandle(ctx context.Context, handle string) (*Creator, error)
	CreateCreator(ctx context.Context, c Creator) error
}

// =============================================================================
// BATCHES
// =============================================================================

// BatchStore persists upload batches and their status machine.
type BatchStore interface {
	CreateBatch(ctx context.Context, b UploadBatch) error
	GetBatch(ctx context.Context, id BatchID) (*UploadBatch, error)

	// ListBatches returns batches for a period, newest first.
	// An empty period returns all batches.
	ListBatches(ctx context.Context, period Period) ([]UploadBatch, error)

	// ListActiveBatches returns every batch currently holding IsActive.
	ListActiveBatches(ctx context.Context) ([]UploadBatch, error)

	// TryBeginProcessing atomically claims the batch for one processing
	// run: succeeds only when the batch is neither live nor completed, and
	// flips IsProcessing, IsActive and Status=DOWNLOADING in the same
	// conditional write. Returns ErrBatchAlreadyProcessing or
	// ErrBatchCompleted when the claim is rejected.
	TryBeginProcessing(ctx context.Context, id BatchID) error

	SetBatchStatus(ctx context.Context, id BatchID, status BatchStatus) error
	UpdateBatchProgress(ctx context.Context, id BatchID, progress, total, processed, skipped int) error

	// EndProcessing records a terminal (or failed) outcome: sets status and
	// error message, clears IsProcessing, stamps CompletedAt.
	EndProcessing(ctx context.Context, id BatchID, status BatchStatus, errMsg string) error

	// SupersedeBatches marks every batch for the period other than except
	// as SUPERSEDED and inactive, returning the ids it retired.
	SupersedeBatches(ctx context.Context, period Period, except BatchID) ([]BatchID, error)

	SetBatchInactive(ctx context.Context, id BatchID) error
}

// =============================================================================
// LEDGER - Transactions and bonuses
// =============================================================================

// ChunkWrite is one atomic write group produced by the pipeline.
type ChunkWrite struct {
	BatchID      BatchID
	Transactions []Transaction
	Bonuses      []Bonus
}

// LedgerStore persists transactions and bonuses.
type LedgerStore interface {
	// CommitChunk writes a chunk's transactions and bonuses atomically.
	// Bonuses are upserted by ID within the group.
	CommitChunk(ctx context.Context, chunk ChunkWrite) error

	ListTransactions(ctx context.Context, period Period) ([]Transaction, error)

	UpsertBonus(ctx context.Context, b Bonus) error
	ListBonuses(ctx context.Context, period Period) ([]Bonus, error)
	ListManagerBonuses(ctx context.Context, id ManagerID, period Period) ([]Bonus, error)

	// DeleteDownlineBonuses removes every DOWNLINE_LEVEL_* bonus the batch
	// booked for the period. Propagation calls it before re-booking so a
	// re-leveled or deleted edge cannot leave a stale payout behind.
	DeleteDownlineBonuses(ctx context.Context, period Period, batchID BatchID) error

	// PurgeBatchData deletes all transactions, earnings rows, and
	// batch-scoped bonuses belonging to the given batches for the period.
	// Manual bonuses (no batch id) are untouched.
	PurgeBatchData(ctx context.Context, period Period, batchIDs []BatchID) error
}

// =============================================================================
// EARNINGS
// =============================================================================

// EarningsStore persists the per-(manager, period) roll-up.
type EarningsStore interface {
	UpsertEarnings(ctx context.Context, e ManagerEarnings) error
	GetEarnings(ctx context.Context, id ManagerID, period Period) (*ManagerEarnings, error)
	ListEarnings(ctx context.Context, period Period) ([]ManagerEarnings, error)
}

// =============================================================================
// GENEALOGY
// =============================================================================

// GenealogyStore persists the manager hierarchy as direct edges.
type GenealogyStore interface {
	// SaveEdge upserts by (team, live): an existing pair keeps its id and
	// has its level updated in place.
	SaveEdge(ctx context.Context, e GenealogyEdge) (*GenealogyEdge, error)
	GetEdge(ctx context.Context, id EdgeID) (*GenealogyEdge, error)
	DeleteEdge(ctx context.Context, id EdgeID) error
	ListEdges(ctx context.Context) ([]GenealogyEdge, error)
}

// =============================================================================
// FULL STORE
// =============================================================================

// Store is the union implemented by concrete backends.
type Store interface {
	IdentityStore
	BatchStore
	LedgerStore
	EarningsStore
	GenealogyStore
}
