/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place. The taxonomy distinguishes row-level data
  errors (recovered by skipping the row) from batch-level failures (the batch
  ends FAILED) and duplicate triggers (rejected as a no-op).

ERROR CATEGORIES:
  1. Row errors      - bad labels or amounts on a single spreadsheet row
  2. Batch errors    - trigger rejection, commit and supersession failures
  3. Store errors    - missing entities, constraint violations

USAGE:
  Callers classify with errors.Is / errors.As:

    if engine.IsRowError(err) {
        // count and skip, do not abort the batch
    }

SEE ALSO:
  - pipeline.go:  Applies the row-vs-chunk error split
  - processor.go: Maps failures onto the batch status machine
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned for a period string that is not YYYYMM.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrEmptyLabel is returned when a row's manager or creator label is
	// blank after normalization. Row-level: the row is skipped.
	ErrEmptyLabel = errors.New("empty identity label")

	// ErrUnparsableAmount is returned when a gross cell cannot be read as a
	// number. Row-level: the row is skipped.
	ErrUnparsableAmount = errors.New("unparsable amount")

	// ErrNonPositiveGross is returned for rows with gross <= 0. This is a
	// data-quality filter, not a failure: the row is skipped, not persisted.
	ErrNonPositiveGross = errors.New("non-positive gross amount")

	// ErrBatchNotFound is returned when a batch id resolves to nothing.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrManagerNotFound is returned when a manager id resolves to nothing.
	ErrManagerNotFound = errors.New("manager not found")

	// ErrNotFound is the generic missing-record error used by stores for
	// lookups by unique key (handles, edges, earnings rows).
	ErrNotFound = errors.New("not found")

	// ErrDuplicateHandle is returned when creating an identity whose
	// normalized handle already exists (creation race across runs).
	ErrDuplicateHandle = errors.New("handle already exists")

	// ErrBatchAlreadyProcessing rejects a duplicate processing trigger while
	// the batch is live. This is a no-op for the caller, not a failure.
	ErrBatchAlreadyProcessing = errors.New("batch is already processing")

	// ErrBatchCompleted rejects re-processing of a completed batch.
	// Re-processing a period requires a fresh batch.
	ErrBatchCompleted = errors.New("batch already completed")

	// ErrSelfEdge rejects a genealogy edge from a manager to itself.
	ErrSelfEdge = errors.New("genealogy self-edge forbidden")

	// ErrInvalidEdge is returned for structurally invalid genealogy edges.
	ErrInvalidEdge = errors.New("invalid genealogy edge")

	// ErrInvalidLevel is returned for an unknown downline level.
	ErrInvalidLevel = errors.New("invalid downline level")

	// ErrInvalidBonusType is returned when a manual award names a type that
	// is not a manual extra.
	ErrInvalidBonusType = errors.New("invalid bonus type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RowError wraps a row-level data error with its position in the upload.
// Pipeline code skips and counts these instead of aborting the batch.
type RowError struct {
	Index int // zero-based row index within the upload
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ChunkCommitError wraps a failed atomic write group. Fatal for the batch:
// previously committed chunks persist, the rest of the upload is abandoned.
type ChunkCommitError struct {
	BatchID BatchID
	Chunk   int
	Err     error
}

func (e *ChunkCommitError) Error() string {
	return fmt.Sprintf("batch %s: chunk %d commit failed: %v", e.BatchID, e.Chunk, e.Err)
}

func (e *ChunkCommitError) Unwrap() error { return e.Err }

// SupersessionError wraps a failure to retire prior batches for a period.
// Fatal before any new writes occur, so a period never mixes two batches.
type SupersessionError struct {
	Period Period
	Err    error
}

func (e *SupersessionError) Error() string {
	return fmt.Sprintf("period %s: supersession failed: %v", e.Period, e.Err)
}

func (e *SupersessionError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRowError reports whether the error is recoverable by skipping the row.
func IsRowError(err error) bool {
	return errors.Is(err, ErrEmptyLabel) ||
		errors.Is(err, ErrUnparsableAmount) ||
		errors.Is(err, ErrNonPositiveGross)
}

// IsDuplicateTrigger reports whether the error is a rejected duplicate
// processing trigger rather than a real failure.
func IsDuplicateTrigger(err error) bool {
	return errors.Is(err, ErrBatchAlreadyProcessing) ||
		errors.Is(err, ErrBatchCompleted)
}
