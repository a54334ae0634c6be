/*
Package sqlite provides the SQLite-backed implementation of engine.Store.

PURPOSE:
  Production persistence for the commission engine. The same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

ATOMIC WRITE GROUPS:
  CommitChunk wraps a chunk's transactions and bonuses in one SQL
  transaction: either the whole chunk lands or none of it. There is no
  cross-chunk transaction.

CONDITIONAL CLAIM:
  TryBeginProcessing is a single conditional UPDATE, so two concurrent
  triggers for the same batch cannot both claim it. The rejected caller is
  told why (already live vs already completed).

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

MIGRATIONS:
  Versioned goose migrations embedded in the binary, applied on New().

SEE ALSO:
  - engine/store.go:        Interface contracts
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/engine"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const timeFormat = time.RFC3339Nano

// Store implements engine.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ engine.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("database ready")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// IDENTITY
// =============================================================================

func (s *Store) FindManagerByHandle(ctx context.Context, handle string) (*engine.Manager, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, type, lifetime_total, created_at, updated_at
		FROM managers WHERE handle = ?`, handle)
	return scanManager(row)
}

func (s *Store) GetManager(ctx context.Context, id engine.ManagerID) (*engine.Manager, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, type, lifetime_total, created_at, updated_at
		FROM managers WHERE id = ?`, string(id))
	m, err := scanManager(row)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, engine.ErrManagerNotFound
	}
	return m, err
}

func scanManager(row *sql.Row) (*engine.Manager, error) {
	var m engine.Manager
	var total, createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Handle, &m.DisplayName, &m.Type, &total, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.LifetimeTotal = mustDecimal(total)
	m.CreatedAt = mustTime(createdAt)
	m.UpdatedAt = mustTime(updatedAt)
	return &m, nil
}

func (s *Store) CreateManager(ctx context.Context, m engine.Manager) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managers (id, handle, display_name, type, lifetime_total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), m.Handle, m.DisplayName, string(m.Type),
		m.LifetimeTotal.String(), m.CreatedAt.Format(timeFormat), m.UpdatedAt.Format(timeFormat))
	if isUniqueConstraintError(err) {
		return engine.ErrDuplicateHandle
	}
	return err
}

func (s *Store) ListManagers(ctx context.Context) ([]engine.Manager, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, display_name, type, lifetime_total, created_at, updated_at
		FROM managers ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Manager
	for rows.Next() {
		var m engine.Manager
		var total, createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &m.Handle, &m.DisplayName, &m.Type, &total, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		m.LifetimeTotal = mustDecimal(total)
		m.CreatedAt = mustTime(createdAt)
		m.UpdatedAt = mustTime(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AddToLifetimeTotal(ctx context.Context, id engine.ManagerID, delta decimal.Decimal) error {
	// Read-modify-write inside a transaction; decimals live as TEXT so SQL
	// arithmetic cannot be trusted with them.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total string
	err = tx.QueryRowContext(ctx, `SELECT lifetime_total FROM managers WHERE id = ?`, string(id)).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrManagerNotFound
	}
	if err != nil {
		return err
	}
	updated := mustDecimal(total).Add(delta)
	if _, err := tx.ExecContext(ctx, `UPDATE managers SET lifetime_total = ?, updated_at = ? WHERE id = ?`,
		updated.String(), time.Now().UTC().Format(timeFormat), string(id)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindCreatorByHandle(ctx context.Context, handle string) (*engine.Creator, error) {
	var c engine.Creator
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, created_at FROM creators WHERE handle = ?`, handle).
		Scan(&c.ID, &c.Handle, &c.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = mustTime(createdAt)
	return &c, nil
}

func (s *Store) CreateCreator(ctx context.Context, c engine.Creator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO creators (id, handle, display_name, created_at) VALUES (?, ?, ?, ?)`,
		string(c.ID), c.Handle, c.DisplayName, c.CreatedAt.Format(timeFormat))
	if isUniqueConstraintError(err) {
		return engine.ErrDuplicateHandle
	}
	return err
}

// =============================================================================
// BATCHES
// =============================================================================

const batchColumns = `id, period, source, status, progress, total_rows, processed_rows,
	skipped_rows, is_active, is_processing, error, created_at, updated_at, completed_at`

func (s *Store) CreateBatch(ctx context.Context, b engine.UploadBatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.Period), b.Source, string(b.Status), b.Progress,
		b.TotalRows, b.ProcessedRows, b.SkippedRows,
		boolToInt(b.IsActive), boolToInt(b.IsProcessing), b.Error,
		b.CreatedAt.Format(timeFormat), b.UpdatedAt.Format(timeFormat), nullTime(b.CompletedAt))
	return err
}

func (s *Store) GetBatch(ctx context.Context, id engine.BatchID) (*engine.UploadBatch, error) {
	batches, err := s.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM upload_batches WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, engine.ErrBatchNotFound
	}
	return &batches[0], nil
}

func (s *Store) ListBatches(ctx context.Context, period engine.Period) ([]engine.UploadBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM upload_batches`
	var args []any
	if period != "" {
		query += ` WHERE period = ?`
		args = append(args, string(period))
	}
	query += ` ORDER BY created_at DESC`
	return s.queryBatches(ctx, query, args...)
}

func (s *Store) ListActiveBatches(ctx context.Context) ([]engine.UploadBatch, error) {
	return s.queryBatches(ctx,
		`SELECT `+batchColumns+` FROM upload_batches WHERE is_active = 1 ORDER BY period`)
}

func (s *Store) queryBatches(ctx context.Context, query string, args ...any) ([]engine.UploadBatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.UploadBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(rows *sql.Rows) (engine.UploadBatch, error) {
	var b engine.UploadBatch
	var active, processing int
	var createdAt, updatedAt string
	var completedAt sql.NullString
	err := rows.Scan(&b.ID, &b.Period, &b.Source, &b.Status, &b.Progress,
		&b.TotalRows, &b.ProcessedRows, &b.SkippedRows,
		&active, &processing, &b.Error, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return b, err
	}
	b.IsActive = active != 0
	b.IsProcessing = processing != 0
	b.CreatedAt = mustTime(createdAt)
	b.UpdatedAt = mustTime(updatedAt)
	if completedAt.Valid {
		t := mustTime(completedAt.String)
		b.CompletedAt = &t
	}
	return b, nil
}

func (s *Store) TryBeginProcessing(ctx context.Context, id engine.BatchID) error {
	// One conditional UPDATE: the check and the set cannot be split by a
	// concurrent trigger.
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_batches
		SET is_processing = 1, is_active = 1, status = ?, error = '', updated_at = ?
		WHERE id = ?
		  AND is_processing = 0
		  AND status NOT IN (?, ?, ?, ?)`,
		string(engine.BatchDownloading), time.Now().UTC().Format(timeFormat), string(id),
		string(engine.BatchDownloading), string(engine.BatchProcessing),
		string(engine.BatchCalculating), string(engine.BatchCompleted))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Rejected: report why.
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if b.Status == engine.BatchCompleted {
		return engine.ErrBatchCompleted
	}
	return engine.ErrBatchAlreadyProcessing
}

func (s *Store) SetBatchStatus(ctx context.Context, id engine.BatchID, status engine.BatchStatus) error {
	return s.updateBatch(ctx, `UPDATE upload_batches SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), string(id))
}

func (s *Store) UpdateBatchProgress(ctx context.Context, id engine.BatchID, progress, total, processed, skipped int) error {
	return s.updateBatch(ctx, `
		UPDATE upload_batches
		SET progress = ?, total_rows = ?, processed_rows = ?, skipped_rows = ?, updated_at = ?
		WHERE id = ?`,
		progress, total, processed, skipped, time.Now().UTC().Format(timeFormat), string(id))
}

func (s *Store) EndProcessing(ctx context.Context, id engine.BatchID, status engine.BatchStatus, errMsg string) error {
	now := time.Now().UTC().Format(timeFormat)
	return s.updateBatch(ctx, `
		UPDATE upload_batches
		SET status = ?, error = ?, is_processing = 0, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(status), errMsg, now, now, string(id))
}

func (s *Store) SetBatchInactive(ctx context.Context, id engine.BatchID) error {
	return s.updateBatch(ctx, `UPDATE upload_batches SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), string(id))
}

func (s *Store) updateBatch(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrBatchNotFound
	}
	return nil
}

func (s *Store) SupersedeBatches(ctx context.Context, period engine.Period, except engine.BatchID) ([]engine.BatchID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM upload_batches
		WHERE period = ? AND id != ? AND status NOT IN (?, ?)`,
		string(period), string(except),
		string(engine.BatchSuperseded), string(engine.BatchCleared))
	if err != nil {
		return nil, err
	}
	var retired []engine.BatchID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		retired = append(retired, engine.BatchID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(retired) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC().Format(timeFormat)
	for _, id := range retired {
		if _, err := tx.ExecContext(ctx, `
			UPDATE upload_batches
			SET status = ?, is_active = 0, is_processing = 0, updated_at = ?
			WHERE id = ?`,
			string(engine.BatchSuperseded), now, string(id)); err != nil {
			return nil, err
		}
	}
	return retired, tx.Commit()
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) CommitChunk(ctx context.Context, chunk engine.ChunkWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range chunk.Transactions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, batch_id, period, manager_id, manager_type,
				creator_id, gross_amount, deductions, net_for_commission, base_commission, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, string(t.BatchID), string(t.Period), string(t.ManagerID), string(t.ManagerType),
			string(t.CreatorID), t.GrossAmount.String(), t.Deductions.String(),
			t.Net.String(), t.BaseCommission.String(), t.CreatedAt.Format(timeFormat)); err != nil {
			return err
		}
	}
	for _, b := range chunk.Bonuses {
		if err := upsertBonusTx(ctx, tx, b); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertBonusTx(ctx context.Context, tx *sql.Tx, b engine.Bonus) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bonuses (id, manager_id, period, batch_id, type, amount, related_manager_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			batch_id = excluded.batch_id,
			related_manager_id = excluded.related_manager_id`,
		b.ID, string(b.ManagerID), string(b.Period), string(b.BatchID), string(b.Type),
		b.Amount.String(), string(b.RelatedManagerID), b.CreatedAt.Format(timeFormat))
	return err
}

func (s *Store) ListTransactions(ctx context.Context, period engine.Period) ([]engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, period, manager_id, manager_type, creator_id,
			gross_amount, deductions, net_for_commission, base_commission, created_at
		FROM transactions WHERE period = ? ORDER BY created_at, id`, string(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Transaction
	for rows.Next() {
		var t engine.Transaction
		var gross, deductions, net, base, createdAt string
		if err := rows.Scan(&t.ID, &t.BatchID, &t.Period, &t.ManagerID, &t.ManagerType,
			&t.CreatorID, &gross, &deductions, &net, &base, &createdAt); err != nil {
			return nil, err
		}
		t.GrossAmount = mustDecimal(gross)
		t.Deductions = mustDecimal(deductions)
		t.Net = mustDecimal(net)
		t.BaseCommission = mustDecimal(base)
		t.CreatedAt = mustTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertBonus(ctx context.Context, b engine.Bonus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertBonusTx(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListBonuses(ctx context.Context, period engine.Period) ([]engine.Bonus, error) {
	return s.queryBonuses(ctx, `
		SELECT id, manager_id, period, batch_id, type, amount, related_manager_id, created_at
		FROM bonuses WHERE period = ? ORDER BY id`, string(period))
}

func (s *Store) ListManagerBonuses(ctx context.Context, id engine.ManagerID, period engine.Period) ([]engine.Bonus, error) {
	if period == "" {
		return s.queryBonuses(ctx, `
			SELECT id, manager_id, period, batch_id, type, amount, related_manager_id, created_at
			FROM bonuses WHERE manager_id = ? ORDER BY id`, string(id))
	}
	return s.queryBonuses(ctx, `
		SELECT id, manager_id, period, batch_id, type, amount, related_manager_id, created_at
		FROM bonuses WHERE manager_id = ? AND period = ? ORDER BY id`, string(id), string(period))
}

func (s *Store) queryBonuses(ctx context.Context, query string, args ...any) ([]engine.Bonus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Bonus
	for rows.Next() {
		var b engine.Bonus
		var amount, createdAt string
		if err := rows.Scan(&b.ID, &b.ManagerID, &b.Period, &b.BatchID, &b.Type,
			&amount, &b.RelatedManagerID, &createdAt); err != nil {
			return nil, err
		}
		b.Amount = mustDecimal(amount)
		b.CreatedAt = mustTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDownlineBonuses(ctx context.Context, period engine.Period, batchID engine.BatchID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bonuses
		WHERE period = ? AND batch_id = ? AND type LIKE 'DOWNLINE_LEVEL_%'`,
		string(period), string(batchID))
	return err
}

func (s *Store) PurgeBatchData(ctx context.Context, period engine.Period, batchIDs []engine.BatchID) error {
	if len(batchIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batchIDs)), ",")
	args := make([]any, 0, len(batchIDs)+1)
	args = append(args, string(period))
	for _, id := range batchIDs {
		args = append(args, string(id))
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transactions WHERE period = ? AND batch_id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	// Manual bonuses carry no batch id and survive the purge.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bonuses WHERE period = ? AND batch_id != '' AND batch_id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manager_earnings WHERE period = ? AND batch_id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// EARNINGS
// =============================================================================

func (s *Store) UpsertEarnings(ctx context.Context, e engine.ManagerEarnings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manager_earnings (manager_id, period, base_commission, milestone_payouts,
			extras, total_earnings, total_gross, total_deductions, total_net,
			transaction_count, creator_count, batch_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(manager_id, period) DO UPDATE SET
			base_commission = excluded.base_commission,
			milestone_payouts = excluded.milestone_payouts,
			extras = excluded.extras,
			total_earnings = excluded.total_earnings,
			total_gross = excluded.total_gross,
			total_deductions = excluded.total_deductions,
			total_net = excluded.total_net,
			transaction_count = excluded.transaction_count,
			creator_count = excluded.creator_count,
			batch_id = excluded.batch_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		string(e.ManagerID), string(e.Period), e.BaseCommission.String(), e.MilestonePayouts.String(),
		e.Extras.String(), e.TotalEarnings.String(), e.TotalGross.String(), e.TotalDeductions.String(),
		e.TotalNet.String(), e.TransactionCount, e.CreatorCount, string(e.BatchID),
		string(e.Status), e.UpdatedAt.Format(timeFormat))
	return err
}

const earningsColumns = `manager_id, period, base_commission, milestone_payouts, extras,
	total_earnings, total_gross, total_deductions, total_net,
	transaction_count, creator_count, batch_id, status, updated_at`

func (s *Store) GetEarnings(ctx context.Context, id engine.ManagerID, period engine.Period) (*engine.ManagerEarnings, error) {
	all, err := s.queryEarnings(ctx,
		`SELECT `+earningsColumns+` FROM manager_earnings WHERE manager_id = ? AND period = ?`,
		string(id), string(period))
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, engine.ErrNotFound
	}
	return &all[0], nil
}

func (s *Store) ListEarnings(ctx context.Context, period engine.Period) ([]engine.ManagerEarnings, error) {
	return s.queryEarnings(ctx,
		`SELECT `+earningsColumns+` FROM manager_earnings WHERE period = ? ORDER BY manager_id`,
		string(period))
}

func (s *Store) queryEarnings(ctx context.Context, query string, args ...any) ([]engine.ManagerEarnings, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ManagerEarnings
	for rows.Next() {
		var e engine.ManagerEarnings
		var base, milestones, extras, total, gross, deductions, net, updatedAt string
		if err := rows.Scan(&e.ManagerID, &e.Period, &base, &milestones, &extras, &total,
			&gross, &deductions, &net, &e.TransactionCount, &e.CreatorCount,
			&e.BatchID, &e.Status, &updatedAt); err != nil {
			return nil, err
		}
		e.BaseCommission = mustDecimal(base)
		e.MilestonePayouts = mustDecimal(milestones)
		e.Extras = mustDecimal(extras)
		e.TotalEarnings = mustDecimal(total)
		e.TotalGross = mustDecimal(gross)
		e.TotalDeductions = mustDecimal(deductions)
		e.TotalNet = mustDecimal(net)
		e.UpdatedAt = mustTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// GENEALOGY
// =============================================================================

func (s *Store) SaveEdge(ctx context.Context, e engine.GenealogyEdge) (*engine.GenealogyEdge, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO genealogy_edges (id, team_manager_id, live_manager_id, level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_manager_id, live_manager_id) DO UPDATE SET
			level = excluded.level,
			updated_at = excluded.updated_at`,
		string(e.ID), string(e.TeamManagerID), string(e.LiveManagerID), string(e.Level),
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return nil, err
	}

	// Return the stored row: an existing pair keeps its original id.
	var out engine.GenealogyEdge
	var createdAt, updatedAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, team_manager_id, live_manager_id, level, created_at, updated_at
		FROM genealogy_edges WHERE team_manager_id = ? AND live_manager_id = ?`,
		string(e.TeamManagerID), string(e.LiveManagerID)).
		Scan(&out.ID, &out.TeamManagerID, &out.LiveManagerID, &out.Level, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	out.CreatedAt = mustTime(createdAt)
	out.UpdatedAt = mustTime(updatedAt)
	return &out, nil
}

func (s *Store) GetEdge(ctx context.Context, id engine.EdgeID) (*engine.GenealogyEdge, error) {
	var e engine.GenealogyEdge
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_manager_id, live_manager_id, level, created_at, updated_at
		FROM genealogy_edges WHERE id = ?`, string(id)).
		Scan(&e.ID, &e.TeamManagerID, &e.LiveManagerID, &e.Level, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = mustTime(createdAt)
	e.UpdatedAt = mustTime(updatedAt)
	return &e, nil
}

func (s *Store) DeleteEdge(ctx context.Context, id engine.EdgeID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM genealogy_edges WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context) ([]engine.GenealogyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_manager_id, live_manager_id, level, created_at, updated_at
		FROM genealogy_edges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.GenealogyEdge
	for rows.Next() {
		var e engine.GenealogyEdge
		var createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.TeamManagerID, &e.LiveManagerID, &e.Level, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = mustTime(createdAt)
		e.UpdatedAt = mustTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
