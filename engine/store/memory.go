// Package store provides an in-memory engine.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	managers map[engine.ManagerID]engine.Manager
	creators map[engine.CreatorID]engine.Creator
	batches  map[engine.BatchID]engine.UploadBatch
	txs      map[string]engine.Transaction
	bonuses  map[string]engine.Bonus
	earnings map[earningsKey]engine.ManagerEarnings
	edges    map[engine.EdgeID]engine.GenealogyEdge
}

type earningsKey struct {
	Manager engine.ManagerID
	Period  engine.Period
}

func NewMemory() *Memory {
	return &Memory{
		managers: make(map[engine.ManagerID]engine.Manager),
		creators: make(map[engine.CreatorID]engine.Creator),
		batches:  make(map[engine.BatchID]engine.UploadBatch),
		txs:      make(map[string]engine.Transaction),
		bonuses:  make(map[string]engine.Bonus),
		earnings: make(map[earningsKey]engine.ManagerEarnings),
		edges:    make(map[engine.EdgeID]engine.GenealogyEdge),
	}
}

var _ engine.Store = (*Memory)(nil)

// =============================================================================
// IDENTITY
// =============================================================================

func (m *Memory) FindManagerByHandle(_ context.Context, handle string) (*engine.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mgr := range m.managers {
		if mgr.Handle == handle {
			out := mgr
			return &out, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (m *Memory) CreateManager(_ context.Context, mgr engine.Manager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.managers {
		if existing.Handle == mgr.Handle {
			return engine.ErrDuplicateHandle
		}
	}
	m.managers[mgr.ID] = mgr
	return nil
}

func (m *Memory) GetManager(_ context.Context, id engine.ManagerID) (*engine.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mgr, ok := m.managers[id]
	if !ok {
		return nil, engine.ErrManagerNotFound
	}
	out := mgr
	return &out, nil
}

func (m *Memory) ListManagers(_ context.Context) ([]engine.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Manager, 0, len(m.managers))
	for _, mgr := range m.managers {
		out = append(out, mgr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (m *Memory) AddToLifetimeTotal(_ context.Context, id engine.ManagerID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mgr, ok := m.managers[id]
	if !ok {
		return engine.ErrManagerNotFound
	}
	mgr.LifetimeTotal = mgr.LifetimeTotal.Add(delta)
	mgr.UpdatedAt = time.Now().UTC()
	m.managers[id] = mgr
	return nil
}

func (m *Memory) FindCreatorByHandle(_ context.Context, handle string) (*engine.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.creators {
		if c.Handle == handle {
			out := c
			return &out, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (m *Memory) CreateCreator(_ context.Context, c engine.Creator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.creators {
		if existing.Handle == c.Handle {
			return engine.ErrDuplicateHandle
		}
	}
	m.creators[c.ID] = c
	return nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b engine.UploadBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id engine.BatchID) (*engine.UploadBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, engine.ErrBatchNotFound
	}
	out := b
	return &out, nil
}

func (m *Memory) ListBatches(_ context.Context, period engine.Period) ([]engine.UploadBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.UploadBatch
	for _, b := range m.batches {
		if period == "" || b.Period == period {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListActiveBatches(_ context.Context) ([]engine.UploadBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.UploadBatch
	for _, b := range m.batches {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (m *Memory) TryBeginProcessing(_ context.Context, id engine.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	// Check and set under one lock: the in-memory equivalent of the SQL
	// conditional update.
	if b.IsProcessing || b.Status.Live() {
		return engine.ErrBatchAlreadyProcessing
	}
	if b.Status == engine.BatchCompleted {
		return engine.ErrBatchCompleted
	}
	b.IsProcessing = true
	b.IsActive = true
	b.Status = engine.BatchDownloading
	b.Error = ""
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	return nil
}

func (m *Memory) SetBatchStatus(_ context.Context, id engine.BatchID, status engine.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	return nil
}

func (m *Memory) UpdateBatchProgress(_ context.Context, id engine.BatchID, progress, total, processed, skipped int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	b.Progress = progress
	b.TotalRows = total
	b.ProcessedRows = processed
	b.SkippedRows = skipped
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	return nil
}

func (m *Memory) EndProcessing(_ context.Context, id engine.BatchID, status engine.BatchStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	now := time.Now().UTC()
	b.Status = status
	b.Error = errMsg
	b.IsProcessing = false
	b.UpdatedAt = now
	b.CompletedAt = &now
	m.batches[id] = b
	return nil
}

func (m *Memory) SupersedeBatches(_ context.Context, period engine.Period, except engine.BatchID) ([]engine.BatchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var retired []engine.BatchID
	for id, b := range m.batches {
		if b.Period != period || id == except {
			continue
		}
		if b.Status == engine.BatchSuperseded || b.Status == engine.BatchCleared {
			continue
		}
		b.Status = engine.BatchSuperseded
		b.IsActive = false
		b.IsProcessing = false
		b.UpdatedAt = time.Now().UTC()
		m.batches[id] = b
		retired = append(retired, id)
	}
	return retired, nil
}

func (m *Memory) SetBatchInactive(_ context.Context, id engine.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return engine.ErrBatchNotFound
	}
	b.IsActive = false
	b.UpdatedAt = time.Now().UTC()
	m.batches[id] = b
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) CommitChunk(_ context.Context, chunk engine.ChunkWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Single lock: all-or-nothing by construction.
	for _, tx := range chunk.Transactions {
		m.txs[tx.ID] = tx
	}
	for _, b := range chunk.Bonuses {
		m.bonuses[b.ID] = b
	}
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, period engine.Period) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Transaction
	for _, tx := range m.txs {
		if tx.Period == period {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertBonus(_ context.Context, b engine.Bonus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bonuses[b.ID] = b
	return nil
}

func (m *Memory) ListBonuses(_ context.Context, period engine.Period) ([]engine.Bonus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Bonus
	for _, b := range m.bonuses {
		if b.Period == period {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListManagerBonuses(_ context.Context, id engine.ManagerID, period engine.Period) ([]engine.Bonus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Bonus
	for _, b := range m.bonuses {
		if b.ManagerID == id && (period == "" || b.Period == period) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteDownlineBonuses(_ context.Context, period engine.Period, batchID engine.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.bonuses {
		if b.Period == period && b.BatchID == batchID && b.Type.IsDownline() {
			delete(m.bonuses, id)
		}
	}
	return nil
}

func (m *Memory) PurgeBatchData(_ context.Context, period engine.Period, batchIDs []engine.BatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	retired := make(map[engine.BatchID]bool, len(batchIDs))
	for _, id := range batchIDs {
		retired[id] = true
	}
	for id, tx := range m.txs {
		if tx.Period == period && retired[tx.BatchID] {
			delete(m.txs, id)
		}
	}
	for id, b := range m.bonuses {
		if b.Period == period && b.BatchID != "" && retired[b.BatchID] {
			delete(m.bonuses, id)
		}
	}
	for key, e := range m.earnings {
		if e.Period == period && retired[e.BatchID] {
			delete(m.earnings, key)
		}
	}
	return nil
}

// =============================================================================
// EARNINGS
// =============================================================================

func (m *Memory) UpsertEarnings(_ context.Context, e engine.ManagerEarnings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.earnings[earningsKey{e.ManagerID, e.Period}] = e
	return nil
}

func (m *Memory) GetEarnings(_ context.Context, id engine.ManagerID, period engine.Period) (*engine.ManagerEarnings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.earnings[earningsKey{id, period}]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := e
	return &out, nil
}

func (m *Memory) ListEarnings(_ context.Context, period engine.Period) ([]engine.ManagerEarnings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.ManagerEarnings
	for _, e := range m.earnings {
		if e.Period == period {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ManagerID < out[j].ManagerID })
	return out, nil
}

// =============================================================================
// GENEALOGY
// =============================================================================

func (m *Memory) SaveEdge(_ context.Context, e engine.GenealogyEdge) (*engine.GenealogyEdge, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.edges {
		if existing.TeamManagerID == e.TeamManagerID && existing.LiveManagerID == e.LiveManagerID {
			existing.Level = e.Level
			existing.UpdatedAt = now
			m.edges[id] = existing
			out := existing
			return &out, nil
		}
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	m.edges[e.ID] = e
	out := e
	return &out, nil
}

func (m *Memory) GetEdge(_ context.Context, id engine.EdgeID) (*engine.GenealogyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := e
	return &out, nil
}

func (m *Memory) DeleteEdge(_ context.Context, id engine.EdgeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.edges[id]; !ok {
		return engine.ErrNotFound
	}
	delete(m.edges, id)
	return nil
}

func (m *Memory) ListEdges(_ context.Context) ([]engine.GenealogyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.GenealogyEdge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
