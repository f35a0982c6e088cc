// Package stocktest provides an in-memory stock repository for tests across
// the reconciler packages.
package stocktest

import (
	"context"
	"sort"
	"sync"

	"github.com/granary-erp/granary-erp/internal/stock"
)

// MemoryRepository implements stock.RepositoryPort backed by maps. It is
// safe for concurrent use; transactions serialise on one mutex, which is a
// strictly stronger guarantee than the row locks of the real repository.
type MemoryRepository struct {
	mu         sync.Mutex
	records    map[int64]stock.Record
	movements  []stock.Movement
	nextRecID  int64
	nextMoveID int64
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]stock.Record)}
}

// Seed inserts a record directly, returning its assigned id.
func (r *MemoryRepository) Seed(rec stock.Record) stock.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRecID++
	rec.ID = r.nextRecID
	if rec.Status == "" {
		rec.Status = stock.DeriveStatus(rec.Quantity, rec.MinimumQty)
	}
	r.records[rec.ID] = rec
	return rec
}

// Movements returns a copy of all movements posted so far.
func (r *MemoryRepository) Movements() []stock.Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stock.Movement, len(r.movements))
	copy(out, r.movements)
	return out
}

type memoryTx struct {
	repo    *MemoryRepository
	records map[int64]stock.Record
	moves   []stock.Movement
	created []stock.Record
}

// WithTx runs fn against a snapshot and applies the writes on success,
// mirroring the all-or-nothing behaviour of the real transaction helper.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, records: make(map[int64]stock.Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, rec := range tx.records {
		r.records[id] = rec
	}
	r.movements = append(r.movements, tx.moves...)
	return nil
}

func (r *MemoryRepository) GetRecord(ctx context.Context, id int64) (stock.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return stock.Record{}, stock.ErrRecordNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) ListByWarehouse(ctx context.Context, warehouseID int64) ([]stock.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warehouseRecords(warehouseID), nil
}

func (r *MemoryRepository) ListMovements(ctx context.Context, recordID int64, limit int) ([]stock.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []stock.Movement{}
	for _, m := range r.movements {
		if m.RecordID == recordID {
			out = append(out, m)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListWarehouseMovements(ctx context.Context, warehouseID int64, limit int) ([]stock.Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []stock.Movement{}
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if m.WarehouseID != warehouseID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context, warehouseID int64) (map[stock.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[stock.Status]int{}
	for _, rec := range r.records {
		if rec.WarehouseID == warehouseID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) SumMovements(ctx context.Context, recordID int64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, m := range r.movements {
		if m.RecordID == recordID {
			sum += m.Signed()
		}
	}
	return sum, nil
}

func (r *MemoryRepository) warehouseRecords(warehouseID int64) []stock.Record {
	out := []stock.Record{}
	for _, rec := range r.records {
		if rec.WarehouseID == warehouseID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, id int64) (stock.Record, error) {
	if rec, ok := tx.records[id]; ok {
		return rec, nil
	}
	rec, ok := tx.repo.records[id]
	if !ok {
		return stock.Record{}, stock.ErrRecordNotFound
	}
	return rec, nil
}

func (tx *memoryTx) CandidatesForUpdate(ctx context.Context, warehouseID int64) ([]stock.Record, error) {
	base := tx.repo.warehouseRecords(warehouseID)
	for i, rec := range base {
		if pending, ok := tx.records[rec.ID]; ok {
			base[i] = pending
		}
	}
	for _, rec := range tx.created {
		if rec.WarehouseID == warehouseID {
			base = append(base, tx.records[rec.ID])
		}
	}
	return base, nil
}

func (tx *memoryTx) CreateRecord(ctx context.Context, rec stock.Record) (int64, error) {
	tx.repo.nextRecID++
	rec.ID = tx.repo.nextRecID
	tx.records[rec.ID] = rec
	tx.created = append(tx.created, rec)
	return rec.ID, nil
}

func (tx *memoryTx) UpdateRecordState(ctx context.Context, id int64, quantity float64, status stock.Status) error {
	rec, err := tx.GetRecordForUpdate(ctx, id)
	if err != nil {
		return err
	}
	rec.Quantity = quantity
	rec.Status = status
	tx.records[id] = rec
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	tx.repo.nextMoveID++
	m.ID = tx.repo.nextMoveID
	tx.moves = append(tx.moves, m)
	return m.ID, nil
}
