package production_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/granary-erp/granary-erp/internal/catalog"
	"github.com/granary-erp/granary-erp/internal/production"
	"github.com/granary-erp/granary-erp/internal/stock"
	"github.com/granary-erp/granary-erp/internal/stock/stocktest"
)

type fakeBatchRepo struct {
	batches []production.Batch
	nextID  int64
}

func (f *fakeBatchRepo) SaveBatch(_ context.Context, b production.Batch) (production.Batch, error) {
	f.nextID++
	b.ID = f.nextID
	f.batches = append(f.batches, b)
	return b, nil
}

func (f *fakeBatchRepo) GetBatch(_ context.Context, id int64) (production.Batch, error) {
	for _, b := range f.batches {
		if b.ID == id {
			return b, nil
		}
	}
	return production.Batch{}, production.ErrBatchNotFound
}

func (f *fakeBatchRepo) ListBatches(_ context.Context, _ int) ([]production.Batch, error) {
	return f.batches, nil
}

func (f *fakeBatchRepo) last() production.Batch {
	return f.batches[len(f.batches)-1]
}

type fakeCatalog struct {
	products map[string]catalog.Product
	err      error
}

func (f *fakeCatalog) FindProductByIDOrName(_ context.Context, _ int64, name string) (catalog.Product, error) {
	if f.err != nil {
		return catalog.Product{}, f.err
	}
	if p, ok := f.products[name]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func newTestService(t *testing.T) (*production.Service, *stocktest.MemoryRepository, *fakeBatchRepo) {
	t.Helper()
	stockRepo := stocktest.NewMemoryRepository()
	ledger := stock.NewLedger(stockRepo, nil, nil, nil)
	engine := stock.NewDeductionEngine(stock.DefaultEpsilon, slog.Default())
	batchRepo := &fakeBatchRepo{}
	cat := &fakeCatalog{products: map[string]catalog.Product{
		"Premium Flour": {ID: 7, Name: "Premium Flour", Unit: "kg", CommodityClass: "flour", MinimumQty: 50, ReorderQty: 100},
	}}
	svc := production.NewService(batchRepo, ledger, engine, cat, nil, nil, nil, nil, slog.Default())
	return svc, stockRepo, batchRepo
}

func wheatBatch(outputs ...production.OutputLine) production.Batch {
	return production.Batch{
		SourceWarehouseID: 1,
		Material:          stock.ProductRef{Name: "Raw Wheat", Commodity: "wheat"},
		RequestedQty:      100,
		Unit:              "kg",
		Outputs:           outputs,
	}
}

func TestRunProductionDeductsAndCredits(t *testing.T) {
	svc, stockRepo, batchRepo := newTestService(t)
	ctx := context.Background()

	stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 60, Unit: "kg"})
	stockRepo.Seed(stock.Record{Name: "Soft Wheat", Category: "wheat", WarehouseID: 1, Quantity: 70, Unit: "kg"})

	batch, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 3, WarehouseID: 2},
	), "")
	require.NoError(t, err)
	require.Equal(t, production.StatusCompleted, batch.Status)
	require.InDelta(t, 25.0, batch.Wastage, 1e-9) // 100 requested, 75 produced

	// Largest pile drains first: 70 from soft wheat, 30 from hard wheat.
	soft, err := stockRepo.GetRecord(ctx, 2)
	require.NoError(t, err)
	require.InDelta(t, 0.0, soft.Quantity, 1e-9)
	hard, err := stockRepo.GetRecord(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 30.0, hard.Quantity, 1e-9)

	// Output record created in the destination warehouse with catalog defaults.
	out, err := stockRepo.ListByWarehouse(ctx, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "Premium Flour", out[0].Name)
	require.InDelta(t, 75.0, out[0].Quantity, 1e-9)
	require.InDelta(t, 50.0, out[0].MinimumQty, 1e-9)

	require.Equal(t, production.StatusCompleted, batchRepo.last().Status)
}

func TestRunProductionRejectsInsufficientMaterials(t *testing.T) {
	svc, stockRepo, batchRepo := newTestService(t)
	ctx := context.Background()

	rec := stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 40, Unit: "kg"})

	_, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 3, WarehouseID: 2},
	), "")
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// Rejection happens at the materials gate: no movement posted, batch
	// persisted as Rejected with the reason.
	require.Empty(t, stockRepo.Movements())
	after, err := stockRepo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 40.0, after.Quantity, 1e-9)
	require.Equal(t, production.StatusRejected, batchRepo.last().Status)
	require.Contains(t, batchRepo.last().RejectReason, "available")
}

func TestRunProductionRejectsWhenNoMatch(t *testing.T) {
	svc, stockRepo, batchRepo := newTestService(t)
	ctx := context.Background()

	stockRepo.Seed(stock.Record{Name: "Corn", Category: "corn", WarehouseID: 1, Quantity: 500, Unit: "kg"})

	_, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 4, WarehouseID: 2},
	), "")
	require.ErrorIs(t, err, stock.ErrNoMatch)
	require.Empty(t, stockRepo.Movements())
	require.Equal(t, production.StatusRejected, batchRepo.last().Status)
}

func TestRunProductionAtomicOnOutputFailure(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 200, Unit: "kg"})
	// The existing destination record is counted in tons; crediting kilos
	// into it fails the unit check inside the transaction.
	stockRepo.Seed(stock.Record{Name: "Premium Flour", WarehouseID: 2, Quantity: 1, Unit: "ton"})

	_, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 4, WarehouseID: 2},
	), "")
	require.ErrorIs(t, err, stock.ErrUnitMismatch)

	// The deduction already ran inside the transaction; rollback must
	// restore the pile untouched.
	wheat, err := stockRepo.GetRecord(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 200.0, wheat.Quantity, 1e-9)
	require.Empty(t, stockRepo.Movements())
}

func TestRunProductionExistingOutputRecordReused(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 150, Unit: "kg"})
	existing := stockRepo.Seed(stock.Record{Name: "Premium Flour", WarehouseID: 2, Quantity: 10, Unit: "kg"})

	batch, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 4, WarehouseID: 2},
	), "")
	require.NoError(t, err)
	require.InDelta(t, 0.0, batch.Wastage, 1e-9)

	out, err := stockRepo.GetRecord(ctx, existing.ID)
	require.NoError(t, err)
	require.InDelta(t, 110.0, out.Quantity, 1e-9)

	records, err := stockRepo.ListByWarehouse(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestRunProductionCatalogTimeoutAbortsBeforeMovements(t *testing.T) {
	stockRepo := stocktest.NewMemoryRepository()
	ledger := stock.NewLedger(stockRepo, nil, nil, nil)
	engine := stock.NewDeductionEngine(stock.DefaultEpsilon, slog.Default())
	batchRepo := &fakeBatchRepo{}
	cat := &fakeCatalog{err: stock.ErrDependencyUnavailable}
	svc := production.NewService(batchRepo, ledger, engine, cat, nil, nil, nil, nil, slog.Default())

	stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 500, Unit: "kg"})

	_, err := svc.RunProduction(context.Background(), wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 4, WarehouseID: 2},
	), "")
	require.ErrorIs(t, err, stock.ErrDependencyUnavailable)
	require.Empty(t, stockRepo.Movements())
	require.Empty(t, batchRepo.batches)
}

func TestBatchStateMachine(t *testing.T) {
	b := production.Batch{Status: production.StatusRequested}
	require.NoError(t, b.Advance(production.StatusMaterialsChecked))
	require.NoError(t, b.Advance(production.StatusMaterialsDeducted))
	require.NoError(t, b.Advance(production.StatusOutputsCredited))
	require.NoError(t, b.Advance(production.StatusCompleted))

	// Rejection is only reachable from the materials gate.
	rejected := production.Batch{Status: production.StatusMaterialsDeducted}
	err := rejected.Advance(production.StatusRejected)
	require.ErrorIs(t, err, production.ErrInvalidTransition)
	require.True(t, strings.Contains(err.Error(), "MATERIALS_DEDUCTED"))
}

// replayingStockRepo runs each transaction closure once with its writes
// discarded before the committing run, the way the pool helper re-runs a
// closure after a serialization failure.
type replayingStockRepo struct {
	*stocktest.MemoryRepository
	replays int
}

var errDiscardAttempt = errors.New("discard attempt")

func (r *replayingStockRepo) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	for ; r.replays > 0; r.replays-- {
		err := r.MemoryRepository.WithTx(ctx, func(ctx context.Context, tx stock.TxRepository) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return errDiscardAttempt
		})
		if err != nil && !errors.Is(err, errDiscardAttempt) {
			return err
		}
	}
	return r.MemoryRepository.WithTx(ctx, fn)
}

func TestRunProductionSurvivesTransactionReplay(t *testing.T) {
	ctx := context.Background()
	stockRepo := stocktest.NewMemoryRepository()
	replaying := &replayingStockRepo{MemoryRepository: stockRepo, replays: 1}
	ledger := stock.NewLedger(replaying, nil, nil, nil)
	engine := stock.NewDeductionEngine(stock.DefaultEpsilon, slog.Default())
	batchRepo := &fakeBatchRepo{}
	cat := &fakeCatalog{products: map[string]catalog.Product{
		"Premium Flour": {ID: 7, Name: "Premium Flour", Unit: "kg", CommodityClass: "flour", MinimumQty: 50, ReorderQty: 100},
	}}
	svc := production.NewService(batchRepo, ledger, engine, cat, nil, nil, nil, nil, slog.Default())

	wheat := stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 120, Unit: "kg"})

	batch, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 25, UnitCount: 3, WarehouseID: 2},
	), "")
	require.NoError(t, err)
	require.Equal(t, production.StatusCompleted, batch.Status)
	require.Zero(t, replaying.replays)

	// Only the committing run's movements land: one deduction, one credit.
	require.Len(t, stockRepo.Movements(), 2)
	after, err := stockRepo.GetRecord(ctx, wheat.ID)
	require.NoError(t, err)
	require.InDelta(t, 20.0, after.Quantity, 1e-9)
}

func TestRunProductionRejectsOutputsHeavierThanInput(t *testing.T) {
	svc, stockRepo, batchRepo := newTestService(t)
	ctx := context.Background()

	stockRepo.Seed(stock.Record{Name: "Hard Wheat", Category: "wheat", WarehouseID: 1, Quantity: 200, Unit: "kg"})

	// 15 sacks of 10 kg claim 150 kg out of a 100 kg milling run.
	_, err := svc.RunProduction(ctx, wheatBatch(
		production.OutputLine{ProductName: "Premium Flour", UnitWeight: 10, UnitCount: 15, WarehouseID: 2},
	), "")
	require.ErrorIs(t, err, production.ErrOutputsExceedInput)
	require.Empty(t, stockRepo.Movements())
	require.Empty(t, batchRepo.batches)
}
