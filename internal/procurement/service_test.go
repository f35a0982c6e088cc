package procurement_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/granary-erp/granary-erp/internal/catalog"
	"github.com/granary-erp/granary-erp/internal/procurement"
	"github.com/granary-erp/granary-erp/internal/stock"
	"github.com/granary-erp/granary-erp/internal/stock/stocktest"
)

type fakePurchaseRepo struct {
	txns   []procurement.Transaction
	nextID int64
}

func (f *fakePurchaseRepo) SaveTransaction(_ context.Context, t procurement.Transaction) (procurement.Transaction, error) {
	f.nextID++
	t.ID = f.nextID
	f.txns = append(f.txns, t)
	return t, nil
}

func (f *fakePurchaseRepo) GetTransaction(_ context.Context, id int64) (procurement.Transaction, error) {
	for _, t := range f.txns {
		if t.ID == id {
			return t, nil
		}
	}
	return procurement.Transaction{}, procurement.ErrTransactionNotFound
}

func (f *fakePurchaseRepo) ListTransactions(_ context.Context, _ int) ([]procurement.Transaction, error) {
	return f.txns, nil
}

type fakeCatalog struct {
	products map[string]catalog.Product
}

func (f *fakeCatalog) FindProductByIDOrName(_ context.Context, _ int64, name string) (catalog.Product, error) {
	if p, ok := f.products[name]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func newTestService(t *testing.T) (*procurement.Service, *stocktest.MemoryRepository, *fakePurchaseRepo) {
	t.Helper()
	stockRepo := stocktest.NewMemoryRepository()
	ledger := stock.NewLedger(stockRepo, nil, nil, nil)
	repo := &fakePurchaseRepo{}
	cat := &fakeCatalog{products: map[string]catalog.Product{
		"Raw Wheat": {ID: 3, Name: "Raw Wheat", Unit: "kg", Category: "wheat", MinimumQty: 500, ReorderQty: 1000},
	}}
	return procurement.NewService(repo, ledger, cat, nil, nil, nil), stockRepo, repo
}

func cost(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRunPurchaseCreditsExistingRecord(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	rec := stockRepo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, Quantity: 100, MinimumQty: 500, Unit: "kg"})

	txn, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID:  1,
		SupplierName: "Delta Grain Co",
		Lines: []procurement.Line{
			{ProductName: "Raw Wheat", Quantity: 900, Unit: "kg", UnitCost: cost("0.55")},
		},
	}, "")
	require.NoError(t, err)
	require.Equal(t, rec.ID, txn.Lines[0].RecordID)
	require.True(t, txn.TotalAmount().Equal(cost("495.00")))

	after, err := stockRepo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 1000.0, after.Quantity, 1e-9)
	require.Equal(t, stock.StatusActive, after.Status)
}

func TestRunPurchaseCreatesRecordWithCatalogDefaults(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	txn, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID: 1,
		Lines: []procurement.Line{
			{ProductName: "Raw Wheat", Quantity: 2000, UnitCost: cost("0.52")},
		},
	}, "")
	require.NoError(t, err)

	rec, err := stockRepo.GetRecord(ctx, txn.Lines[0].RecordID)
	require.NoError(t, err)
	require.Equal(t, "Raw Wheat", rec.Name)
	require.Equal(t, "kg", rec.Unit)
	require.InDelta(t, 500.0, rec.MinimumQty, 1e-9)
	require.InDelta(t, 1000.0, rec.ReorderQty, 1e-9)
	require.InDelta(t, 2000.0, rec.Quantity, 1e-9)
}

func TestRunPurchaseLineThresholdsBeatCatalogDefaults(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	txn, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID: 1,
		Lines: []procurement.Line{
			{ProductName: "Raw Wheat", Quantity: 50, Unit: "ton", UnitCost: cost("520"), MinimumQty: 5, ReorderQty: 10},
		},
	}, "")
	require.NoError(t, err)

	rec, err := stockRepo.GetRecord(ctx, txn.Lines[0].RecordID)
	require.NoError(t, err)
	require.Equal(t, "ton", rec.Unit)
	require.InDelta(t, 5.0, rec.MinimumQty, 1e-9)
	require.InDelta(t, 10.0, rec.ReorderQty, 1e-9)
}

func TestRunPurchaseUnknownProductStillLands(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	// Nothing in the catalog and nothing in stock; the line itself is
	// enough to create a free-text record.
	txn, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID: 2,
		Lines: []procurement.Line{
			{ProductName: "Packing Bags 50kg", Category: "packaging", Quantity: 400, Unit: "pcs", UnitCost: cost("0.30")},
		},
	}, "")
	require.NoError(t, err)

	rec, err := stockRepo.GetRecord(ctx, txn.Lines[0].RecordID)
	require.NoError(t, err)
	require.Equal(t, "Packing Bags 50kg", rec.Name)
	require.Equal(t, "packaging", rec.Category)
	require.InDelta(t, 400.0, rec.Quantity, 1e-9)
}

func TestRunPurchaseMultiLineSharesNewRecord(t *testing.T) {
	svc, stockRepo, _ := newTestService(t)
	ctx := context.Background()

	// Two lines of the same product in one purchase: the first creates
	// the record, the second lands on it instead of duplicating.
	txn, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID: 1,
		Lines: []procurement.Line{
			{ProductName: "Raw Wheat", Quantity: 1000, Unit: "kg", UnitCost: cost("0.55")},
			{ProductName: "Raw Wheat", Quantity: 500, Unit: "kg", UnitCost: cost("0.53")},
		},
	}, "")
	require.NoError(t, err)
	require.Equal(t, txn.Lines[0].RecordID, txn.Lines[1].RecordID)

	records, err := stockRepo.ListByWarehouse(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.InDelta(t, 1500.0, records[0].Quantity, 1e-9)
}

func TestRunPurchaseUnitMismatchRollsBackWholePurchase(t *testing.T) {
	svc, stockRepo, repo := newTestService(t)
	ctx := context.Background()

	good := stockRepo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, Quantity: 100, Unit: "kg"})
	stockRepo.Seed(stock.Record{Name: "Wheat Bran", WarehouseID: 1, Quantity: 10, Unit: "ton"})

	_, err := svc.RunPurchase(ctx, procurement.Transaction{
		WarehouseID: 1,
		Lines: []procurement.Line{
			{ProductName: "Raw Wheat", Quantity: 500, Unit: "kg", UnitCost: cost("0.55")},
			{ProductName: "Wheat Bran", Quantity: 200, Unit: "kg", UnitCost: cost("0.20")},
		},
	}, "")
	require.ErrorIs(t, err, stock.ErrUnitMismatch)

	after, err := stockRepo.GetRecord(ctx, good.ID)
	require.NoError(t, err)
	require.InDelta(t, 100.0, after.Quantity, 1e-9)
	require.Empty(t, stockRepo.Movements())
	require.Empty(t, repo.txns)
}
