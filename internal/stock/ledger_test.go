package stock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/granary-erp/granary-erp/internal/stock"
	"github.com/granary-erp/granary-erp/internal/stock/stocktest"
)

type recordingObserver struct {
	low      []stock.Record
	out      []stock.Record
	negative []stock.Record
}

func (o *recordingObserver) OnLowStock(_ context.Context, rec stock.Record) {
	o.low = append(o.low, rec)
}
func (o *recordingObserver) OnOutOfStock(_ context.Context, rec stock.Record) {
	o.out = append(o.out, rec)
}
func (o *recordingObserver) OnNegativeStock(_ context.Context, rec stock.Record, _ stock.Movement) {
	o.negative = append(o.negative, rec)
}

func newTestLedger(t *testing.T) (*stock.Ledger, *stocktest.MemoryRepository, *recordingObserver) {
	t.Helper()
	repo := stocktest.NewMemoryRepository()
	obs := &recordingObserver{}
	return stock.NewLedger(repo, obs, nil, nil), repo, obs
}

func TestApplyMovementRecomputesStatus(t *testing.T) {
	ledger, repo, obs := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, MinimumQty: 10, Unit: "kg"})

	updated, _, err := ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionIn, Quantity: 30, Reason: "purchase", CorrelationID: "PO-1"})
	require.NoError(t, err)
	require.InDelta(t, 30, updated.Quantity, 1e-9)
	require.Equal(t, stock.StatusActive, updated.Status)

	updated, _, err = ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 25, Reason: "production", CorrelationID: "B-1"})
	require.NoError(t, err)
	require.InDelta(t, 5, updated.Quantity, 1e-9)
	require.Equal(t, stock.StatusLowStock, updated.Status)
	require.Len(t, obs.low, 1)

	updated, _, err = ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 5, Reason: "production", CorrelationID: "B-2"})
	require.NoError(t, err)
	require.Equal(t, stock.StatusOutOfStock, updated.Status)
	require.Len(t, obs.out, 1)
}

func TestOverdraftSucceedsAndAlerts(t *testing.T) {
	ledger, repo, obs := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, Quantity: 10, MinimumQty: 5})

	updated, _, err := ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 15, Reason: "production", CorrelationID: "B-9"})
	require.NoError(t, err)
	require.InDelta(t, -5, updated.Quantity, 1e-9)
	require.Equal(t, stock.StatusOutOfStock, updated.Status)
	require.Len(t, obs.negative, 1)
	require.InDelta(t, -5, obs.negative[0].Quantity, 1e-9)
}

func TestLedgerReplayEqualsQuantity(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Fine Flour", WarehouseID: 2, MinimumQty: 20})

	inputs := []stock.MovementInput{
		{RecordID: rec.ID, Direction: stock.DirectionIn, Quantity: 120.5, Reason: "production", CorrelationID: "B-1"},
		{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 45.25, Reason: "sale", CorrelationID: "S-1"},
		{RecordID: rec.ID, Direction: stock.DirectionIn, Quantity: 10, Reason: "sale-return", CorrelationID: "S-1"},
		{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 5.25, Reason: "sale", CorrelationID: "S-2"},
	}
	for _, in := range inputs {
		_, _, err := ledger.ApplyMovement(ctx, in)
		require.NoError(t, err)
	}

	current, err := ledger.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	sum, err := repo.SumMovements(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, current.Quantity, sum, 1e-9)

	drift, err := ledger.VerifyRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Zero(t, drift)
}

func TestNoPhantomStock(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Fine Flour", WarehouseID: 1, Quantity: 33, MinimumQty: 5})

	_, _, err := ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionIn, Quantity: 40, Reason: "purchase", CorrelationID: "PO-7"})
	require.NoError(t, err)
	_, _, err = ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 40, Reason: "sale", CorrelationID: "S-7"})
	require.NoError(t, err)

	current, err := ledger.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 33, current.Quantity, 1e-9)
}

func TestInTxIsAllOrNothing(t *testing.T) {
	ledger, repo, obs := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, Quantity: 100, MinimumQty: 10})

	boom := errors.New("crediting failed")
	err := ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		if _, _, err := tx.Apply(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 60, Reason: "production", CorrelationID: "B-3"}); err != nil {
			return err
		}
		if _, _, err := tx.Apply(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionOut, Quantity: 50, Reason: "production", CorrelationID: "B-3"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	current, err := ledger.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 100, current.Quantity, 1e-9)
	require.Empty(t, repo.Movements())
	require.Empty(t, obs.low)
	require.Empty(t, obs.negative)
}

func TestApplyRejectsUnitMismatch(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	rec := repo.Seed(stock.Record{Name: "Raw Wheat", WarehouseID: 1, Quantity: 10, Unit: "kg"})

	_, _, err := ledger.ApplyMovement(ctx, stock.MovementInput{RecordID: rec.ID, Direction: stock.DirectionIn, Quantity: 1, Unit: "bag", Reason: "purchase"})
	require.ErrorIs(t, err, stock.ErrUnitMismatch)
}

func TestCreateRecordStartsAtZero(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	var created stock.Record
	err := ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		var err error
		created, err = tx.CreateRecord(ctx, stock.Record{Name: "Bran", Category: "By-Product", WarehouseID: 2, Quantity: 99, MinimumQty: 10})
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Zero(t, created.Quantity)
	require.Equal(t, stock.StatusOutOfStock, created.Status)
}
