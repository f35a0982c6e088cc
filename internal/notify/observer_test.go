package notify_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/granary-erp/granary-erp/internal/notify"
	"github.com/granary-erp/granary-erp/internal/stock"
	"github.com/granary-erp/granary-erp/jobs"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestObserverEnqueuesAlertTasks(t *testing.T) {
	enq := &captureEnqueuer{}
	obs := notify.NewObserver(enq, nil, nil)
	ctx := context.Background()

	rec := stock.Record{ID: 4, Name: "Premium Flour", WarehouseID: 2, Quantity: 8, MinimumQty: 10, ReorderQty: 25}
	obs.OnLowStock(ctx, rec)

	rec.Quantity = -5
	obs.OnNegativeStock(ctx, rec, stock.Movement{ID: 77, Reason: "production/B-1/" + stock.ShortfallReasonSuffix})

	require.Len(t, enq.tasks, 2)
	require.Equal(t, jobs.TaskStockAlert, enq.tasks[0].Type())

	var low jobs.StockAlertPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &low))
	require.Equal(t, jobs.AlertKindLow, low.Kind)
	require.Equal(t, int64(4), low.RecordID)
	require.InDelta(t, 10.0, low.MinimumQty, 1e-9)

	var negative jobs.StockAlertPayload
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &negative))
	require.Equal(t, jobs.AlertKindNegative, negative.Kind)
	require.Equal(t, int64(77), negative.MovementID)
	require.InDelta(t, -5.0, negative.Quantity, 1e-9)
}

func TestObserverNilEnqueuerLogsOnly(t *testing.T) {
	obs := notify.NewObserver(nil, nil, nil)
	// Must not panic without an enqueuer or metrics.
	obs.OnOutOfStock(context.Background(), stock.Record{ID: 1, Name: "Bran"})
}
