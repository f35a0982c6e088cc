// Package notify turns post-commit stock events into alert tasks.
package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/granary-erp/granary-erp/internal/observability"
	"github.com/granary-erp/granary-erp/internal/stock"
	"github.com/granary-erp/granary-erp/jobs"
)

// Enqueuer is the slice of asynq.Client the observer needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Observer enqueues alert tasks when records cross thresholds. It runs after
// commit and must never block or fail the movement that triggered it; enqueue
// failures are logged and dropped.
type Observer struct {
	enqueuer Enqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewObserver constructs the observer. enqueuer and metrics may be nil, which
// degrades to log-only alerting.
func NewObserver(enqueuer Enqueuer, metrics *observability.Metrics, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{enqueuer: enqueuer, metrics: metrics, logger: logger}
}

var _ stock.Observer = (*Observer)(nil)

// OnLowStock fires when a record drops to or below its minimum.
func (o *Observer) OnLowStock(ctx context.Context, rec stock.Record) {
	o.logger.Warn("stock low",
		slog.Int64("record", rec.ID), slog.String("name", rec.Name),
		slog.Int64("warehouse", rec.WarehouseID), slog.Float64("quantity", rec.Quantity),
		slog.Float64("minimum", rec.MinimumQty))
	o.emit(ctx, jobs.AlertKindLow, rec, 0)
}

// OnOutOfStock fires when a record reaches zero.
func (o *Observer) OnOutOfStock(ctx context.Context, rec stock.Record) {
	o.logger.Warn("stock depleted",
		slog.Int64("record", rec.ID), slog.String("name", rec.Name),
		slog.Int64("warehouse", rec.WarehouseID))
	o.emit(ctx, jobs.AlertKindOut, rec, 0)
}

// OnNegativeStock fires when an overdraft drives a record negative.
func (o *Observer) OnNegativeStock(ctx context.Context, rec stock.Record, mv stock.Movement) {
	o.logger.Warn("stock overdrawn",
		slog.Int64("record", rec.ID), slog.String("name", rec.Name),
		slog.Int64("warehouse", rec.WarehouseID), slog.Float64("quantity", rec.Quantity),
		slog.String("reason", mv.Reason), slog.String("correlation", mv.CorrelationID))
	o.emit(ctx, jobs.AlertKindNegative, rec, mv.ID)
}

func (o *Observer) emit(ctx context.Context, kind string, rec stock.Record, movementID int64) {
	if o.metrics != nil {
		o.metrics.ObserveStockAlert(kind)
	}
	if o.enqueuer == nil {
		return
	}
	task, err := jobs.NewStockAlertTask(jobs.StockAlertPayload{
		Kind:        kind,
		RecordID:    rec.ID,
		Name:        rec.Name,
		WarehouseID: rec.WarehouseID,
		Quantity:    rec.Quantity,
		MinimumQty:  rec.MinimumQty,
		ReorderQty:  rec.ReorderQty,
		MovementID:  movementID,
	})
	if err != nil {
		o.logger.Error("build stock alert task", slog.Any("error", err))
		return
	}
	if _, err := o.enqueuer.EnqueueContext(ctx, task); err != nil {
		o.logger.Error("enqueue stock alert", slog.String("kind", kind),
			slog.Int64("record", rec.ID), slog.Any("error", err))
	}
}
