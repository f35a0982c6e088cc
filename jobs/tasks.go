package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAlert notifies operators about threshold crossings.
	TaskStockAlert = "stock:alert"

	AlertKindLow      = "low"
	AlertKindOut      = "out"
	AlertKindNegative = "negative"
)

// StockAlertPayload describes a record that crossed a threshold.
type StockAlertPayload struct {
	Kind        string  `json:"kind"`
	RecordID    int64   `json:"record_id"`
	Name        string  `json:"name"`
	WarehouseID int64   `json:"warehouse_id"`
	Quantity    float64 `json:"quantity"`
	MinimumQty  float64 `json:"minimum_qty"`
	ReorderQty  float64 `json:"reorder_qty"`
	MovementID  int64   `json:"movement_id,omitempty"`
}

// NewStockAlertTask constructs an Asynq task for a stock alert.
func NewStockAlertTask(payload StockAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlert, data, asynq.Queue(QueueDefault)), nil
}

// StockAlertJob delivers stock alerts. Delivery is currently structured log
// output consumed by the ops alerting pipeline.
type StockAlertJob struct {
	Logger *slog.Logger
}

// NewStockAlertJob initialises the alert handler.
func NewStockAlertJob(logger *slog.Logger) *StockAlertJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockAlertJob{Logger: logger}
}

// Handle processes TaskStockAlert tasks.
func (j *StockAlertJob) Handle(_ context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stock alert: handler not configured")
	}
	var payload StockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	attrs := []any{
		slog.String("kind", payload.Kind),
		slog.Int64("record", payload.RecordID),
		slog.String("name", payload.Name),
		slog.Int64("warehouse", payload.WarehouseID),
		slog.Float64("quantity", payload.Quantity),
	}
	switch payload.Kind {
	case AlertKindLow:
		attrs = append(attrs, slog.Float64("minimum", payload.MinimumQty), slog.Float64("reorder", payload.ReorderQty))
		j.Logger.Warn("reorder needed", attrs...)
	case AlertKindNegative:
		attrs = append(attrs, slog.Int64("movement", payload.MovementID))
		j.Logger.Error("record overdrawn, physical recount required", attrs...)
	default:
		j.Logger.Warn("stock depleted", attrs...)
	}
	return nil
}
