package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/granary-erp/granary-erp/internal/observability"
)

// RepositoryPort abstracts persistence for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id int64) (Record, error)
	ListByWarehouse(ctx context.Context, warehouseID int64) ([]Record, error)
	ListMovements(ctx context.Context, recordID int64, limit int) ([]Movement, error)
	ListWarehouseMovements(ctx context.Context, warehouseID int64, limit int) ([]Movement, error)
	CountByStatus(ctx context.Context, warehouseID int64) (map[Status]int, error)
	SumMovements(ctx context.Context, recordID int64) (float64, error)
}

// TxRepository exposes the transactional operations the ledger needs. Every
// record read inside a transaction is locked for update.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	CandidatesForUpdate(ctx context.Context, warehouseID int64) ([]Record, error)
	CreateRecord(ctx context.Context, rec Record) (int64, error)
	UpdateRecordState(ctx context.Context, id int64, quantity float64, status Status) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// Observer receives stock status alerts after a transaction commits.
// Implementations are fire-and-forget; they must not block.
type Observer interface {
	OnLowStock(ctx context.Context, rec Record)
	OnOutOfStock(ctx context.Context, rec Record)
	OnNegativeStock(ctx context.Context, rec Record, m Movement)
}

// Ledger is the sole mutator of record quantities and the append-only
// movement log. Movements with the same correlation id are NOT deduplicated
// here; reconcilers own at-most-once posting per logical event.
type Ledger struct {
	repo     RepositoryPort
	observer Observer
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger constructs the ledger. Observer and metrics may be nil.
func NewLedger(repo RepositoryPort, observer Observer, metrics *observability.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, observer: observer, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the ledger clock for testing.
func (l *Ledger) WithNow(fn func() time.Time) {
	if fn != nil {
		l.now = fn
	}
}

// ApplyMovement posts a single movement in its own transaction.
func (l *Ledger) ApplyMovement(ctx context.Context, in MovementInput) (Record, Movement, error) {
	var (
		rec Record
		mv  Movement
	)
	err := l.InTx(ctx, func(ctx context.Context, tx *TxLedger) error {
		var err error
		rec, mv, err = tx.Apply(ctx, in)
		return err
	})
	if err != nil {
		return Record{}, Movement{}, err
	}
	return rec, mv, nil
}

// InTx runs fn against a transaction-scoped ledger. All movements applied
// through the scope commit as a single unit or not at all; observers fire
// only after the commit succeeds.
func (l *Ledger) InTx(ctx context.Context, fn func(context.Context, *TxLedger) error) error {
	var (
		events []event
		posted []Direction
	)
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		scope := &TxLedger{ledger: l, tx: tx}
		if err := fn(ctx, scope); err != nil {
			return err
		}
		events = scope.events
		posted = scope.posted
		return nil
	})
	if err != nil {
		return err
	}
	if l.metrics != nil {
		for _, d := range posted {
			l.metrics.ObserveMovement(string(d))
		}
	}
	for _, ev := range events {
		l.notify(ctx, ev)
	}
	return nil
}

// GetRecord reads the latest committed state of a record.
func (l *Ledger) GetRecord(ctx context.Context, id int64) (Record, error) {
	return l.repo.GetRecord(ctx, id)
}

// WarehouseRecords lists the committed records of a warehouse, for display
// and resolution on read paths. Staleness is acceptable here.
func (l *Ledger) WarehouseRecords(ctx context.Context, warehouseID int64) ([]Record, error) {
	return l.repo.ListByWarehouse(ctx, warehouseID)
}

// Movements lists a record's movement history, oldest first.
func (l *Ledger) Movements(ctx context.Context, recordID int64, limit int) ([]Movement, error) {
	return l.repo.ListMovements(ctx, recordID, limit)
}

// WarehouseMovements lists a warehouse's most recent movements, newest first.
func (l *Ledger) WarehouseMovements(ctx context.Context, warehouseID int64, limit int) ([]Movement, error) {
	return l.repo.ListWarehouseMovements(ctx, warehouseID, limit)
}

// StatusBreakdown counts a warehouse's records per status.
func (l *Ledger) StatusBreakdown(ctx context.Context, warehouseID int64) (map[Status]int, error) {
	return l.repo.CountByStatus(ctx, warehouseID)
}

// VerifyRecord replays a record's movements and reports the drift between
// the replayed sum and the materialized quantity. A non-zero drift means the
// ledger invariant was violated outside this package.
func (l *Ledger) VerifyRecord(ctx context.Context, recordID int64) (float64, error) {
	rec, err := l.repo.GetRecord(ctx, recordID)
	if err != nil {
		return 0, err
	}
	sum, err := l.repo.SumMovements(ctx, recordID)
	if err != nil {
		return 0, err
	}
	drift := rec.Quantity - sum
	if math.Abs(drift) < 1e-9 {
		return 0, nil
	}
	return drift, nil
}

type eventKind int

const (
	eventLowStock eventKind = iota
	eventOutOfStock
	eventNegativeStock
)

type event struct {
	kind     eventKind
	record   Record
	movement Movement
}

func (l *Ledger) notify(ctx context.Context, ev event) {
	if l.observer == nil {
		return
	}
	switch ev.kind {
	case eventLowStock:
		l.observer.OnLowStock(ctx, ev.record)
	case eventOutOfStock:
		l.observer.OnOutOfStock(ctx, ev.record)
	case eventNegativeStock:
		l.observer.OnNegativeStock(ctx, ev.record, ev.movement)
	}
}

// TxLedger is the ledger scoped to one open transaction.
type TxLedger struct {
	ledger *Ledger
	tx     TxRepository
	events []event
	posted []Direction
}

// Apply appends one movement and recomputes the record's quantity and
// status. An `out` movement larger than the current quantity still succeeds
// and drives the quantity negative; the resulting alert surfaces the
// overdraft instead of losing the physical transaction.
func (t *TxLedger) Apply(ctx context.Context, in MovementInput) (Record, Movement, error) {
	if err := in.Validate(); err != nil {
		return Record{}, Movement{}, err
	}
	rec, err := t.tx.GetRecordForUpdate(ctx, in.RecordID)
	if err != nil {
		return Record{}, Movement{}, err
	}
	if in.Unit != "" && rec.Unit != "" && in.Unit != rec.Unit {
		return Record{}, Movement{}, fmt.Errorf("%w: movement %s vs record %s", ErrUnitMismatch, in.Unit, rec.Unit)
	}

	now := t.ledger.now().UTC()
	mv := Movement{
		RecordID:      rec.ID,
		Direction:     in.Direction,
		Quantity:      in.Quantity,
		Reason:        in.Reason,
		CorrelationID: in.CorrelationID,
		WarehouseID:   rec.WarehouseID,
		PostedAt:      now,
		ActorID:       in.ActorID,
	}
	mvID, err := t.tx.InsertMovement(ctx, mv)
	if err != nil {
		return Record{}, Movement{}, err
	}
	mv.ID = mvID

	prevStatus := rec.Status
	rec.Quantity += mv.Signed()
	rec.Status = NextStatus(prevStatus, rec.Quantity, rec.MinimumQty)
	rec.UpdatedAt = now
	if err := t.tx.UpdateRecordState(ctx, rec.ID, rec.Quantity, rec.Status); err != nil {
		return Record{}, Movement{}, err
	}

	if rec.Quantity < 0 {
		t.events = append(t.events, event{kind: eventNegativeStock, record: rec, movement: mv})
	}
	if rec.Status != prevStatus {
		switch rec.Status {
		case StatusLowStock:
			t.events = append(t.events, event{kind: eventLowStock, record: rec})
		case StatusOutOfStock:
			t.events = append(t.events, event{kind: eventOutOfStock, record: rec})
		}
	}

	t.posted = append(t.posted, in.Direction)
	return rec, mv, nil
}

// Record reads the current in-transaction state of a record, locked.
func (t *TxLedger) Record(ctx context.Context, id int64) (Record, error) {
	return t.tx.GetRecordForUpdate(ctx, id)
}

// Candidates reads and locks all records of a warehouse, so resolution and
// subsequent deduction see a consistent snapshot no concurrent deduction can
// interleave with.
func (t *TxLedger) Candidates(ctx context.Context, warehouseID int64) ([]Record, error) {
	return t.tx.CandidatesForUpdate(ctx, warehouseID)
}

// CreateRecord synthesizes a new record (resolver step 5). The record starts
// at zero quantity; only Apply moves it.
func (t *TxLedger) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.WarehouseID <= 0 {
		return Record{}, errors.New("stock: warehouse required")
	}
	if rec.CatalogID == 0 && rec.Name == "" {
		return Record{}, errors.New("stock: catalog id or name required")
	}
	rec.Quantity = 0
	rec.Status = NextStatus(rec.Status, 0, rec.MinimumQty)
	now := t.ledger.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	id, err := t.tx.CreateRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}
