package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/granary-erp/granary-erp/internal/catalog"
	"github.com/granary-erp/granary-erp/internal/observability"
	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

// CatalogPort is the catalog lookup the reconciler depends on. Lookups run
// under the catalog's request-scoped timeout; a timeout surfaces as
// stock.ErrDependencyUnavailable before any movement posts.
type CatalogPort interface {
	FindProductByIDOrName(ctx context.Context, id int64, name string) (catalog.Product, error)
}

// Service runs production batches against the stock ledger.
type Service struct {
	repo    Repository
	ledger  *stock.Ledger
	engine  *stock.DeductionEngine
	catalog CatalogPort
	locks   *shared.LockManager
	idem    *shared.IdempotencyStore
	audit   *shared.AuditLogger
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService constructs the production service. locks, idem, audit and
// metrics may be nil in tests.
func NewService(repo Repository, ledger *stock.Ledger, engine *stock.DeductionEngine, cat CatalogPort, locks *shared.LockManager, idem *shared.IdempotencyStore, audit *shared.AuditLogger, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, engine: engine, catalog: cat, locks: locks, idem: idem, audit: audit, metrics: metrics, logger: logger}
}

// lineDefaults carries catalog metadata resolved ahead of the transaction.
type lineDefaults struct {
	unit    string
	minimum float64
	reorder float64
}

// RunProduction executes one batch: verify raw materials, deduct them, and
// credit the outputs, all in a single ledger transaction. A batch that fails
// the materials gate is persisted as Rejected with no movements posted.
func (s *Service) RunProduction(ctx context.Context, batch Batch, idempotencyKey string) (Batch, error) {
	if err := batch.Validate(); err != nil {
		return Batch{}, err
	}
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, "production"); err != nil {
			return Batch{}, err
		}
	}
	if batch.Reference == "" {
		batch.Reference = uuid.NewString()
	}
	batch.Status = StatusRequested

	if err := s.enrichMaterial(ctx, &batch); err != nil {
		return Batch{}, err
	}
	defaults, err := s.resolveOutputDefaults(ctx, batch)
	if err != nil {
		return Batch{}, err
	}

	// Heuristic matching can pull in records created mid-flight; the
	// advisory lock serialises runs over the same commodity pile.
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, shared.StockLockKey(batch.SourceWarehouseID, s.commodityKey(batch.Material)))
		if err != nil {
			return Batch{}, err
		}
		defer release()
	}

	var shortfall float64
	txErr := s.ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		// The transaction may be replayed after a serialization
		// failure, so every attempt walks the state machine on its own
		// copy and starts from a clean shortfall.
		attempt := batch
		shortfall = 0

		candidates, err := tx.Candidates(ctx, attempt.SourceWarehouseID)
		if err != nil {
			return err
		}
		matches, err := stock.Resolve(attempt.Material, candidates, stock.ResolveOptions{PreferStocked: true, Require: true})
		if err != nil {
			return err
		}
		records := stock.Records(matches)

		var available float64
		for _, r := range records {
			if r.Quantity > 0 {
				available += r.Quantity
			}
		}
		if available <= 0 {
			return fmt.Errorf("%w: no stocked raw material for %q in warehouse %d",
				stock.ErrInsufficientStock, s.commodityKey(attempt.Material), attempt.SourceWarehouseID)
		}
		if available+stock.DefaultEpsilon < attempt.RequestedQty {
			return fmt.Errorf("%w: need %.2f %s, only %.2f available",
				stock.ErrInsufficientStock, attempt.RequestedQty, attempt.Unit, available)
		}
		if err := attempt.Advance(StatusMaterialsChecked); err != nil {
			return err
		}

		result, err := s.engine.Deduct(ctx, tx, records, attempt.RequestedQty, "production/"+attempt.Reference, attempt.Reference, attempt.ActorID)
		if err != nil {
			return err
		}
		shortfall = result.Shortfall
		if err := attempt.Advance(StatusMaterialsDeducted); err != nil {
			return err
		}

		for i, line := range attempt.Outputs {
			unit := defaults[i].unit
			if unit == "" {
				unit = attempt.Unit
			}
			rec, err := s.resolveOrCreateOutput(ctx, tx, line, unit, defaults[i])
			if err != nil {
				return err
			}
			if _, _, err := tx.Apply(ctx, stock.MovementInput{
				RecordID:      rec.ID,
				Direction:     stock.DirectionIn,
				Quantity:      line.TotalWeight(),
				Unit:          unit,
				Reason:        "production/" + attempt.Reference + "/output",
				CorrelationID: attempt.Reference,
				ActorID:       attempt.ActorID,
			}); err != nil {
				return err
			}
		}
		if err := attempt.Advance(StatusOutputsCredited); err != nil {
			return err
		}
		batch = attempt
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, stock.ErrInsufficientStock) || errors.Is(txErr, stock.ErrNoMatch) {
			return s.reject(ctx, batch, txErr)
		}
		return Batch{}, txErr
	}

	if shortfall > 0 {
		s.logger.Warn("production shortfall forced onto largest pile",
			slog.String("batch", batch.Reference), slog.Float64("shortfall", shortfall))
		if s.metrics != nil {
			s.metrics.ObserveShortfall(shortfall)
		}
	}

	if err := batch.Advance(StatusCompleted); err != nil {
		return Batch{}, err
	}
	batch.ComputeWastage()
	saved, err := s.repo.SaveBatch(ctx, batch)
	if err != nil {
		// Movements committed; the batch header must not be lost silently.
		s.logger.Error("batch completed but header save failed",
			slog.String("batch", batch.Reference), slog.Any("error", err))
		return Batch{}, err
	}
	s.recordAudit(ctx, saved, shortfall)
	return saved, nil
}

func (s *Service) recordAudit(ctx context.Context, batch Batch, shortfall float64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  batch.ActorID,
		Action:   "production.completed",
		Entity:   "production_batch",
		EntityID: strconv.FormatInt(batch.ID, 10),
		Meta: map[string]any{
			"reference": batch.Reference,
			"requested": batch.RequestedQty,
			"wastage":   batch.Wastage,
			"shortfall": shortfall,
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("batch", batch.Reference), slog.Any("error", err))
	}
}

// reject persists the batch in its terminal Rejected state. No movements
// were posted; the transaction rolled back before any Apply succeeded.
func (s *Service) reject(ctx context.Context, batch Batch, cause error) (Batch, error) {
	batch.Status = StatusRejected
	batch.RejectReason = cause.Error()
	if _, err := s.repo.SaveBatch(ctx, batch); err != nil {
		s.logger.Error("failed to persist rejected batch",
			slog.String("batch", batch.Reference), slog.Any("error", err))
	}
	return Batch{}, cause
}

// enrichMaterial fills commodity class and unit from the catalog when the
// request left them blank. A missing catalog entry is tolerated; an
// unavailable catalog is not.
func (s *Service) enrichMaterial(ctx context.Context, batch *Batch) error {
	if s.catalog == nil || (batch.Material.Commodity != "" && batch.Unit != "") {
		return nil
	}
	p, err := s.catalog.FindProductByIDOrName(ctx, batch.Material.CatalogID, batch.Material.Name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil
		}
		return err
	}
	if batch.Material.Commodity == "" {
		batch.Material.Commodity = p.CommodityClass
	}
	if batch.Unit == "" {
		batch.Unit = p.Unit
	}
	return nil
}

// resolveOutputDefaults looks up catalog metadata for every output line
// before the transaction opens, so a slow catalog never holds row locks.
func (s *Service) resolveOutputDefaults(ctx context.Context, batch Batch) ([]lineDefaults, error) {
	defaults := make([]lineDefaults, len(batch.Outputs))
	for i, line := range batch.Outputs {
		defaults[i] = lineDefaults{unit: batch.Unit}
		if s.catalog == nil {
			continue
		}
		p, err := s.catalog.FindProductByIDOrName(ctx, line.ProductID, line.ProductName)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		defaults[i] = lineDefaults{unit: p.Unit, minimum: p.MinimumQty, reorder: p.ReorderQty}
		if defaults[i].unit == "" {
			defaults[i].unit = batch.Unit
		}
	}
	return defaults, nil
}

func (s *Service) resolveOrCreateOutput(ctx context.Context, tx *stock.TxLedger, line OutputLine, unit string, d lineDefaults) (stock.Record, error) {
	candidates, err := tx.Candidates(ctx, line.WarehouseID)
	if err != nil {
		return stock.Record{}, err
	}
	ref := stock.ProductRef{CatalogID: line.ProductID, Name: line.ProductName}
	matches, err := stock.Resolve(ref, candidates, stock.ResolveOptions{PreferStocked: true})
	if err != nil {
		return stock.Record{}, err
	}
	if len(matches) > 0 {
		return matches[0].Record, nil
	}
	return tx.CreateRecord(ctx, stock.NewRecordFromRef(ref, line.WarehouseID, unit, d.minimum, d.reorder))
}

// commodityKey picks the lock scope for a material. Falls back to the name
// when no commodity class is known.
func (s *Service) commodityKey(ref stock.ProductRef) string {
	if ref.Commodity != "" {
		return ref.Commodity
	}
	return ref.Name
}

// GetBatch fetches one batch with its output lines.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches lists recent batches.
func (s *Service) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListBatches(ctx, limit)
}
