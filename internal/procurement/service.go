package procurement

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/granary-erp/granary-erp/internal/catalog"
	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

// CatalogPort is the catalog lookup used to fill metadata on new records.
type CatalogPort interface {
	FindProductByIDOrName(ctx context.Context, id int64, name string) (catalog.Product, error)
}

// Service runs purchase transactions against the stock ledger.
type Service struct {
	repo    Repository
	ledger  *stock.Ledger
	catalog CatalogPort
	idem    *shared.IdempotencyStore
	audit   *shared.AuditLogger
	logger  *slog.Logger
}

// NewService constructs the procurement service. catalog, idem and audit may
// be nil in tests.
func NewService(repo Repository, ledger *stock.Ledger, cat CatalogPort, idem *shared.IdempotencyStore, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: cat, idem: idem, audit: audit, logger: logger}
}

// RunPurchase reconciles one purchase. Every line resolves to a stock record
// or creates one, then posts an in movement; there is no feasibility gate on
// inbound stock. All movements of the purchase commit as a unit.
func (s *Service) RunPurchase(ctx context.Context, txn Transaction, idempotencyKey string) (Transaction, error) {
	if err := txn.Validate(); err != nil {
		return Transaction{}, err
	}
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, "procurement"); err != nil {
			return Transaction{}, err
		}
	}
	if txn.Reference == "" {
		txn.Reference = uuid.NewString()
	}

	// Catalog metadata resolves ahead of the transaction so a slow
	// catalog never holds row locks. A missing product is fine; the line
	// carries enough to create a free-text record.
	defaults := make([]catalog.Product, len(txn.Lines))
	for i, line := range txn.Lines {
		if s.catalog == nil {
			continue
		}
		p, err := s.catalog.FindProductByIDOrName(ctx, line.ProductID, line.ProductName)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return Transaction{}, err
		}
		defaults[i] = p
	}

	err := s.ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		candidates, err := tx.Candidates(ctx, txn.WarehouseID)
		if err != nil {
			return err
		}
		for i := range txn.Lines {
			line := &txn.Lines[i]
			rec, created, err := s.resolveOrCreate(ctx, tx, candidates, txn.WarehouseID, *line, defaults[i])
			if err != nil {
				return err
			}
			if created {
				candidates = append(candidates, rec)
			}
			if _, _, err := tx.Apply(ctx, stock.MovementInput{
				RecordID:      rec.ID,
				Direction:     stock.DirectionIn,
				Quantity:      line.Quantity,
				Unit:          line.Unit,
				Reason:        "purchase/" + txn.Reference,
				CorrelationID: txn.Reference,
				ActorID:       txn.ActorID,
			}); err != nil {
				return err
			}
			line.RecordID = rec.ID
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	saved, err := s.repo.SaveTransaction(ctx, txn)
	if err != nil {
		s.logger.Error("purchase completed but header save failed",
			slog.String("purchase", txn.Reference), slog.Any("error", err))
		return Transaction{}, err
	}
	if s.audit != nil {
		auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  saved.ActorID,
			Action:   "purchase.completed",
			Entity:   "purchase_transaction",
			EntityID: strconv.FormatInt(saved.ID, 10),
			Meta: map[string]any{
				"reference": saved.Reference,
				"warehouse": saved.WarehouseID,
				"total":     saved.TotalAmount().String(),
			},
		})
		if auditErr != nil {
			s.logger.Warn("audit record failed", slog.String("purchase", saved.Reference), slog.Any("error", auditErr))
		}
	}
	return saved, nil
}

// resolveOrCreate finds the record a line lands on, creating it with
// threshold metadata from the line or the catalog when nothing matches.
func (s *Service) resolveOrCreate(ctx context.Context, tx *stock.TxLedger, candidates []stock.Record, warehouseID int64, line Line, def catalog.Product) (stock.Record, bool, error) {
	matches, err := stock.Resolve(line.ref(), candidates, stock.ResolveOptions{PreferStocked: true})
	if err != nil {
		return stock.Record{}, false, err
	}
	if len(matches) > 0 {
		return matches[0].Record, false, nil
	}

	minimum, reorder, unit := line.MinimumQty, line.ReorderQty, line.Unit
	if minimum == 0 {
		minimum = def.MinimumQty
	}
	if reorder == 0 {
		reorder = def.ReorderQty
	}
	if unit == "" {
		unit = def.Unit
	}
	ref := line.ref()
	if ref.Category == "" {
		ref.Category = def.Category
	}
	rec, err := tx.CreateRecord(ctx, stock.NewRecordFromRef(ref, warehouseID, unit, minimum, reorder))
	if err != nil {
		return stock.Record{}, false, err
	}
	return rec, true, nil
}

// GetTransaction fetches one purchase with its lines.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists recent purchases.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, limit)
}
