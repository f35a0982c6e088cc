package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/granary-erp/granary-erp/internal/shared"
	"github.com/granary-erp/granary-erp/internal/stock"
)

// Service runs sale transactions against the stock ledger.
type Service struct {
	repo   Repository
	ledger *stock.Ledger
	idem   *shared.IdempotencyStore
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs the sales service. idem and audit may be nil in tests.
func NewService(repo Repository, ledger *stock.Ledger, idem *shared.IdempotencyStore, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, idem: idem, audit: audit, logger: logger}
}

func (s *Service) recordAudit(ctx context.Context, action string, txn Transaction) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  txn.ActorID,
		Action:   action,
		Entity:   "sale_transaction",
		EntityID: strconv.FormatInt(txn.ID, 10),
		Meta: map[string]any{
			"reference": txn.Reference,
			"warehouse": txn.WarehouseID,
			"total":     txn.TotalAmount().String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("sale", txn.Reference), slog.Any("error", err))
	}
}

// RunSale reconciles one sale. Every line resolves to a stocked record and
// passes a hard feasibility check before any movement posts; a single short
// line rejects the whole transaction with nothing moved. Sales never
// overdraw.
func (s *Service) RunSale(ctx context.Context, txn Transaction, idempotencyKey string) (Transaction, error) {
	if err := txn.Validate(); err != nil {
		return Transaction{}, err
	}
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, "sales"); err != nil {
			return Transaction{}, err
		}
	}
	if txn.Reference == "" {
		txn.Reference = uuid.NewString()
	}

	txErr := s.ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		candidates, err := tx.Candidates(ctx, txn.WarehouseID)
		if err != nil {
			return err
		}

		// Resolve and gate every line first. The candidate rows are
		// locked, so the quantities cannot move under us before the
		// deductions below.
		targets := make([]stock.Record, len(txn.Lines))
		for i, line := range txn.Lines {
			matches, err := stock.Resolve(line.ref(), candidates, stock.ResolveOptions{PreferStocked: true, Require: true})
			if err != nil {
				return fmt.Errorf("line %q: %w", line.ProductName, err)
			}
			target := matches[0].Record
			if target.Quantity+stock.DefaultEpsilon < line.Quantity {
				return fmt.Errorf("%w: %q needs %.2f, record %d holds %.2f",
					stock.ErrInsufficientStock, line.ProductName, line.Quantity, target.ID, target.Quantity)
			}
			targets[i] = target
		}

		for i := range txn.Lines {
			line := &txn.Lines[i]
			// Re-read before moving: two lines may have resolved to
			// the same record, and the first deduction already ran.
			fresh, err := tx.Record(ctx, targets[i].ID)
			if err != nil {
				return err
			}
			if fresh.Quantity+stock.DefaultEpsilon < line.Quantity {
				return fmt.Errorf("%w: %q needs %.2f, record %d holds %.2f",
					stock.ErrInsufficientStock, line.ProductName, line.Quantity, fresh.ID, fresh.Quantity)
			}
			_, _, err = tx.Apply(ctx, stock.MovementInput{
				RecordID:      targets[i].ID,
				Direction:     stock.DirectionOut,
				Quantity:      line.Quantity,
				Unit:          line.Unit,
				Reason:        "sale/" + txn.Reference,
				CorrelationID: txn.Reference,
				ActorID:       txn.ActorID,
			})
			if err != nil {
				return err
			}
			line.RecordID = targets[i].ID
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, stock.ErrInsufficientStock) || errors.Is(txErr, stock.ErrNoMatch) {
			return s.reject(ctx, txn, txErr)
		}
		return Transaction{}, txErr
	}

	txn.Status = StatusCompleted
	saved, err := s.repo.SaveTransaction(ctx, txn)
	if err != nil {
		s.logger.Error("sale completed but header save failed",
			slog.String("sale", txn.Reference), slog.Any("error", err))
		return Transaction{}, err
	}
	s.recordAudit(ctx, "sale.completed", saved)
	return saved, nil
}

func (s *Service) reject(ctx context.Context, txn Transaction, cause error) (Transaction, error) {
	txn.Status = StatusRejected
	txn.RejectReason = cause.Error()
	if _, err := s.repo.SaveTransaction(ctx, txn); err != nil {
		s.logger.Error("failed to persist rejected sale",
			slog.String("sale", txn.Reference), slog.Any("error", err))
	}
	return Transaction{}, cause
}

// ProcessReturn reverses sold quantities with offsetting in movements. The
// original out movements are never edited; the ledger stays append-only.
// An empty lines slice returns everything still outstanding; otherwise each
// requested quantity must fit within what its line has left.
func (s *Service) ProcessReturn(ctx context.Context, transactionID, actorID int64, lines []ReturnLine) (Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return Transaction{}, err
	}
	if txn.Status != StatusCompleted && txn.Status != StatusPartiallyReturned {
		return Transaction{}, fmt.Errorf("%w: status %s", ErrNotReturnable, txn.Status)
	}

	byLine := make(map[int64]float64, len(txn.Lines))
	if len(lines) == 0 {
		for _, l := range txn.Lines {
			if l.RemainingQty() > stock.DefaultEpsilon {
				byLine[l.ID] = l.RemainingQty()
			}
		}
	} else {
		for _, rl := range lines {
			if rl.Quantity <= 0 {
				return Transaction{}, fmt.Errorf("sales: return quantity for line %d must be positive", rl.LineID)
			}
			byLine[rl.LineID] += rl.Quantity
		}
	}
	if len(byLine) == 0 {
		return Transaction{}, fmt.Errorf("%w: status %s", ErrNotReturnable, txn.Status)
	}

	indexByID := make(map[int64]int, len(txn.Lines))
	for i, l := range txn.Lines {
		indexByID[l.ID] = i
	}
	for id, qty := range byLine {
		i, ok := indexByID[id]
		if !ok {
			return Transaction{}, fmt.Errorf("sales: transaction %d has no line %d", txn.ID, id)
		}
		l := txn.Lines[i]
		if l.RecordID == 0 {
			return Transaction{}, fmt.Errorf("sales: line %d has no reconciled record", id)
		}
		if qty > l.RemainingQty()+stock.DefaultEpsilon {
			return Transaction{}, fmt.Errorf("%w: line %d sold %.2f, returned %.2f, requested %.2f",
				ErrReturnExceedsSold, id, l.Quantity, l.ReturnedQty, qty)
		}
	}

	err = s.ledger.InTx(ctx, func(ctx context.Context, tx *stock.TxLedger) error {
		for _, line := range txn.Lines {
			qty, ok := byLine[line.ID]
			if !ok {
				continue
			}
			if _, _, err := tx.Apply(ctx, stock.MovementInput{
				RecordID:      line.RecordID,
				Direction:     stock.DirectionIn,
				Quantity:      qty,
				Unit:          line.Unit,
				Reason:        "sale-return/" + txn.Reference,
				CorrelationID: txn.Reference,
				ActorID:       actorID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	txn.Status = StatusReturned
	for i := range txn.Lines {
		l := &txn.Lines[i]
		if qty, ok := byLine[l.ID]; ok {
			l.ReturnedQty += qty
		}
		if l.RemainingQty() > stock.DefaultEpsilon {
			txn.Status = StatusPartiallyReturned
		}
	}
	if err := s.repo.UpdateReturns(ctx, txn); err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, "sale.returned", txn)
	return txn, nil
}

// GetTransaction fetches one sale with its lines.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists recent sales.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, limit)
}
