package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sale headers and lines. Stock effects live in the
// movement ledger keyed by the sale reference.
type Repository interface {
	SaveTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	UpdateReturns(ctx context.Context, t Transaction) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) SaveTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx)

	var soldAt any
	if !t.SoldAt.IsZero() {
		soldAt = t.SoldAt
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO sale_transactions
			(reference, warehouse_id, customer_name, total_amount, status, reject_reason, actor_id, sold_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), NOW())
		RETURNING id, sold_at, created_at`,
		t.Reference, t.WarehouseID, t.CustomerName, t.TotalAmount(), t.Status, t.RejectReason, t.ActorID, soldAt,
	).Scan(&t.ID, &t.SoldAt, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}

	for i := range t.Lines {
		l := &t.Lines[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO sale_lines
				(transaction_id, product_id, product_name, quantity, unit, unit_price, record_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			t.ID, nullableID(l.ProductID), l.ProductName, l.Quantity, l.Unit, l.UnitPrice, nullableID(l.RecordID),
		).Scan(&l.ID)
		if err != nil {
			return Transaction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		SELECT id, reference, warehouse_id, customer_name, status, reject_reason, actor_id, sold_at, created_at
		FROM sale_transactions WHERE id = $1`, id))
	if err != nil {
		return Transaction{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(product_id, 0), product_name, quantity, unit, unit_price, COALESCE(record_id, 0), returned_qty
		FROM sale_lines WHERE transaction_id = $1 ORDER BY id`, t.ID)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.Quantity, &l.Unit, &l.UnitPrice, &l.RecordID, &l.ReturnedQty); err != nil {
			return Transaction{}, err
		}
		t.Lines = append(t.Lines, l)
	}
	return t, rows.Err()
}

func (r *repository) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reference, warehouse_id, customer_name, status, reject_reason, actor_id, sold_at, created_at
		FROM sale_transactions ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// UpdateReturns persists the header status and the per-line returned
// quantities in one transaction.
func (r *repository) UpdateReturns(ctx context.Context, t Transaction) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE sale_transactions SET status = $1 WHERE id = $2`, t.Status, t.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	for _, l := range t.Lines {
		if _, err := tx.Exec(ctx, `UPDATE sale_lines SET returned_qty = $1 WHERE id = $2`, l.ReturnedQty, l.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.WarehouseID, &t.CustomerName, &t.Status, &t.RejectReason,
		&t.ActorID, &t.SoldAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}
