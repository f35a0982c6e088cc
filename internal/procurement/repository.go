package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists purchase headers and lines.
type Repository interface {
	SaveTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
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

	var receivedAt any
	if !t.ReceivedAt.IsZero() {
		receivedAt = t.ReceivedAt
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_transactions
			(reference, warehouse_id, supplier_name, total_amount, actor_id, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), NOW())
		RETURNING id, received_at, created_at`,
		t.Reference, t.WarehouseID, t.SupplierName, t.TotalAmount(), t.ActorID, receivedAt,
	).Scan(&t.ID, &t.ReceivedAt, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}

	for i := range t.Lines {
		l := &t.Lines[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO purchase_lines
				(transaction_id, product_id, product_name, category, quantity, unit, unit_cost, minimum_qty, reorder_qty, record_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			t.ID, nullableID(l.ProductID), l.ProductName, l.Category, l.Quantity, l.Unit, l.UnitCost,
			l.MinimumQty, l.ReorderQty, nullableID(l.RecordID),
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
		SELECT id, reference, warehouse_id, supplier_name, actor_id, received_at, created_at
		FROM purchase_transactions WHERE id = $1`, id))
	if err != nil {
		return Transaction{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(product_id, 0), product_name, category, quantity, unit, unit_cost,
		       minimum_qty, reorder_qty, COALESCE(record_id, 0)
		FROM purchase_lines WHERE transaction_id = $1 ORDER BY id`, t.ID)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.Category, &l.Quantity, &l.Unit,
			&l.UnitCost, &l.MinimumQty, &l.ReorderQty, &l.RecordID); err != nil {
			return Transaction{}, err
		}
		t.Lines = append(t.Lines, l)
	}
	return t, rows.Err()
}

func (r *repository) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reference, warehouse_id, supplier_name, actor_id, received_at, created_at
		FROM purchase_transactions ORDER BY id DESC LIMIT $1`, limit)
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

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Reference, &t.WarehouseID, &t.SupplierName, &t.ActorID, &t.ReceivedAt, &t.CreatedAt)
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
