package production

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists batch headers and output lines. Movements live in the
// stock ledger; this store only records what was run and with what result.
type Repository interface {
	SaveBatch(ctx context.Context, b Batch) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) SaveBatch(ctx context.Context, b Batch) (Batch, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Batch{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO production_batches
			(reference, source_warehouse_id, material_catalog_id, material_name, material_commodity,
			 requested_qty, unit, wastage, status, reject_reason, actor_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		b.Reference, b.SourceWarehouseID, nullableID(b.Material.CatalogID), b.Material.Name, b.Material.Commodity,
		b.RequestedQty, b.Unit, b.Wastage, b.Status, b.RejectReason, b.ActorID,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Batch{}, err
	}

	for i := range b.Outputs {
		l := &b.Outputs[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO production_outputs
				(batch_id, product_id, product_name, unit_weight, unit_count, warehouse_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			b.ID, nullableID(l.ProductID), l.ProductName, l.UnitWeight, l.UnitCount, l.WarehouseID,
		).Scan(&l.ID)
		if err != nil {
			return Batch{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (r *repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `
		SELECT id, reference, source_warehouse_id, COALESCE(material_catalog_id, 0), material_name,
		       material_commodity, requested_qty, unit, wastage, status, reject_reason, actor_id,
		       created_at, updated_at
		FROM production_batches WHERE id = $1`, id))
	if err != nil {
		return Batch{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(product_id, 0), product_name, unit_weight, unit_count, warehouse_id
		FROM production_outputs WHERE batch_id = $1 ORDER BY id`, b.ID)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OutputLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.UnitWeight, &l.UnitCount, &l.WarehouseID); err != nil {
			return Batch{}, err
		}
		b.Outputs = append(b.Outputs, l)
	}
	return b, rows.Err()
}

func (r *repository) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reference, source_warehouse_id, COALESCE(material_catalog_id, 0), material_name,
		       material_commodity, requested_qty, unit, wastage, status, reject_reason, actor_id,
		       created_at, updated_at
		FROM production_batches ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]Batch, 0, limit)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Reference, &b.SourceWarehouseID, &b.Material.CatalogID, &b.Material.Name,
		&b.Material.Commodity, &b.RequestedQty, &b.Unit, &b.Wastage, &b.Status, &b.RejectReason, &b.ActorID,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}
