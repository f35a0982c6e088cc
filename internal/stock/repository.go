package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/granary-erp/granary-erp/internal/platform/db"
)

// Repository persists stock records and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
// Serialization conflicts between overlapping deductions are retried by the
// platform helper, never surfaced to callers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const recordColumns = `id, catalog_id, name, category, subcategory, warehouse_id, quantity, minimum_qty, reorder_qty, unit, status, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		catalogID *int64
	)
	err := row.Scan(&rec.ID, &catalogID, &rec.Name, &rec.Category, &rec.SubCategory, &rec.WarehouseID,
		&rec.Quantity, &rec.MinimumQty, &rec.ReorderQty, &rec.Unit, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	if catalogID != nil {
		rec.CatalogID = *catalogID
	}
	return rec, nil
}

// GetRecord reads a record by id from the latest committed state.
func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE id=$1`, id)
	return scanRecord(row)
}

// ListByWarehouse lists committed records of one warehouse.
func (r *Repository) ListByWarehouse(ctx context.Context, warehouseID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE warehouse_id=$1 ORDER BY id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListMovements lists a record's movements, oldest first.
func (r *Repository) ListMovements(ctx context.Context, recordID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, direction, quantity, reason, correlation_id, warehouse_id, posted_at, actor_id
FROM stock_movements WHERE record_id=$1 ORDER BY posted_at ASC, id ASC LIMIT $2`, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.RecordID, &m.Direction, &m.Quantity, &m.Reason, &m.CorrelationID, &m.WarehouseID, &m.PostedAt, &m.ActorID); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CountByStatus groups a warehouse's records by derived status.
func (r *Repository) CountByStatus(ctx context.Context, warehouseID int64) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM stock_records WHERE warehouse_id=$1 GROUP BY status`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[Status]int{}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListWarehouseMovements lists a warehouse's most recent movements, newest
// first, across all of its records.
func (r *Repository) ListWarehouseMovements(ctx context.Context, warehouseID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, direction, quantity, reason, correlation_id, warehouse_id, posted_at, actor_id
FROM stock_movements WHERE warehouse_id=$1 ORDER BY posted_at DESC, id DESC LIMIT $2`, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.RecordID, &m.Direction, &m.Quantity, &m.Reason, &m.CorrelationID, &m.WarehouseID, &m.PostedAt, &m.ActorID); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// SumMovements replays the signed deltas of a record's movement log.
func (r *Repository) SumMovements(ctx context.Context, recordID int64) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE direction WHEN 'out' THEN -quantity ELSE quantity END), 0)
FROM stock_movements WHERE record_id=$1`, recordID).Scan(&sum)
	return sum, err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE id=$1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (r *txRepository) CandidatesForUpdate(ctx context.Context, warehouseID int64) ([]Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE warehouse_id=$1 ORDER BY id FOR UPDATE`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *txRepository) CreateRecord(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_records (catalog_id, name, category, subcategory, warehouse_id, quantity, minimum_qty, reorder_qty, unit, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		nullInt(rec.CatalogID), rec.Name, rec.Category, rec.SubCategory, rec.WarehouseID,
		rec.Quantity, rec.MinimumQty, rec.ReorderQty, rec.Unit, string(rec.Status), rec.CreatedAt, rec.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateRecordState(ctx context.Context, id int64, quantity float64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_records SET quantity=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, quantity, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (record_id, direction, quantity, reason, correlation_id, warehouse_id, posted_at, actor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		m.RecordID, string(m.Direction), m.Quantity, m.Reason, m.CorrelationID, m.WarehouseID, m.PostedAt, m.ActorID).Scan(&id)
	return id, err
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
