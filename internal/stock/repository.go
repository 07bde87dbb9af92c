package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists batches, aggregates and the movement ledger in
// PostgreSQL. All rows are scoped by the tenant taken from the context.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the movement
// processors. Batch reads lock the rows (FOR UPDATE) so concurrent movements
// against the same batch serialize instead of losing updates.
type TxRepository interface {
	ListBatchesForUpdate(ctx context.Context, itemName, batchNo string) ([]Batch, error)
	FindBatchAt(ctx context.Context, itemName, batchNo, location string) (Batch, error)
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	AddBatchQuantity(ctx context.Context, batchID, delta int64) error
	SetBatchLocation(ctx context.Context, batchID int64, location string) error
	GetAggregateForUpdate(ctx context.Context, itemName string) (Aggregate, error)
	UpsertAggregate(ctx context.Context, agg Aggregate) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

// ErrAggregateNotFound indicates a missing aggregate row; movements create
// the row lazily on an item's first movement.
var ErrAggregateNotFound = errors.New("stock aggregate not found")

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open pgx transaction so other modules (receipts,
// loans, returns) can apply stock effects inside their own transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const batchColumns = `id, item_name, batch_no, location, quantity, manufacture_date, expiry_date, warranty_months, receipt_ref, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ItemName, &b.BatchNo, &b.Location, &b.Quantity, &b.ManufactureDate, &b.ExpiryDate, &b.WarrantyMonths, &b.ReceiptRef, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, itemName, batchNo string) ([]Batch, error) {
	tenant := shared.TenantFromContext(ctx).ID
	query := `SELECT ` + batchColumns + ` FROM stock_batches WHERE tenant_id=$1 AND item_name=$2`
	args := []any{tenant, itemName}
	if batchNo != "" {
		query += ` AND batch_no=$3`
		args = append(args, batchNo)
	}
	query += ` ORDER BY id FOR UPDATE`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) FindBatchAt(ctx context.Context, itemName, batchNo, location string) (Batch, error) {
	tenant := shared.TenantFromContext(ctx).ID
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE tenant_id=$1 AND item_name=$2 AND batch_no=$3 AND location=$4 FOR UPDATE`, tenant, itemName, batchNo, location))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (tenant_id, item_name, batch_no, location, quantity, manufacture_date, expiry_date, warranty_months, receipt_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		tenant, b.ItemName, b.BatchNo, b.Location, b.Quantity, b.ManufactureDate, b.ExpiryDate, b.WarrantyMonths, b.ReceiptRef).Scan(&id)
	return id, err
}

func (r *txRepository) AddBatchQuantity(ctx context.Context, batchID, delta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET quantity = quantity + $2, updated_at = NOW()
WHERE id=$1 AND quantity + $2 >= 0`, batchID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock: batch %d cannot absorb delta %d: %w", batchID, delta, ErrInvalidQuantity)
	}
	return nil
}

func (r *txRepository) SetBatchLocation(ctx context.Context, batchID int64, location string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET location=$2, updated_at=NOW() WHERE id=$1`, batchID, location)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetAggregateForUpdate(ctx context.Context, itemName string) (Aggregate, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var agg Aggregate
	err := r.tx.QueryRow(ctx, `SELECT item_name, total_qty, available_qty, reserved_qty, updated_at
FROM stock_aggregates WHERE tenant_id=$1 AND item_name=$2 FOR UPDATE`, tenant, itemName).
		Scan(&agg.ItemName, &agg.TotalQty, &agg.AvailableQty, &agg.ReservedQty, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{ItemName: itemName}, ErrAggregateNotFound
		}
		return Aggregate{}, err
	}
	return agg, nil
}

func (r *txRepository) UpsertAggregate(ctx context.Context, agg Aggregate) error {
	tenant := shared.TenantFromContext(ctx).ID
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_aggregates (tenant_id, item_name, total_qty, available_qty, reserved_qty, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (tenant_id, item_name) DO UPDATE SET total_qty=EXCLUDED.total_qty, available_qty=EXCLUDED.available_qty, reserved_qty=EXCLUDED.reserved_qty, updated_at=NOW()`,
		tenant, agg.ItemName, agg.TotalQty, agg.AvailableQty, agg.ReservedQty)
	return err
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (tenant_id, item_name, batch_no, txn_type, qty_in, qty_out, balance, ref_no, remarks, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		tenant, entry.ItemName, entry.BatchNo, string(entry.Type), entry.QtyIn, entry.QtyOut, entry.Balance, entry.RefNo, entry.Remarks).Scan(&id)
	return id, err
}

// GetAggregate reads the stored aggregate without locking.
func (r *Repository) GetAggregate(ctx context.Context, itemName string) (Aggregate, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var agg Aggregate
	err := r.pool.QueryRow(ctx, `SELECT item_name, total_qty, available_qty, reserved_qty, updated_at
FROM stock_aggregates WHERE tenant_id=$1 AND item_name=$2`, tenant, itemName).
		Scan(&agg.ItemName, &agg.TotalQty, &agg.AvailableQty, &agg.ReservedQty, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{}, ErrNotFound
		}
		return Aggregate{}, err
	}
	return agg, nil
}

// ListBatches returns an item's batches across all locations.
func (r *Repository) ListBatches(ctx context.Context, itemName string) ([]Batch, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE tenant_id=$1 AND item_name=$2 ORDER BY id`, tenant, itemName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListLedger returns ledger entries matching the filter, newest first, plus
// the total row count for pagination.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	tenant := shared.TenantFromContext(ctx).ID
	where := `WHERE tenant_id=$1`
	args := []any{tenant}
	add := func(cond string, val any) {
		args = append(args, val)
		where += fmt.Sprintf(" AND %s=$%d", cond, len(args))
	}
	if filter.ItemName != "" {
		add("item_name", filter.ItemName)
	}
	if filter.BatchNo != "" {
		add("batch_no", filter.BatchNo)
	}
	if filter.Type != "" {
		add("txn_type", string(filter.Type))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ledger `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT id, item_name, batch_no, txn_type, qty_in, qty_out, balance, ref_no, remarks, created_at
FROM stock_ledger %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var txnType string
		if err := rows.Scan(&e.ID, &e.ItemName, &e.BatchNo, &txnType, &e.QtyIn, &e.QtyOut, &e.Balance, &e.RefNo, &e.Remarks, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Type = TxnType(txnType)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
