package reconcile

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository runs the read-only scan queries behind a reconciliation pass.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AggregateRow is one stock aggregate as seen by the scans.
type AggregateRow struct {
	ItemName     string
	AvailableQty int64
	UpdatedAt    time.Time
}

// BatchTotal is the summed batch quantity for one item.
type BatchTotal struct {
	ItemName string
	Total    int64
}

// NegativeBatch is a batch row whose quantity went below zero.
type NegativeBatch struct {
	ItemName string
	BatchNo  string
	Location string
	Quantity int64
}

// OrphanItem is an item holding batch rows with no aggregate row.
type OrphanItem struct {
	ItemName string
	Batches  int64
	Total    int64
}

// StaleAggregate is an aggregate older than the item's newest ledger entry.
type StaleAggregate struct {
	ItemName   string
	UpdatedAt  time.Time
	LastLedger time.Time
}

// LowStockItem is an item whose available quantity fell under its catalog
// minimum.
type LowStockItem struct {
	ItemName  string
	MinStock  int64
	Available int64
}

func (r *Repository) ListAggregates(ctx context.Context) ([]AggregateRow, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT item_name, available_qty, updated_at FROM stock_aggregates WHERE tenant_id=$1 ORDER BY item_name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (AggregateRow, error) {
		var a AggregateRow
		err := row.Scan(&a.ItemName, &a.AvailableQty, &a.UpdatedAt)
		return a, err
	})
}

func (r *Repository) BatchTotals(ctx context.Context) ([]BatchTotal, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT item_name, COALESCE(SUM(quantity),0) FROM stock_batches WHERE tenant_id=$1 GROUP BY item_name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (BatchTotal, error) {
		var t BatchTotal
		err := row.Scan(&t.ItemName, &t.Total)
		return t, err
	})
}

func (r *Repository) ListNegativeBatches(ctx context.Context) ([]NegativeBatch, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT item_name, batch_no, location, quantity FROM stock_batches WHERE tenant_id=$1 AND quantity < 0 ORDER BY item_name, batch_no`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (NegativeBatch, error) {
		var b NegativeBatch
		err := row.Scan(&b.ItemName, &b.BatchNo, &b.Location, &b.Quantity)
		return b, err
	})
}

func (r *Repository) ListOrphanItems(ctx context.Context) ([]OrphanItem, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT b.item_name, COUNT(*), COALESCE(SUM(b.quantity),0)
FROM stock_batches b
LEFT JOIN stock_aggregates a ON a.tenant_id = b.tenant_id AND a.item_name = b.item_name
WHERE b.tenant_id=$1 AND a.item_name IS NULL
GROUP BY b.item_name ORDER BY b.item_name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (OrphanItem, error) {
		var o OrphanItem
		err := row.Scan(&o.ItemName, &o.Batches, &o.Total)
		return o, err
	})
}

func (r *Repository) ListStaleAggregates(ctx context.Context, grace time.Duration) ([]StaleAggregate, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT a.item_name, a.updated_at, MAX(l.created_at)
FROM stock_aggregates a
JOIN stock_ledger l ON l.tenant_id = a.tenant_id AND l.item_name = a.item_name
WHERE a.tenant_id=$1
GROUP BY a.item_name, a.updated_at
HAVING MAX(l.created_at) > a.updated_at + $2::interval
ORDER BY a.item_name`, tenant, grace.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (StaleAggregate, error) {
		var s StaleAggregate
		err := row.Scan(&s.ItemName, &s.UpdatedAt, &s.LastLedger)
		return s, err
	})
}

func (r *Repository) ListLowStock(ctx context.Context) ([]LowStockItem, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rows, err := r.pool.Query(ctx, `SELECT i.name, i.min_stock, COALESCE(a.available_qty, 0)
FROM items i
LEFT JOIN stock_aggregates a ON a.tenant_id = i.tenant_id AND a.item_name = i.name
WHERE i.tenant_id=$1 AND i.min_stock > 0 AND COALESCE(a.available_qty, 0) < i.min_stock
ORDER BY i.name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, func(row pgx.Rows) (LowStockItem, error) {
		var l LowStockItem
		err := row.Scan(&l.ItemName, &l.MinStock, &l.Available)
		return l, err
	})
}

func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
