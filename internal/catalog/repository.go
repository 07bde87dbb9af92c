package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository reads the item master from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns one item by name.
func (r *Repository) Get(ctx context.Context, name string) (Item, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT name, unit, min_stock, max_stock FROM items WHERE tenant_id=$1 AND name=$2`, tenant, name).
		Scan(&item.Name, &item.Unit, &item.MinStock, &item.MaxStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// List returns items, optionally filtered by a name substring.
func (r *Repository) List(ctx context.Context, search string, limit int) ([]Item, error) {
	tenant := shared.TenantFromContext(ctx).ID
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT name, unit, min_stock, max_stock FROM items
WHERE tenant_id=$1 AND ($2 = '' OR name ILIKE '%' || $2 || '%') ORDER BY name LIMIT $3`, tenant, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.Name, &item.Unit, &item.MinStock, &item.MaxStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
