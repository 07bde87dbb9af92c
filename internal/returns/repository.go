package returns

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Repository persists stock returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional return operations plus same-transaction
// stock access, so an approval decides the document and moves stock
// atomically.
type TxRepository interface {
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetReturnForUpdate(ctx context.Context, id int64) (Return, error)
	ListItems(ctx context.Context, returnID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, ret Return) error
	Stock() stock.TxRepository
	Keys() shared.IdempotencyKeys
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}

func (r *txRepository) Keys() shared.IdempotencyKeys {
	return shared.NewTxIdempotency(r.tx)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("returns repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_returns (tenant_id, return_no, kind, location, to_location, counterparty, reason, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		tenant, ret.ReturnNo, string(ret.Kind), ret.Location, ret.ToLocation, ret.Counterparty, ret.Reason, string(ret.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_return_items (return_id, item_name, batch_no, quantity) VALUES ($1,$2,$3,$4) RETURNING id`,
		item.ReturnID, item.ItemName, item.BatchNo, item.Quantity).Scan(&id)
	return id, err
}

func (r *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	tenant := shared.TenantFromContext(ctx).ID
	ret, err := scanReturn(r.tx.QueryRow(ctx, `SELECT id, return_no, kind, location, to_location, counterparty, reason, status, decided_at, created_at
FROM stock_returns WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Return{}, ErrNotFound
		}
		return Return{}, err
	}
	return ret, nil
}

func (r *txRepository) ListItems(ctx context.Context, returnID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, return_id, item_name, batch_no, quantity FROM stock_return_items WHERE return_id=$1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *txRepository) UpdateStatus(ctx context.Context, ret Return) error {
	tenant := shared.TenantFromContext(ctx).ID
	tag, err := r.tx.Exec(ctx, `UPDATE stock_returns SET status=$3, decided_at=$4 WHERE tenant_id=$1 AND id=$2`,
		tenant, ret.ID, string(ret.Status), ret.DecidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.ItemName, &it.BatchNo, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	var kind, status string
	err := row.Scan(&ret.ID, &ret.ReturnNo, &kind, &ret.Location, &ret.ToLocation, &ret.Counterparty, &ret.Reason, &status, &ret.DecidedAt, &ret.CreatedAt)
	if err != nil {
		return Return{}, err
	}
	ret.Kind = Kind(kind)
	ret.Status = Status(status)
	return ret, nil
}

// GetReturn loads a return with its items outside a transaction.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, []Item, error) {
	tenant := shared.TenantFromContext(ctx).ID
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT id, return_no, kind, location, to_location, counterparty, reason, status, decided_at, created_at
FROM stock_returns WHERE tenant_id=$1 AND id=$2`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Return{}, nil, ErrNotFound
		}
		return Return{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, return_id, item_name, batch_no, quantity FROM stock_return_items WHERE return_id=$1 ORDER BY id`, ret.ID)
	if err != nil {
		return Return{}, nil, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return Return{}, nil, err
	}
	return ret, items, nil
}
