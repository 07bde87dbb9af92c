package loans

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Repository persists external loans in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional loan operations. Stock gives access to
// batch and ledger mutations inside the same transaction, so sending or
// settling a loan moves stock atomically with the loan rows; Keys claims
// settlement idempotency keys in that same transaction.
type TxRepository interface {
	InsertLoan(ctx context.Context, loan Loan) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetLoanForUpdate(ctx context.Context, id int64) (Loan, error)
	ListItemsForUpdate(ctx context.Context, loanID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, loan Loan) error
	UpdateItemSettlement(ctx context.Context, item Item) error
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
		return errors.New("loans repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) InsertLoan(ctx context.Context, loan Loan) (int64, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO external_loans (tenant_id, loan_no, location, party_name, party_id, party_location, reason, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		tenant, loan.LoanNo, loan.Location, loan.PartyName, loan.PartyID, loan.PartyLocation, loan.Reason, string(loan.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO external_loan_items (loan_id, item_name, batch_no, quantity_sent, returned_qty, damaged_qty, damage_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		item.LoanID, item.ItemName, item.BatchNo, item.QuantitySent, item.ReturnedQty, item.DamagedQty, item.DamageReason).Scan(&id)
	return id, err
}

func (r *txRepository) GetLoanForUpdate(ctx context.Context, id int64) (Loan, error) {
	tenant := shared.TenantFromContext(ctx).ID
	loan, err := scanLoan(r.tx.QueryRow(ctx, `SELECT id, loan_no, location, party_name, party_id, party_location, reason, status, sent_at, returned_at, created_at
FROM external_loans WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, err
	}
	return loan, nil
}

func (r *txRepository) ListItemsForUpdate(ctx context.Context, loanID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, loan_id, item_name, batch_no, quantity_sent, returned_qty, damaged_qty, damage_reason
FROM external_loan_items WHERE loan_id=$1 ORDER BY id FOR UPDATE`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *txRepository) UpdateStatus(ctx context.Context, loan Loan) error {
	tenant := shared.TenantFromContext(ctx).ID
	tag, err := r.tx.Exec(ctx, `UPDATE external_loans SET status=$3, sent_at=$4, returned_at=$5 WHERE tenant_id=$1 AND id=$2`,
		tenant, loan.ID, string(loan.Status), loan.SentAt, loan.ReturnedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateItemSettlement(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE external_loan_items SET returned_qty=$2, damaged_qty=$3, damage_reason=$4 WHERE id=$1`,
		item.ID, item.ReturnedQty, item.DamagedQty, item.DamageReason)
	return err
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.LoanID, &it.ItemName, &it.BatchNo, &it.QuantitySent, &it.ReturnedQty, &it.DamagedQty, &it.DamageReason); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanLoan(row pgx.Row) (Loan, error) {
	var loan Loan
	var status string
	err := row.Scan(&loan.ID, &loan.LoanNo, &loan.Location, &loan.PartyName, &loan.PartyID, &loan.PartyLocation, &loan.Reason, &status, &loan.SentAt, &loan.ReturnedAt, &loan.CreatedAt)
	if err != nil {
		return Loan{}, err
	}
	loan.Status = Status(status)
	return loan, nil
}

// GetLoan loads a loan with its items outside a transaction.
func (r *Repository) GetLoan(ctx context.Context, id int64) (Loan, []Item, error) {
	tenant := shared.TenantFromContext(ctx).ID
	loan, err := scanLoan(r.pool.QueryRow(ctx, `SELECT id, loan_no, location, party_name, party_id, party_location, reason, status, sent_at, returned_at, created_at
FROM external_loans WHERE tenant_id=$1 AND id=$2`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, nil, ErrNotFound
		}
		return Loan{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, loan_id, item_name, batch_no, quantity_sent, returned_qty, damaged_qty, damage_reason
FROM external_loan_items WHERE loan_id=$1 ORDER BY id`, loan.ID)
	if err != nil {
		return Loan{}, nil, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return Loan{}, nil, err
	}
	return loan, items, nil
}
