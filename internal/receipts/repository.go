package receipts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Repository persists goods receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional receipt operations. Stock gives access
// to batch/aggregate/ledger mutations inside the same transaction, so an
// approval updates receipt rows and stock rows atomically.
type TxRepository interface {
	InsertReceipt(ctx context.Context, rec Receipt) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	InsertBatchLine(ctx context.Context, bl BatchLine) (int64, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetBatchLineApplied(ctx context.Context, batchLineID, applied int64) error
	ListLines(ctx context.Context, receiptID int64) ([]Line, error)
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
		return errors.New("receipts repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) InsertReceipt(ctx context.Context, rec Receipt) (int64, error) {
	tenant := shared.TenantFromContext(ctx).ID
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (tenant_id, receipt_no, supplier, location, status, received_at, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		tenant, rec.ReceiptNo, rec.Supplier, rec.Location, string(rec.Status), rec.ReceivedAt, rec.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines (receipt_id, item_name, note) VALUES ($1,$2,$3) RETURNING id`,
		line.ReceiptID, line.ItemName, line.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBatchLine(ctx context.Context, bl BatchLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipt_batches (line_id, batch_no, quantity, applied_qty, manufacture_date, expiry_date, warranty_months)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		bl.LineID, bl.BatchNo, bl.Quantity, bl.AppliedQty, bl.ManufactureDate, bl.ExpiryDate, bl.WarrantyMonths).Scan(&id)
	return id, err
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rec, err := scanReceipt(r.tx.QueryRow(ctx, `SELECT id, receipt_no, supplier, location, status, received_at, note, created_at
FROM goods_receipts WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrNotFound
		}
		return Receipt{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tenant := shared.TenantFromContext(ctx).ID
	tag, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET status=$3 WHERE tenant_id=$1 AND id=$2`, tenant, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SetBatchLineApplied(ctx context.Context, batchLineID, applied int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE goods_receipt_batches SET applied_qty=$2 WHERE id=$1`, batchLineID, applied)
	return err
}

func (r *txRepository) ListLines(ctx context.Context, receiptID int64) ([]Line, error) {
	return listLines(ctx, r.tx, receiptID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLines(ctx context.Context, q querier, receiptID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, receipt_id, item_name, note FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.ItemName, &line.Note); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range lines {
		batches, err := listBatchLines(ctx, q, lines[i].ID)
		if err != nil {
			return nil, err
		}
		lines[i].Batches = batches
	}
	return lines, nil
}

func listBatchLines(ctx context.Context, q querier, lineID int64) ([]BatchLine, error) {
	rows, err := q.Query(ctx, `SELECT id, line_id, batch_no, quantity, applied_qty, manufacture_date, expiry_date, warranty_months
FROM goods_receipt_batches WHERE line_id=$1 ORDER BY id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []BatchLine
	for rows.Next() {
		var bl BatchLine
		if err := rows.Scan(&bl.ID, &bl.LineID, &bl.BatchNo, &bl.Quantity, &bl.AppliedQty, &bl.ManufactureDate, &bl.ExpiryDate, &bl.WarrantyMonths); err != nil {
			return nil, err
		}
		batches = append(batches, bl)
	}
	return batches, rows.Err()
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rec Receipt
	var status string
	err := row.Scan(&rec.ID, &rec.ReceiptNo, &rec.Supplier, &rec.Location, &status, &rec.ReceivedAt, &rec.Note, &rec.CreatedAt)
	if err != nil {
		return Receipt{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// GetReceipt loads a receipt with its lines outside a transaction.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, []Line, error) {
	tenant := shared.TenantFromContext(ctx).ID
	rec, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT id, receipt_no, supplier, location, status, received_at, note, created_at
FROM goods_receipts WHERE tenant_id=$1 AND id=$2`, tenant, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, nil, ErrNotFound
		}
		return Receipt{}, nil, err
	}
	lines, err := listLines(ctx, r.pool, rec.ID)
	if err != nil {
		return Receipt{}, nil, err
	}
	return rec, lines, nil
}
