package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyKeys registers processed operation keys. Stock mutations that may
// be retried by callers (receipt approval, loan settlements, return approval)
// claim a stable key through this port inside the same transaction as their
// effects, so a rolled-back operation releases its key with the rollback and a
// committed key always has committed effects behind it.
type IdempotencyKeys interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// TxIdempotency implements IdempotencyKeys over one transaction. Keys are
// scoped to the tenant in context: document numbers are only unique per
// tenant, so two tenants reusing the same number must never collide.
type TxIdempotency struct {
	tx pgx.Tx
}

// NewTxIdempotency binds the key store to a transaction.
func NewTxIdempotency(tx pgx.Tx) *TxIdempotency {
	return &TxIdempotency{tx: tx}
}

// CheckAndInsert claims the key for the tenant in context. A key claimed by a
// committed transaction yields ErrIdempotencyConflict.
func (s *TxIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	tenant := TenantFromContext(ctx).ID
	_, err := s.tx.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, key, module, created_at) VALUES ($1, $2, $3, $4)`, tenant, key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// IdempotencyStore owns retention of processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
