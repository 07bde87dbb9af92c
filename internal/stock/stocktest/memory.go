// Package stocktest provides an in-memory stock store for service tests
// across the movement processors.
package stocktest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Store implements stock.TxRepository and stock.RepositoryPort in memory.
// It ignores locking (tests are single-goroutine) but keeps the same
// semantics: tenant-blind, quantity floors, lazy aggregates, append-only
// ledger.
type Store struct {
	Batches    []stock.Batch
	Aggregates map[string]stock.Aggregate
	Ledger     []stock.LedgerEntry
	nextID     int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{Aggregates: make(map[string]stock.Aggregate)}
}

// SeedBatch adds a batch row and mirrors it into the aggregate, as an opening
// movement would have.
func (s *Store) SeedBatch(b stock.Batch) stock.Batch {
	s.nextID++
	b.ID = s.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	s.Batches = append(s.Batches, b)
	agg := s.Aggregates[b.ItemName]
	agg.ItemName = b.ItemName
	agg.TotalQty += b.Quantity
	agg.AvailableQty += b.Quantity
	agg.UpdatedAt = time.Now()
	s.Aggregates[b.ItemName] = agg
	return b
}

// BatchQty returns the quantity of the batch at a location, or -1 when the
// row does not exist.
func (s *Store) BatchQty(itemName, batchNo, location string) int64 {
	for _, b := range s.Batches {
		if b.ItemName == itemName && b.BatchNo == batchNo && b.Location == location {
			return b.Quantity
		}
	}
	return -1
}

// WithTx satisfies the repository ports; the callback runs against the store
// itself and "commit" is implicit. Mutations from failed callbacks are NOT
// rolled back, so assertions about rollback behavior belong to tests that
// fail before the first write.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	return fn(ctx, s)
}

func (s *Store) ListBatchesForUpdate(ctx context.Context, itemName, batchNo string) ([]stock.Batch, error) {
	var out []stock.Batch
	for _, b := range s.Batches {
		if b.ItemName != itemName {
			continue
		}
		if batchNo != "" && b.BatchNo != batchNo {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) FindBatchAt(ctx context.Context, itemName, batchNo, location string) (stock.Batch, error) {
	for _, b := range s.Batches {
		if b.ItemName == itemName && b.BatchNo == batchNo && b.Location == location {
			return b, nil
		}
	}
	return stock.Batch{}, stock.ErrNotFound
}

func (s *Store) InsertBatch(ctx context.Context, b stock.Batch) (int64, error) {
	s.nextID++
	b.ID = s.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	s.Batches = append(s.Batches, b)
	return b.ID, nil
}

func (s *Store) AddBatchQuantity(ctx context.Context, batchID, delta int64) error {
	for i := range s.Batches {
		if s.Batches[i].ID == batchID {
			if s.Batches[i].Quantity+delta < 0 {
				return &stock.InsufficientStockError{
					ItemName:  s.Batches[i].ItemName,
					BatchNo:   s.Batches[i].BatchNo,
					Requested: -delta,
					Available: s.Batches[i].Quantity,
				}
			}
			s.Batches[i].Quantity += delta
			s.Batches[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return stock.ErrNotFound
}

func (s *Store) SetBatchLocation(ctx context.Context, batchID int64, location string) error {
	for i := range s.Batches {
		if s.Batches[i].ID == batchID {
			s.Batches[i].Location = location
			s.Batches[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return stock.ErrNotFound
}

func (s *Store) GetAggregateForUpdate(ctx context.Context, itemName string) (stock.Aggregate, error) {
	agg, ok := s.Aggregates[itemName]
	if !ok {
		return stock.Aggregate{ItemName: itemName}, stock.ErrAggregateNotFound
	}
	return agg, nil
}

func (s *Store) UpsertAggregate(ctx context.Context, agg stock.Aggregate) error {
	agg.UpdatedAt = time.Now()
	s.Aggregates[agg.ItemName] = agg
	return nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry stock.LedgerEntry) (int64, error) {
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.Ledger = append(s.Ledger, entry)
	return entry.ID, nil
}

func (s *Store) GetAggregate(ctx context.Context, itemName string) (stock.Aggregate, error) {
	return s.GetAggregateForUpdate(ctx, itemName)
}

func (s *Store) ListBatches(ctx context.Context, itemName string) ([]stock.Batch, error) {
	return s.ListBatchesForUpdate(ctx, itemName, "")
}

func (s *Store) ListLedger(ctx context.Context, filter stock.LedgerFilter) ([]stock.LedgerEntry, int, error) {
	var out []stock.LedgerEntry
	for _, e := range s.Ledger {
		if filter.ItemName != "" && e.ItemName != filter.ItemName {
			continue
		}
		if filter.BatchNo != "" && e.BatchNo != filter.BatchNo {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

// Dump renders the store for test failure messages.
func (s *Store) Dump() string {
	var sb strings.Builder
	for _, b := range s.Batches {
		fmt.Fprintf(&sb, "batch %s/%s@%s qty=%d\n", b.ItemName, b.BatchNo, b.Location, b.Quantity)
	}
	for _, a := range s.Aggregates {
		fmt.Fprintf(&sb, "agg %s available=%d\n", a.ItemName, a.AvailableQty)
	}
	return sb.String()
}
