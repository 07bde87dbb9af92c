package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Apply posts a movement against the aggregate and appends the ledger entry,
// all through the supplied transaction. The aggregate row is created lazily
// on an item's first movement. Batch effects are the caller's responsibility;
// Apply only owns the summary and the audit trail.
func Apply(ctx context.Context, tx TxRepository, mv Movement) (LedgerEntry, error) {
	if mv.ItemName == "" {
		return LedgerEntry{}, fmt.Errorf("stock: item name required: %w", ErrInvalidQuantity)
	}
	if mv.QtyIn < 0 || mv.QtyOut < 0 || (mv.QtyIn == 0 && mv.QtyOut == 0) {
		return LedgerEntry{}, ErrInvalidQuantity
	}

	agg, err := tx.GetAggregateForUpdate(ctx, mv.ItemName)
	if err != nil && !errors.Is(err, ErrAggregateNotFound) {
		return LedgerEntry{}, err
	}

	delta := mv.Delta()
	newAvailable := agg.AvailableQty + delta
	if newAvailable < 0 {
		return LedgerEntry{}, &InsufficientStockError{
			ItemName:  mv.ItemName,
			BatchNo:   mv.BatchNo,
			Requested: mv.QtyOut,
			Available: agg.AvailableQty,
		}
	}
	agg.TotalQty += delta
	agg.AvailableQty = newAvailable
	if err := tx.UpsertAggregate(ctx, agg); err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ItemName: mv.ItemName,
		BatchNo:  mv.BatchNo,
		Type:     mv.Type,
		QtyIn:    mv.QtyIn,
		QtyOut:   mv.QtyOut,
		Balance:  newAvailable,
		RefNo:    mv.RefNo,
		Remarks:  mv.Remarks,
	}
	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

// ResolveBatch locks the item's candidate batches and runs the matching
// cascade: exact location, case-insensitive location, then any location with
// the declared location corrected. The whole requested quantity must fit in
// one batch; otherwise the movement fails with InsufficientStockError.
func ResolveBatch(ctx context.Context, tx TxRepository, itemName, batchNo, location string, need int64) (BatchMatch, error) {
	if need <= 0 {
		return BatchMatch{}, ErrInvalidQuantity
	}
	if batchNo == "" {
		return BatchMatch{}, fmt.Errorf("stock: batch number required: %w", ErrNotFound)
	}
	candidates, err := tx.ListBatchesForUpdate(ctx, itemName, batchNo)
	if err != nil {
		return BatchMatch{}, err
	}
	if len(candidates) == 0 {
		return BatchMatch{}, fmt.Errorf("stock: batch %s of %s: %w", batchNo, itemName, ErrNotFound)
	}
	return matchBatch(candidates, itemName, batchNo, location, need)
}

// ResolveBatchForCredit locates the batch row a quantity should be credited
// back to, running the same location cascade as ResolveBatch but without a
// quantity requirement: crediting a drained row is legitimate.
func ResolveBatchForCredit(ctx context.Context, tx TxRepository, itemName, batchNo, location string) (BatchMatch, error) {
	if batchNo == "" {
		return BatchMatch{}, fmt.Errorf("stock: batch number required: %w", ErrNotFound)
	}
	candidates, err := tx.ListBatchesForUpdate(ctx, itemName, batchNo)
	if err != nil {
		return BatchMatch{}, err
	}
	if len(candidates) == 0 {
		return BatchMatch{}, fmt.Errorf("stock: batch %s of %s: %w", batchNo, itemName, ErrNotFound)
	}
	return matchBatch(candidates, itemName, batchNo, location, 0)
}

// ReceiveBatch creates a batch row or tops up the existing row at the same
// item, batch number and location.
func ReceiveBatch(ctx context.Context, tx TxRepository, b Batch) (Batch, error) {
	if b.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	existing, err := tx.FindBatchAt(ctx, b.ItemName, b.BatchNo, b.Location)
	switch {
	case err == nil:
		if err := tx.AddBatchQuantity(ctx, existing.ID, b.Quantity); err != nil {
			return Batch{}, err
		}
		existing.Quantity += b.Quantity
		return existing, nil
	case errors.Is(err, ErrNotFound):
		id, err := tx.InsertBatch(ctx, b)
		if err != nil {
			return Batch{}, err
		}
		b.ID = id
		return b, nil
	default:
		return Batch{}, err
	}
}

// BatchDraw is one batch's share of an item-level consumption.
type BatchDraw struct {
	Batch Batch
	Qty   int64
}

// ConsumeForItem draws down an item's batches when the caller named no batch:
// declared-location batches first, earliest expiry first, spilling over to
// other locations only when the declared location cannot cover the quantity.
// Either the whole quantity is drawn or nothing is. The spilled flag reports
// whether any draw came from a location other than the declared one, so
// callers surface the correction instead of silently trusting the location.
func ConsumeForItem(ctx context.Context, tx TxRepository, itemName, location string, qty int64) ([]BatchDraw, bool, error) {
	if qty <= 0 {
		return nil, false, ErrInvalidQuantity
	}
	batches, err := tx.ListBatchesForUpdate(ctx, itemName, "")
	if err != nil {
		return nil, false, err
	}
	var available int64
	for _, b := range batches {
		available += b.Quantity
	}
	if available < qty {
		return nil, false, &InsufficientStockError{ItemName: itemName, Requested: qty, Available: available}
	}

	remaining := qty
	spilled := false
	var draws []BatchDraw
	for _, b := range consumptionPlan(batches, location) {
		if remaining == 0 {
			break
		}
		if b.Quantity == 0 {
			continue
		}
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		if err := tx.AddBatchQuantity(ctx, b.ID, -take); err != nil {
			return nil, false, err
		}
		if !strings.EqualFold(b.Location, location) {
			spilled = true
		}
		draws = append(draws, BatchDraw{Batch: b, Qty: take})
		remaining -= take
	}
	if remaining != 0 {
		return nil, false, &InsufficientStockError{ItemName: itemName, Requested: qty, Available: qty - remaining}
	}
	return draws, spilled, nil
}
