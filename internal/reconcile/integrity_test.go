package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/stock/stocktest"
)

// storeScanner adapts the in-memory stock store so a reconciliation run can
// audit the state the movement processors produced.
type storeScanner struct {
	store *stocktest.Store
}

func (s storeScanner) ListAggregates(ctx context.Context) ([]AggregateRow, error) {
	var out []AggregateRow
	for _, a := range s.store.Aggregates {
		out = append(out, AggregateRow{ItemName: a.ItemName, AvailableQty: a.AvailableQty, UpdatedAt: a.UpdatedAt})
	}
	return out, nil
}

func (s storeScanner) BatchTotals(ctx context.Context) ([]BatchTotal, error) {
	sums := make(map[string]int64)
	for _, b := range s.store.Batches {
		sums[b.ItemName] += b.Quantity
	}
	var out []BatchTotal
	for item, total := range sums {
		out = append(out, BatchTotal{ItemName: item, Total: total})
	}
	return out, nil
}

func (s storeScanner) ListNegativeBatches(ctx context.Context) ([]NegativeBatch, error) {
	var out []NegativeBatch
	for _, b := range s.store.Batches {
		if b.Quantity < 0 {
			out = append(out, NegativeBatch{ItemName: b.ItemName, BatchNo: b.BatchNo, Location: b.Location, Quantity: b.Quantity})
		}
	}
	return out, nil
}

func (s storeScanner) ListOrphanItems(ctx context.Context) ([]OrphanItem, error) {
	counts := make(map[string]OrphanItem)
	for _, b := range s.store.Batches {
		if _, ok := s.store.Aggregates[b.ItemName]; ok {
			continue
		}
		o := counts[b.ItemName]
		o.ItemName = b.ItemName
		o.Batches++
		o.Total += b.Quantity
		counts[b.ItemName] = o
	}
	var out []OrphanItem
	for _, o := range counts {
		out = append(out, o)
	}
	return out, nil
}

func (s storeScanner) ListStaleAggregates(ctx context.Context, grace time.Duration) ([]StaleAggregate, error) {
	return nil, nil
}

func (s storeScanner) ListLowStock(ctx context.Context) ([]LowStockItem, error) {
	return nil, nil
}

func TestNoDivergenceAfterMovementSequence(t *testing.T) {
	store := stocktest.NewStore()
	svc := stock.NewService(store, nil, nil, nil, nil)
	ctx := shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})

	_, err := svc.PostOpening(ctx, stock.OpeningInput{ItemName: "Gauze", BatchNo: "B1", Qty: 50})
	require.NoError(t, err)
	_, err = svc.IssueStock(ctx, stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20})
	require.NoError(t, err)
	_, err = svc.TransferInternal(ctx, stock.TransferInput{ItemName: "Gauze", BatchNo: "B1", Qty: 10, To: "Annex"})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, stock.AdjustInput{ItemName: "Gauze", BatchNo: "B1", Qty: 5, Direction: stock.AdjustOut, Reason: "damaged on shelf"})
	require.NoError(t, err)

	rep, err := NewService(storeScanner{store: store}, nil, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Clean(), store.Dump())
	require.Empty(t, rep.Findings)
}
