package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/stock/stocktest"
)

func testCtx() context.Context {
	return shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestIssueStockFromNamedBatch(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 50})
	svc := stock.NewService(store, nil, nil, nil, nil)

	res, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20, RefNo: "REQ-1"})
	require.NoError(t, err)
	require.Equal(t, stock.TxnIssue, res.Entry.Type)
	require.Equal(t, int64(20), res.Entry.QtyOut)
	require.Equal(t, int64(30), res.Entry.Balance)
	require.False(t, res.CorrectedLocation)

	require.Equal(t, int64(30), store.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(30), store.Aggregates["Gauze"].AvailableQty)
}

func TestIssueStockCorrectedLocationSurfaced(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Annex", Quantity: 50})
	svc := stock.NewService(store, nil, nil, nil, nil)

	res, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 10})
	require.NoError(t, err)
	require.True(t, res.CorrectedLocation)
	require.Equal(t, "Annex", res.Location)
	require.Equal(t, int64(40), store.BatchQty("Gauze", "B1", "Annex"))
}

func TestIssueStockWithoutBatchDrawsEarliestExpiryFirst(t *testing.T) {
	store := stocktest.NewStore()
	early := stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 15, ExpiryDate: date(2026, 3, 1)}
	late := stock.Batch{ItemName: "Gauze", BatchNo: "B2", Location: "Main Store", Quantity: 30, ExpiryDate: date(2027, 3, 1)}
	store.SeedBatch(early)
	store.SeedBatch(late)
	svc := stock.NewService(store, nil, nil, nil, nil)

	_, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", Qty: 20})
	require.NoError(t, err)
	require.Equal(t, int64(0), store.BatchQty("Gauze", "B1", "Main Store"), store.Dump())
	require.Equal(t, int64(25), store.BatchQty("Gauze", "B2", "Main Store"))
	require.Equal(t, int64(25), store.Aggregates["Gauze"].AvailableQty)
}

func TestIssueStockWithoutBatchSpillReportsCorrectedLocation(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 5, ExpiryDate: date(2026, 3, 1)})
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B2", Location: "Annex", Quantity: 10, ExpiryDate: date(2027, 3, 1)})
	svc := stock.NewService(store, nil, nil, nil, nil)

	// 8 > the 5 on hand at Main Store, so the draw reaches into Annex.
	res, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", Qty: 8})
	require.NoError(t, err)
	require.True(t, res.CorrectedLocation)
	require.Equal(t, "Main Store", res.Location)
	require.Equal(t, int64(0), store.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(7), store.BatchQty("Gauze", "B2", "Annex"))
}

func TestIssueStockWithoutBatchSameLocationNotCorrected(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 15})
	svc := stock.NewService(store, nil, nil, nil, nil)

	res, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", Qty: 8})
	require.NoError(t, err)
	require.False(t, res.CorrectedLocation)
}

func TestIssueStockInsufficientLeavesNothingBehind(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 5})
	svc := stock.NewService(store, nil, nil, nil, nil)

	_, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20})
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(5), insufficient.Available)

	require.Equal(t, int64(5), store.BatchQty("Gauze", "B1", "Main Store"))
	require.Empty(t, store.Ledger)
}

func TestTransferMovesWholeBatch(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := stock.NewService(store, nil, nil, nil, nil)

	res, err := svc.TransferInternal(testCtx(), stock.TransferInput{ItemName: "Gauze", BatchNo: "B1", Qty: 30, To: "Annex"})
	require.NoError(t, err)
	require.Equal(t, stock.TxnTransfer, res.Entry.Type)
	require.Equal(t, res.Entry.QtyIn, res.Entry.QtyOut)

	require.Equal(t, int64(30), store.BatchQty("Gauze", "B1", "Annex"))
	require.Equal(t, int64(-1), store.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(30), store.Aggregates["Gauze"].AvailableQty)
}

func TestTransferPartialSplitsBatch(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := stock.NewService(store, nil, nil, nil, nil)

	_, err := svc.TransferInternal(testCtx(), stock.TransferInput{ItemName: "Gauze", BatchNo: "B1", Qty: 10, To: "Annex"})
	require.NoError(t, err)
	require.Equal(t, int64(20), store.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(10), store.BatchQty("Gauze", "B1", "Annex"))
	require.Equal(t, int64(30), store.Aggregates["Gauze"].AvailableQty)
}

func TestTransferSameLocationRejected(t *testing.T) {
	svc := stock.NewService(stocktest.NewStore(), nil, nil, nil, nil)
	_, err := svc.TransferInternal(testCtx(), stock.TransferInput{ItemName: "Gauze", BatchNo: "B1", Qty: 10, From: "Main Store", To: "main store"})
	require.ErrorIs(t, err, stock.ErrSameLocation)
}

func TestAdjustStockInCreatesBatch(t *testing.T) {
	store := stocktest.NewStore()
	svc := stock.NewService(store, nil, nil, nil, nil)

	res, err := svc.AdjustStock(testCtx(), stock.AdjustInput{
		ItemName:  "Gauze",
		Qty:       12,
		Direction: stock.AdjustIn,
		Reason:    "found during count",
	})
	require.NoError(t, err)
	require.Equal(t, stock.TxnAdjustIn, res.Entry.Type)
	require.NotEmpty(t, res.Entry.BatchNo)
	require.Equal(t, int64(12), store.Aggregates["Gauze"].AvailableQty)
}

func TestAdjustStockRequiresReason(t *testing.T) {
	svc := stock.NewService(stocktest.NewStore(), nil, nil, nil, nil)
	_, err := svc.AdjustStock(testCtx(), stock.AdjustInput{ItemName: "Gauze", Qty: 1, Direction: stock.AdjustOut})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestOpeningThenIssue(t *testing.T) {
	store := stocktest.NewStore()
	svc := stock.NewService(store, nil, nil, nil, nil)

	_, err := svc.PostOpening(testCtx(), stock.OpeningInput{ItemName: "Gauze", BatchNo: "B1", Qty: 50})
	require.NoError(t, err)

	res, err := svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20})
	require.NoError(t, err)
	require.Equal(t, int64(30), res.Entry.Balance)
	require.Equal(t, int64(30), store.BatchQty("Gauze", "B1", "Main Store"))

	sum, err := svc.Summary(testCtx(), "Gauze")
	require.NoError(t, err)
	require.Equal(t, int64(30), sum.Aggregate.AvailableQty)
	require.Len(t, sum.Batches, 1)
}

func TestLedgerBalancesChain(t *testing.T) {
	store := stocktest.NewStore()
	svc := stock.NewService(store, nil, nil, nil, nil)

	_, err := svc.PostOpening(testCtx(), stock.OpeningInput{ItemName: "Gauze", BatchNo: "B1", Qty: 50})
	require.NoError(t, err)
	_, err = svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20})
	require.NoError(t, err)
	_, err = svc.IssueStock(testCtx(), stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 5})
	require.NoError(t, err)

	entries, _, err := svc.Ledger(testCtx(), stock.LedgerFilter{ItemName: "Gauze"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(50), entries[0].Balance)
	require.Equal(t, int64(30), entries[1].Balance)
	require.Equal(t, int64(25), entries[2].Balance)
}
