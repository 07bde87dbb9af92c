package loans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/stock/stocktest"
)

type memoryRepo struct {
	stock  *stocktest.Store
	loans  map[int64]Loan
	items  map[int64][]Item
	keys   map[string]bool
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock: stocktest.NewStore(),
		loans: make(map[int64]Loan),
		items: make(map[int64][]Item),
		keys:  make(map[string]bool),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Keys() shared.IdempotencyKeys { return r }

// CheckAndInsert mirrors the (tenant_id, key) primary key of the real table.
func (r *memoryRepo) CheckAndInsert(ctx context.Context, key, module string) error {
	scoped := shared.TenantFromContext(ctx).ID + "|" + key
	if r.keys[scoped] {
		return shared.ErrIdempotencyConflict
	}
	r.keys[scoped] = true
	return nil
}

func (r *memoryRepo) GetLoan(ctx context.Context, id int64) (Loan, []Item, error) {
	loan, ok := r.loans[id]
	if !ok {
		return Loan{}, nil, ErrNotFound
	}
	return loan, r.items[id], nil
}

func (r *memoryRepo) Stock() stock.TxRepository { return r.stock }

func (r *memoryRepo) InsertLoan(ctx context.Context, loan Loan) (int64, error) {
	r.nextID++
	loan.ID = r.nextID
	r.loans[loan.ID] = loan
	return loan.ID, nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	r.nextID++
	item.ID = r.nextID
	r.items[item.LoanID] = append(r.items[item.LoanID], item)
	return item.ID, nil
}

func (r *memoryRepo) GetLoanForUpdate(ctx context.Context, id int64) (Loan, error) {
	loan, ok := r.loans[id]
	if !ok {
		return Loan{}, ErrNotFound
	}
	return loan, nil
}

func (r *memoryRepo) ListItemsForUpdate(ctx context.Context, loanID int64) ([]Item, error) {
	out := make([]Item, len(r.items[loanID]))
	copy(out, r.items[loanID])
	return out, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, loan Loan) error {
	if _, ok := r.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	r.loans[loan.ID] = loan
	return nil
}

func (r *memoryRepo) UpdateItemSettlement(ctx context.Context, item Item) error {
	items := r.items[item.LoanID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			r.items[item.LoanID] = items
			return nil
		}
	}
	return ErrNotFound
}

func testCtx() context.Context {
	return shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})
}

func sentLoan(t *testing.T, repo *memoryRepo, svc *Service, qty int64) Loan {
	t.Helper()
	loan, err := svc.CreateLoan(testCtx(), CreateInput{
		LoanNo:    "LOAN-7",
		PartyName: "District Clinic",
		Items:     []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: qty}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.SendLoan(testCtx(), loan.ID, 0))
	return loan
}

func TestSendLoanDecrementsBatch(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	got, items, err := svc.GetLoan(testCtx(), loan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.Equal(t, int64(10), items[0].Outstanding())

	require.Equal(t, int64(20), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(20), repo.stock.Aggregates["Gauze"].AvailableQty)
	require.Len(t, repo.stock.Ledger, 1)
	require.Equal(t, stock.TxnLoanOut, repo.stock.Ledger[0].Type)
}

func TestSendLoanInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 5})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan, err := svc.CreateLoan(testCtx(), CreateInput{
		PartyName: "District Clinic",
		Items:     []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: 10}},
	})
	require.NoError(t, err)

	err = svc.SendLoan(testCtx(), loan.ID, 0)
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, repo.stock.Ledger)
}

func TestSettleLoanRestoresReturnedPortionOnly(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	settled, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref: "SETTLE-1",
		Items: []SettleItemInput{{
			ItemName:     "Gauze",
			BatchNo:      "B1",
			Returned:     7,
			Damaged:      3,
			DamageReason: "crushed in transit",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, settled.Status)
	require.NotNil(t, settled.ReturnedAt)

	// 30 - 10 sent + 7 returned; the 3 damaged units never come back.
	require.Equal(t, int64(27), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(27), repo.stock.Aggregates["Gauze"].AvailableQty)

	_, items, err := svc.GetLoan(testCtx(), loan.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), items[0].ReturnedQty)
	require.Equal(t, int64(3), items[0].DamagedQty)
	require.True(t, items[0].Settled())

	require.Len(t, repo.stock.Ledger, 2)
	require.Equal(t, stock.TxnLoanIn, repo.stock.Ledger[1].Type)
	require.Equal(t, int64(7), repo.stock.Ledger[1].QtyIn)
}

func TestSettleLoanAccumulatesAcrossSettlements(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	settled, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusSent, settled.Status)

	settled, err = svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-2",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 6}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, settled.Status)
	require.Equal(t, int64(30), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
}

func TestSettleLoanRejectsOverReturn(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	_, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 8}},
	})
	require.NoError(t, err)

	_, err = svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-2",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 5}},
	})
	var overReturn *OverReturnError
	require.ErrorAs(t, err, &overReturn)
	require.Equal(t, int64(2), overReturn.Outstanding)
	require.Equal(t, int64(5), overReturn.Requested)
}

func TestSettleLoanAfterReturnedFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	_, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 10}},
	})
	require.NoError(t, err)

	_, err = svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-2",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSettleLoanDamageNeedsReason(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	_, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Damaged: 2}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSettleLoanSameRefRejected(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)

	_, err := svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 4}},
	})
	require.NoError(t, err)

	_, err = svc.SettleLoanReturn(testCtx(), loan.ID, SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 6}},
	})
	require.ErrorIs(t, err, ErrAlreadySettled)

	// The retry credited nothing: still 30 - 10 sent + 4 returned.
	require.Equal(t, int64(24), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Len(t, repo.stock.Ledger, 2)
}

func TestSettleLoanRefsScopedPerTenant(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 40})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ctxA := shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})
	ctxB := shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t2", Location: "Main Store"})

	var ids []int64
	for _, ctx := range []context.Context{ctxA, ctxB} {
		loan, err := svc.CreateLoan(ctx, CreateInput{
			LoanNo:    "LOAN-7",
			PartyName: "District Clinic",
			Items:     []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: 10}},
		})
		require.NoError(t, err)
		require.NoError(t, svc.SendLoan(ctx, loan.ID, 0))
		ids = append(ids, loan.ID)
	}

	// Both tenants settle reference SETTLE-1 against their own LOAN-7;
	// neither settlement may shadow the other.
	_, err := svc.SettleLoanReturn(ctxA, ids[0], SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 10}},
	})
	require.NoError(t, err)

	settled, err := svc.SettleLoanReturn(ctxB, ids[1], SettleInput{
		Ref:   "SETTLE-1",
		Items: []SettleItemInput{{ItemName: "Gauze", BatchNo: "B1", Returned: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, settled.Status)
	require.Equal(t, int64(40), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
}

func TestSendLoanTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 30})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	loan := sentLoan(t, repo, svc, 10)
	require.ErrorIs(t, svc.SendLoan(testCtx(), loan.ID, 0), ErrInvalidState)
}
