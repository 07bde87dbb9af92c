package returns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/stock/stocktest"
)

type memoryRepo struct {
	stock   *stocktest.Store
	returns map[int64]Return
	items   map[int64][]Item
	keys    map[string]bool
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock:   stocktest.NewStore(),
		returns: make(map[int64]Return),
		items:   make(map[int64][]Item),
		keys:    make(map[string]bool),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) GetReturn(ctx context.Context, id int64) (Return, []Item, error) {
	ret, ok := r.returns[id]
	if !ok {
		return Return{}, nil, ErrNotFound
	}
	return ret, r.items[id], nil
}

func (r *memoryRepo) Stock() stock.TxRepository { return r.stock }

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

func (r *memoryRepo) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	r.nextID++
	ret.ID = r.nextID
	r.returns[ret.ID] = ret
	return ret.ID, nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	r.nextID++
	item.ID = r.nextID
	r.items[item.ReturnID] = append(r.items[item.ReturnID], item)
	return item.ID, nil
}

func (r *memoryRepo) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	ret, ok := r.returns[id]
	if !ok {
		return Return{}, ErrNotFound
	}
	return ret, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, returnID int64) ([]Item, error) {
	return r.items[returnID], nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, ret Return) error {
	if _, ok := r.returns[ret.ID]; !ok {
		return ErrNotFound
	}
	r.returns[ret.ID] = ret
	return nil
}

func testCtx() context.Context {
	return shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})
}

func draft(t *testing.T, svc *Service, kind Kind, toLocation string, qty int64) Return {
	t.Helper()
	ret, err := svc.CreateReturn(testCtx(), CreateInput{
		Kind:         kind,
		ToLocation:   toLocation,
		Counterparty: "Acme Medical",
		Reason:       "quality issue",
		Items:        []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: qty}},
	})
	require.NoError(t, err)
	return ret
}

func TestApproveInboundReturnCreditsStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindFromCustomer, "", 8)
	approved, err := svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	require.Equal(t, int64(8), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(8), repo.stock.Aggregates["Gauze"].AvailableQty)
	require.Len(t, repo.stock.Ledger, 1)
	require.Equal(t, stock.TxnReturnIn, repo.stock.Ledger[0].Type)
}

func TestApproveOutboundReturnDebitsStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 20})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindToVendor, "", 5)
	_, err := svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.NoError(t, err)

	require.Equal(t, int64(15), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Len(t, repo.stock.Ledger, 1)
	require.Equal(t, stock.TxnReturnOut, repo.stock.Ledger[0].Type)
	require.Equal(t, int64(5), repo.stock.Ledger[0].QtyOut)
}

func TestApproveOutboundReturnInsufficientStaysDraft(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 3})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindToCustomer, "", 5)
	_, err := svc.ApproveReturn(testCtx(), ret.ID, 0)
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	got, _, err := svc.GetReturn(testCtx(), ret.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Equal(t, int64(3), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Empty(t, repo.stock.Ledger)
}

func TestApproveInternalReturnMovesStockNoNetChange(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 20})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindInternal, "Annex", 6)
	_, err := svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.NoError(t, err)

	require.Equal(t, int64(14), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Equal(t, int64(6), repo.stock.BatchQty("Gauze", "B1", "Annex"))
	require.Equal(t, int64(20), repo.stock.Aggregates["Gauze"].AvailableQty)
	require.Len(t, repo.stock.Ledger, 1)
	require.Equal(t, repo.stock.Ledger[0].QtyIn, repo.stock.Ledger[0].QtyOut)
}

func TestApproveReturnTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindFromCustomer, "", 8)
	_, err := svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.NoError(t, err)

	_, err = svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, repo.stock.Ledger, 1)
}

func TestApproveReturnNumbersScopedPerTenant(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ctxA := shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t1", Location: "Main Store"})
	ctxB := shared.ContextWithTenant(context.Background(), shared.Tenant{ID: "t2", Location: "Main Store"})

	// Two tenants using the same return number must not trip each
	// other's idempotency key.
	for _, ctx := range []context.Context{ctxA, ctxB} {
		ret, err := svc.CreateReturn(ctx, CreateInput{
			ReturnNo:     "RET-100",
			Kind:         KindFromCustomer,
			Counterparty: "Acme Medical",
			Reason:       "quality issue",
			Items:        []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: 4}},
		})
		require.NoError(t, err)
		approved, err := svc.ApproveReturn(ctx, ret.ID, 0)
		require.NoError(t, err)
		require.Equal(t, StatusApproved, approved.Status)
	}

	require.Equal(t, int64(8), repo.stock.Aggregates["Gauze"].AvailableQty)
	require.Len(t, repo.stock.Ledger, 2)
}

func TestRejectReturnNeverTouchesStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 20})
	svc := NewService(repo, nil, nil, nil, nil, nil)

	ret := draft(t, svc, KindToVendor, "", 5)
	rejected, err := svc.RejectReturn(testCtx(), ret.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, int64(20), repo.stock.BatchQty("Gauze", "B1", "Main Store"))
	require.Empty(t, repo.stock.Ledger)

	_, err = svc.ApproveReturn(testCtx(), ret.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestCreateReturnValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil, nil)

	_, err := svc.CreateReturn(testCtx(), CreateInput{Kind: "MYSTERY"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateReturn(testCtx(), CreateInput{
		Kind:  KindInternal,
		Items: []ItemInput{{ItemName: "Gauze", BatchNo: "B1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}
