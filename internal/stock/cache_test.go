package stock_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/internal/stock/stocktest"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	cache := stock.NewSummaryCache(newTestRedis(t), time.Minute)
	ctx := testCtx()

	_, ok := cache.Get(ctx, "Gauze")
	require.False(t, ok)

	cache.Set(ctx, "Gauze", stock.Summary{Aggregate: stock.Aggregate{ItemName: "Gauze", AvailableQty: 42}})
	sum, ok := cache.Get(ctx, "Gauze")
	require.True(t, ok)
	require.Equal(t, int64(42), sum.Aggregate.AvailableQty)

	cache.Invalidate(ctx, "Gauze")
	_, ok = cache.Get(ctx, "Gauze")
	require.False(t, ok)
}

func TestSummaryCacheScopedByTenant(t *testing.T) {
	cache := stock.NewSummaryCache(newTestRedis(t), time.Minute)
	ctxA := shared.ContextWithTenant(t.Context(), shared.Tenant{ID: "a"})
	ctxB := shared.ContextWithTenant(t.Context(), shared.Tenant{ID: "b"})

	cache.Set(ctxA, "Gauze", stock.Summary{Aggregate: stock.Aggregate{ItemName: "Gauze", AvailableQty: 7}})
	_, ok := cache.Get(ctxB, "Gauze")
	require.False(t, ok)
}

func TestServiceSummaryInvalidatedByMovement(t *testing.T) {
	store := stocktest.NewStore()
	store.SeedBatch(stock.Batch{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 50})
	cache := stock.NewSummaryCache(newTestRedis(t), time.Minute)
	svc := stock.NewService(store, nil, cache, nil, nil)
	ctx := testCtx()

	sum, err := svc.Summary(ctx, "Gauze")
	require.NoError(t, err)
	require.Equal(t, int64(50), sum.Aggregate.AvailableQty)

	_, err = svc.IssueStock(ctx, stock.IssueInput{ItemName: "Gauze", BatchNo: "B1", Qty: 20})
	require.NoError(t, err)

	sum, err = svc.Summary(ctx, "Gauze")
	require.NoError(t, err)
	require.Equal(t, int64(30), sum.Aggregate.AvailableQty)
}
