package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestMatchBatchExactLocationWins(t *testing.T) {
	candidates := []Batch{
		{ID: 1, ItemName: "Gauze", BatchNo: "B1", Location: "Annex", Quantity: 100},
		{ID: 2, ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 40},
	}
	match, err := matchBatch(candidates, "Gauze", "B1", "Main Store", 30)
	require.NoError(t, err)
	require.Equal(t, int64(2), match.Batch.ID)
	require.False(t, match.CorrectedLocation)
}

func TestMatchBatchCaseInsensitiveLocation(t *testing.T) {
	candidates := []Batch{
		{ID: 1, ItemName: "Gauze", BatchNo: "B1", Location: "main store", Quantity: 40},
	}
	match, err := matchBatch(candidates, "Gauze", "B1", "Main Store", 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), match.Batch.ID)
	require.False(t, match.CorrectedLocation)
}

func TestMatchBatchAnyLocationFlagsCorrection(t *testing.T) {
	candidates := []Batch{
		{ID: 1, ItemName: "Gauze", BatchNo: "B1", Location: "Annex", Quantity: 40},
	}
	match, err := matchBatch(candidates, "Gauze", "B1", "Main Store", 30)
	require.NoError(t, err)
	require.Equal(t, int64(1), match.Batch.ID)
	require.True(t, match.CorrectedLocation)
}

func TestMatchBatchSkipsThinBatchForFallback(t *testing.T) {
	// The declared location cannot cover the quantity but another location
	// can; the cascade falls through rather than splitting.
	candidates := []Batch{
		{ID: 1, ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 10},
		{ID: 2, ItemName: "Gauze", BatchNo: "B1", Location: "Annex", Quantity: 40},
	}
	match, err := matchBatch(candidates, "Gauze", "B1", "Main Store", 30)
	require.NoError(t, err)
	require.Equal(t, int64(2), match.Batch.ID)
	require.True(t, match.CorrectedLocation)
}

func TestMatchBatchInsufficientReportsBestBatch(t *testing.T) {
	candidates := []Batch{
		{ID: 1, ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: 10},
		{ID: 2, ItemName: "Gauze", BatchNo: "B1", Location: "Annex", Quantity: 25},
	}
	_, err := matchBatch(candidates, "Gauze", "B1", "Main Store", 30)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(30), insufficient.Requested)
	require.Equal(t, int64(25), insufficient.Available)
	require.Equal(t, int64(5), insufficient.Shortfall())
}

func TestConsumptionPlanPrefersLocationThenExpiry(t *testing.T) {
	batches := []Batch{
		{ID: 1, Location: "Annex", ExpiryDate: date(2026, 1, 1), Quantity: 5},
		{ID: 2, Location: "Main Store", ExpiryDate: date(2027, 6, 1), Quantity: 5},
		{ID: 3, Location: "Main Store", ExpiryDate: date(2026, 9, 1), Quantity: 5},
		{ID: 4, Location: "Main Store", Quantity: 5}, // undated goes last within location
	}
	plan := consumptionPlan(batches, "Main Store")
	ids := make([]int64, 0, len(plan))
	for _, b := range plan {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []int64{3, 2, 4, 1}, ids)
}
