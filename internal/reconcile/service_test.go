package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	aggregates []AggregateRow
	totals     []BatchTotal
	negatives  []NegativeBatch
	orphans    []OrphanItem
	stale      []StaleAggregate
	low        []LowStockItem
}

func (f *fakeScanner) ListAggregates(ctx context.Context) ([]AggregateRow, error) {
	return f.aggregates, nil
}
func (f *fakeScanner) BatchTotals(ctx context.Context) ([]BatchTotal, error) { return f.totals, nil }
func (f *fakeScanner) ListNegativeBatches(ctx context.Context) ([]NegativeBatch, error) {
	return f.negatives, nil
}
func (f *fakeScanner) ListOrphanItems(ctx context.Context) ([]OrphanItem, error) {
	return f.orphans, nil
}
func (f *fakeScanner) ListStaleAggregates(ctx context.Context, grace time.Duration) ([]StaleAggregate, error) {
	return f.stale, nil
}
func (f *fakeScanner) ListLowStock(ctx context.Context) ([]LowStockItem, error) { return f.low, nil }

func TestRunCleanWhenBooksBalance(t *testing.T) {
	scanner := &fakeScanner{
		aggregates: []AggregateRow{{ItemName: "Gauze", AvailableQty: 30}},
		totals:     []BatchTotal{{ItemName: "Gauze", Total: 30}},
	}
	svc := NewService(scanner, nil, nil)

	rep, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Clean())
	require.Empty(t, rep.Findings)
}

func TestRunFlagsNegativeQuantitiesAsCritical(t *testing.T) {
	scanner := &fakeScanner{
		aggregates: []AggregateRow{{ItemName: "Gauze", AvailableQty: -2}},
		totals:     []BatchTotal{{ItemName: "Gauze", Total: -2}},
		negatives:  []NegativeBatch{{ItemName: "Gauze", BatchNo: "B1", Location: "Main Store", Quantity: -2}},
	}
	svc := NewService(scanner, nil, nil)

	rep, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Critical)
	require.False(t, rep.Clean())
	for _, f := range rep.Findings {
		require.Equal(t, SeverityCritical, f.Severity)
	}
}

func TestRunFlagsDriftOrphansAndLowStock(t *testing.T) {
	scanner := &fakeScanner{
		aggregates: []AggregateRow{{ItemName: "Gauze", AvailableQty: 40}},
		totals:     []BatchTotal{{ItemName: "Gauze", Total: 35}},
		orphans:    []OrphanItem{{ItemName: "Saline", Batches: 2, Total: 12}},
		low:        []LowStockItem{{ItemName: "Gloves", MinStock: 100, Available: 20}},
	}
	svc := NewService(scanner, nil, nil)

	rep, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, rep.Critical)
	require.Equal(t, 2, rep.Warnings)
	require.Equal(t, 1, rep.Infos)

	codes := make([]string, 0, len(rep.Findings))
	for _, f := range rep.Findings {
		codes = append(codes, f.Code)
	}
	require.Contains(t, codes, CodeAggregateDrift)
	require.Contains(t, codes, CodeOrphanBatches)
	require.Contains(t, codes, CodeLowStock)
}

func TestRunOrdersFindingsBySeverity(t *testing.T) {
	scanner := &fakeScanner{
		aggregates: []AggregateRow{{ItemName: "Gauze", AvailableQty: 40}},
		totals:     []BatchTotal{{ItemName: "Gauze", Total: 35}},
		negatives:  []NegativeBatch{{ItemName: "Saline", BatchNo: "S1", Quantity: -1}},
		low:        []LowStockItem{{ItemName: "Gloves", MinStock: 100, Available: 20}},
	}
	svc := NewService(scanner, nil, nil)

	rep, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Findings, 3)
	require.Equal(t, SeverityCritical, rep.Findings[0].Severity)
	require.Equal(t, SeverityWarn, rep.Findings[1].Severity)
	require.Equal(t, SeverityInfo, rep.Findings[2].Severity)
}

func TestLastReportRemembered(t *testing.T) {
	svc := NewService(&fakeScanner{}, nil, nil)
	_, ok := svc.LastReport()
	require.False(t, ok)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	rep, ok := svc.LastReport()
	require.True(t, ok)
	require.True(t, rep.Clean())
}

func TestWriteReport(t *testing.T) {
	rep := Report{RunAt: time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)}
	rep.add(Finding{Severity: SeverityWarn, Code: CodeAggregateDrift, ItemName: "Gauze", Detail: "aggregate says 40, batches sum to 35"})

	var sb strings.Builder
	require.NoError(t, WriteReport(&sb, rep))
	out := sb.String()
	require.Contains(t, out, "1 warnings")
	require.Contains(t, out, "[WARN] AGGREGATE_DRIFT Gauze")
}
