package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/observability"
)

// ScannerPort describes the scan queries a reconciliation run needs.
type ScannerPort interface {
	ListAggregates(ctx context.Context) ([]AggregateRow, error)
	BatchTotals(ctx context.Context) ([]BatchTotal, error)
	ListNegativeBatches(ctx context.Context) ([]NegativeBatch, error)
	ListOrphanItems(ctx context.Context) ([]OrphanItem, error)
	ListStaleAggregates(ctx context.Context, grace time.Duration) ([]StaleAggregate, error)
	ListLowStock(ctx context.Context) ([]LowStockItem, error)
}

// Service runs reconciliation passes. It reads and reports; it never writes
// stock.
type Service struct {
	scanner ScannerPort
	metrics *observability.Metrics
	logger  *slog.Logger

	// StaleGrace is how far an aggregate may lag its newest ledger entry
	// before it is flagged.
	StaleGrace time.Duration

	mu   sync.Mutex
	last *Report
}

// NewService constructs the reconciliation service.
func NewService(scanner ScannerPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{scanner: scanner, metrics: metrics, logger: logger, StaleGrace: time.Minute}
}

// Run executes every check concurrently and assembles the report. Checks are
// independent scans, so a failure in one aborts the run rather than
// publishing a partial picture.
func (s *Service) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var (
		mu       sync.Mutex
		findings []Finding
	)
	report := func(fs ...Finding) {
		mu.Lock()
		findings = append(findings, fs...)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() error { return s.checkNegatives(ctx, report) })
	g.Go(func() error { return s.checkDrift(ctx, report) })
	g.Go(func() error { return s.checkOrphans(ctx, report) })
	g.Go(func() error { return s.checkStale(ctx, report) })
	g.Go(func() error { return s.checkLowStock(ctx, report) })
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) < severityRank(findings[j].Severity)
		}
		if findings[i].ItemName != findings[j].ItemName {
			return findings[i].ItemName < findings[j].ItemName
		}
		return findings[i].Code < findings[j].Code
	})

	rep := Report{RunAt: start, Duration: time.Since(start)}
	for _, f := range findings {
		rep.add(f)
		if s.metrics != nil {
			s.metrics.FindingReported(string(f.Severity))
		}
	}

	s.logger.Info("reconciliation finished",
		"duration", rep.Duration, "critical", rep.Critical, "warnings", rep.Warnings, "infos", rep.Infos)
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			s.logger.Error("reconciliation finding", "code", f.Code, "item", f.ItemName, "detail", f.Detail)
		}
	}

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep, nil
}

// LastReport returns the most recent run's report, if any.
func (s *Service) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Service) checkNegatives(ctx context.Context, report func(...Finding)) error {
	batches, err := s.scanner.ListNegativeBatches(ctx)
	if err != nil {
		return err
	}
	for _, b := range batches {
		report(Finding{
			Severity: SeverityCritical,
			Code:     CodeNegativeBatch,
			ItemName: b.ItemName,
			BatchNo:  b.BatchNo,
			Location: b.Location,
			Actual:   b.Quantity,
			Detail:   fmt.Sprintf("batch %s at %s holds %d", b.BatchNo, b.Location, b.Quantity),
		})
	}
	aggs, err := s.scanner.ListAggregates(ctx)
	if err != nil {
		return err
	}
	for _, a := range aggs {
		if a.AvailableQty < 0 {
			report(Finding{
				Severity: SeverityCritical,
				Code:     CodeNegativeAggregate,
				ItemName: a.ItemName,
				Actual:   a.AvailableQty,
				Detail:   fmt.Sprintf("aggregate available quantity is %d", a.AvailableQty),
			})
		}
	}
	return nil
}

func (s *Service) checkDrift(ctx context.Context, report func(...Finding)) error {
	aggs, err := s.scanner.ListAggregates(ctx)
	if err != nil {
		return err
	}
	totals, err := s.scanner.BatchTotals(ctx)
	if err != nil {
		return err
	}
	byItem := make(map[string]int64, len(totals))
	for _, t := range totals {
		byItem[t.ItemName] = t.Total
	}
	for _, a := range aggs {
		sum := byItem[a.ItemName]
		if sum != a.AvailableQty {
			report(Finding{
				Severity: SeverityWarn,
				Code:     CodeAggregateDrift,
				ItemName: a.ItemName,
				Expected: sum,
				Actual:   a.AvailableQty,
				Detail:   fmt.Sprintf("aggregate says %d, batches sum to %d", a.AvailableQty, sum),
			})
		}
	}
	return nil
}

func (s *Service) checkOrphans(ctx context.Context, report func(...Finding)) error {
	orphans, err := s.scanner.ListOrphanItems(ctx)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		report(Finding{
			Severity: SeverityWarn,
			Code:     CodeOrphanBatches,
			ItemName: o.ItemName,
			Actual:   o.Total,
			Detail:   fmt.Sprintf("%d batch rows totalling %d with no aggregate", o.Batches, o.Total),
		})
	}
	return nil
}

func (s *Service) checkStale(ctx context.Context, report func(...Finding)) error {
	stale, err := s.scanner.ListStaleAggregates(ctx, s.StaleGrace)
	if err != nil {
		return err
	}
	for _, st := range stale {
		report(Finding{
			Severity: SeverityWarn,
			Code:     CodeStaleAggregate,
			ItemName: st.ItemName,
			Detail:   fmt.Sprintf("aggregate updated %s, newest ledger entry %s", st.UpdatedAt.Format(time.RFC3339), st.LastLedger.Format(time.RFC3339)),
		})
	}
	return nil
}

func (s *Service) checkLowStock(ctx context.Context, report func(...Finding)) error {
	low, err := s.scanner.ListLowStock(ctx)
	if err != nil {
		return err
	}
	for _, l := range low {
		report(Finding{
			Severity: SeverityInfo,
			Code:     CodeLowStock,
			ItemName: l.ItemName,
			Expected: l.MinStock,
			Actual:   l.Available,
			Detail:   fmt.Sprintf("available %d is under minimum %d", l.Available, l.MinStock),
		})
	}
	return nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarn:
		return 1
	default:
		return 2
	}
}
