package loans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLoan(ctx context.Context, id int64) (Loan, []Item, error)
}

// CatalogPort exposes the item master lookup.
type CatalogPort interface {
	Get(ctx context.Context, name string) (catalog.Item, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates external loan flows.
type Service struct {
	repo    RepositoryPort
	items   CatalogPort
	audit   AuditPort
	cache   *stock.SummaryCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService constructs the loan processor.
func NewService(repo RepositoryPort, items CatalogPort, audit AuditPort, cache *stock.SummaryCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

// CreateInput describes a draft loan.
type CreateInput struct {
	LoanNo        string
	Location      string
	PartyName     string
	PartyID       string
	PartyLocation string
	Reason        string
	Items         []ItemInput
	ActorID       int64
}

// ItemInput is one batch quantity to lend.
type ItemInput struct {
	ItemName string
	BatchNo  string
	Quantity int64
}

// SettleInput describes one settlement of a sent loan. Ref identifies the
// settlement; submitting the same Ref twice is rejected.
type SettleInput struct {
	Ref     string
	Items   []SettleItemInput
	ActorID int64
}

// SettleItemInput records how much of one loaned item came back and how much
// came back broken.
type SettleItemInput struct {
	ItemName     string
	BatchNo      string
	Returned     int64
	Damaged      int64
	DamageReason string
}

// CreateLoan persists a draft loan. No stock leaves until SendLoan.
func (s *Service) CreateLoan(ctx context.Context, input CreateInput) (Loan, error) {
	if input.PartyName == "" {
		return Loan{}, fmt.Errorf("loans: party name required: %w", ErrValidation)
	}
	if len(input.Items) == 0 {
		return Loan{}, fmt.Errorf("loans: at least one item required: %w", ErrValidation)
	}
	for _, it := range input.Items {
		if it.ItemName == "" || it.BatchNo == "" || it.Quantity <= 0 {
			return Loan{}, fmt.Errorf("loans: item needs name, batch and positive quantity: %w", ErrValidation)
		}
		if s.items != nil {
			if _, err := s.items.Get(ctx, it.ItemName); err != nil {
				return Loan{}, fmt.Errorf("loans: item %s: %w", it.ItemName, ErrNotFound)
			}
		}
	}
	if input.LoanNo == "" {
		input.LoanNo = fmt.Sprintf("LOAN-%d", time.Now().UnixNano())
	}
	loan := Loan{
		LoanNo:        input.LoanNo,
		Location:      shared.ResolveLocation(ctx, input.Location),
		PartyName:     input.PartyName,
		PartyID:       input.PartyID,
		PartyLocation: input.PartyLocation,
		Reason:        input.Reason,
		Status:        StatusDraft,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLoan(ctx, loan)
		if err != nil {
			return err
		}
		loan.ID = id
		for _, it := range input.Items {
			if _, err := tx.InsertItem(ctx, Item{
				LoanID:       id,
				ItemName:     it.ItemName,
				BatchNo:      it.BatchNo,
				QuantitySent: it.Quantity,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	s.recordAudit(ctx, input.ActorID, "LOAN_CREATE", loan.ID, map[string]any{"loan_no": loan.LoanNo})
	return loan, nil
}

// GetLoan loads a loan with its items.
func (s *Service) GetLoan(ctx context.Context, id int64) (Loan, []Item, error) {
	return s.repo.GetLoan(ctx, id)
}

// SendLoan ships a draft loan: each item's batch is resolved at the loan's
// location, decremented, and one LOAN_OUT entry is appended per item. All
// decrements commit together; any shortfall rolls back the whole send.
func (s *Service) SendLoan(ctx context.Context, id, actorID int64) error {
	var (
		loan      Loan
		touched   []string
		corrected []string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetLoanForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return fmt.Errorf("loans: %s is %s: %w", locked.LoanNo, locked.Status, ErrInvalidState)
		}
		items, err := tx.ListItemsForUpdate(ctx, id)
		if err != nil {
			return err
		}
		stx := tx.Stock()
		for _, it := range items {
			match, err := stock.ResolveBatch(ctx, stx, it.ItemName, it.BatchNo, locked.Location, it.QuantitySent)
			if err != nil {
				return err
			}
			if match.CorrectedLocation {
				corrected = append(corrected, fmt.Sprintf("%s/%s@%s", it.ItemName, it.BatchNo, match.Batch.Location))
			}
			if err := stx.AddBatchQuantity(ctx, match.Batch.ID, -it.QuantitySent); err != nil {
				return err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: it.ItemName,
				BatchNo:  it.BatchNo,
				Type:     stock.TxnLoanOut,
				QtyOut:   it.QuantitySent,
				RefNo:    locked.LoanNo,
				Remarks:  fmt.Sprintf("loan %s to %s", locked.LoanNo, locked.PartyName),
			}); err != nil {
				return err
			}
			touched = append(touched, it.ItemName)
		}
		now := time.Now()
		locked.Status = StatusSent
		locked.SentAt = &now
		loan = locked
		return tx.UpdateStatus(ctx, locked)
	})
	if err != nil {
		return err
	}
	for _, c := range corrected {
		s.logger.Warn("loan batch found at different location", "loan_no", loan.LoanNo, "batch", c)
	}
	s.finish(ctx, actorID, "LOAN_SEND", loan, stock.TxnLoanOut, touched)
	return nil
}

// SettleLoanReturn records one settlement against a sent loan. The returned
// portion is credited back to the original batch and appended as LOAN_IN; the
// damaged portion is recorded on the item row and logged but never restocked.
// Settlements accumulate: returned plus damaged may never exceed the sent
// quantity, and a settlement reference is processed at most once. When every
// item is fully accounted for the loan moves to RETURNED.
func (s *Service) SettleLoanReturn(ctx context.Context, id int64, input SettleInput) (Loan, error) {
	if input.Ref == "" {
		return Loan{}, fmt.Errorf("loans: settlement ref required: %w", ErrValidation)
	}
	if len(input.Items) == 0 {
		return Loan{}, fmt.Errorf("loans: at least one settlement item required: %w", ErrValidation)
	}
	for _, it := range input.Items {
		if it.Returned < 0 || it.Damaged < 0 || it.Returned+it.Damaged == 0 {
			return Loan{}, fmt.Errorf("loans: settlement quantities must be non-negative and not both zero: %w", ErrValidation)
		}
		if it.Damaged > 0 && it.DamageReason == "" {
			return Loan{}, fmt.Errorf("loans: damage reason required when damaged quantity given: %w", ErrValidation)
		}
	}

	var (
		loan    Loan
		touched []string
		damaged []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetLoanForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusSent {
			return fmt.Errorf("loans: %s is %s: %w", locked.LoanNo, locked.Status, ErrInvalidState)
		}
		// The key commits or rolls back with the stock effects, so a failed
		// settlement never strands a claimed key.
		if err := tx.Keys().CheckAndInsert(ctx, settlementKey(locked.LoanNo, input.Ref), "loans.settle"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("loans: settlement %s of %s: %w", input.Ref, locked.LoanNo, ErrAlreadySettled)
			}
			return err
		}
		items, err := tx.ListItemsForUpdate(ctx, id)
		if err != nil {
			return err
		}
		stx := tx.Stock()
		for _, sub := range input.Items {
			item := findItem(items, sub.ItemName, sub.BatchNo)
			if item == nil {
				return fmt.Errorf("loans: item %s batch %s not on loan %s: %w", sub.ItemName, sub.BatchNo, locked.LoanNo, ErrNotFound)
			}
			if sub.Returned+sub.Damaged > item.Outstanding() {
				return &OverReturnError{
					ItemName:    sub.ItemName,
					BatchNo:     sub.BatchNo,
					Outstanding: item.Outstanding(),
					Requested:   sub.Returned + sub.Damaged,
				}
			}
			if sub.Returned > 0 {
				match, err := stock.ResolveBatchForCredit(ctx, stx, item.ItemName, item.BatchNo, locked.Location)
				if err != nil {
					return err
				}
				if err := stx.AddBatchQuantity(ctx, match.Batch.ID, sub.Returned); err != nil {
					return err
				}
				if _, err := stock.Apply(ctx, stx, stock.Movement{
					ItemName: item.ItemName,
					BatchNo:  item.BatchNo,
					Type:     stock.TxnLoanIn,
					QtyIn:    sub.Returned,
					RefNo:    locked.LoanNo,
					Remarks:  fmt.Sprintf("loan %s return from %s (%s)", locked.LoanNo, locked.PartyName, input.Ref),
				}); err != nil {
					return err
				}
				touched = append(touched, item.ItemName)
			}
			item.ReturnedQty += sub.Returned
			item.DamagedQty += sub.Damaged
			if sub.DamageReason != "" {
				item.DamageReason = sub.DamageReason
			}
			if err := tx.UpdateItemSettlement(ctx, *item); err != nil {
				return err
			}
			if sub.Damaged > 0 {
				damaged = append(damaged, *item)
			}
		}

		allSettled := true
		for _, it := range items {
			if !it.Settled() {
				allSettled = false
				break
			}
		}
		if allSettled {
			now := time.Now()
			locked.Status = StatusReturned
			locked.ReturnedAt = &now
			if err := tx.UpdateStatus(ctx, locked); err != nil {
				return err
			}
		}
		loan = locked
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	for _, it := range damaged {
		s.logger.Warn("loaned stock written off as damaged",
			"loan_no", loan.LoanNo, "item", it.ItemName, "batch", it.BatchNo,
			"damaged_qty", it.DamagedQty, "reason", it.DamageReason)
	}
	s.finish(ctx, input.ActorID, "LOAN_SETTLE", loan, stock.TxnLoanIn, touched)
	return loan, nil
}

// settlementKey derives a stable idempotency key for one settlement of one
// loan, so retries of the same submission collide regardless of who sends
// them.
func settlementKey(loanNo, ref string) string {
	return "LOAN-SETTLE:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(loanNo+"|"+ref)).String()
}

func findItem(items []Item, itemName, batchNo string) *Item {
	for i := range items {
		if items[i].ItemName == itemName && items[i].BatchNo == batchNo {
			return &items[i]
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context, actorID int64, action string, loan Loan, txnType stock.TxnType, itemNames []string) {
	if s.cache != nil {
		for _, item := range itemNames {
			s.cache.Invalidate(ctx, item)
		}
	}
	if s.metrics != nil && len(itemNames) > 0 {
		s.metrics.MovementPosted(string(txnType))
	}
	s.recordAudit(ctx, actorID, action, loan.ID, map[string]any{"loan_no": loan.LoanNo, "status": string(loan.Status)})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, loanID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "external_loan",
		EntityID: fmt.Sprintf("%d", loanID),
		Meta:     meta,
	})
}
