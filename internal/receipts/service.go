package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, []Line, error)
}

// CatalogPort exposes the item master lookup.
type CatalogPort interface {
	Get(ctx context.Context, name string) (catalog.Item, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates goods receipt flows.
type Service struct {
	repo    RepositoryPort
	items   CatalogPort
	audit   AuditPort
	cache   *stock.SummaryCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService constructs the receipt processor.
func NewService(repo RepositoryPort, items CatalogPort, audit AuditPort, cache *stock.SummaryCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

// CreateInput describes a draft receipt.
type CreateInput struct {
	ReceiptNo  string
	Supplier   string
	Location   string
	ReceivedAt time.Time
	Note       string
	Lines      []LineInput
	ActorID    int64
}

// LineInput is one item on a receipt.
type LineInput struct {
	ItemName string
	Note     string
	Batches  []BatchInput
}

// BatchInput is one batch on a receipt line.
type BatchInput struct {
	BatchNo         string
	Quantity        int64
	ManufactureDate *time.Time
	ExpiryDate      *time.Time
	WarrantyMonths  int
}

// CreateReceipt persists the draft header, lines and batches. No stock
// effects happen until approval.
func (s *Service) CreateReceipt(ctx context.Context, input CreateInput) (Receipt, error) {
	if len(input.Lines) == 0 {
		return Receipt{}, fmt.Errorf("receipts: at least one line required: %w", ErrValidation)
	}
	for _, line := range input.Lines {
		if line.ItemName == "" || len(line.Batches) == 0 {
			return Receipt{}, fmt.Errorf("receipts: line needs item and batches: %w", ErrValidation)
		}
		if s.items != nil {
			if _, err := s.items.Get(ctx, line.ItemName); err != nil {
				return Receipt{}, fmt.Errorf("receipts: item %s: %w", line.ItemName, ErrNotFound)
			}
		}
		for _, b := range line.Batches {
			if b.BatchNo == "" || b.Quantity <= 0 {
				return Receipt{}, fmt.Errorf("receipts: batch needs number and positive quantity: %w", ErrValidation)
			}
		}
	}
	if input.ReceiptNo == "" {
		input.ReceiptNo = fmt.Sprintf("GRN-%d", time.Now().UnixNano())
	}
	rec := Receipt{
		ReceiptNo:  input.ReceiptNo,
		Supplier:   input.Supplier,
		Location:   shared.ResolveLocation(ctx, input.Location),
		Status:     StatusDraft,
		ReceivedAt: defaultTime(input.ReceivedAt),
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReceipt(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		for _, line := range input.Lines {
			lineID, err := tx.InsertLine(ctx, Line{ReceiptID: id, ItemName: line.ItemName, Note: line.Note})
			if err != nil {
				return err
			}
			for _, b := range line.Batches {
				if _, err := tx.InsertBatchLine(ctx, BatchLine{
					LineID:          lineID,
					BatchNo:         b.BatchNo,
					Quantity:        b.Quantity,
					ManufactureDate: b.ManufactureDate,
					ExpiryDate:      b.ExpiryDate,
					WarrantyMonths:  b.WarrantyMonths,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RECEIPT_CREATE", rec.ID, map[string]any{"receipt_no": rec.ReceiptNo})
	return rec, nil
}

// GetReceipt loads a receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, []Line, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ApproveReceipt applies the receipt to stock: each batch line creates or
// tops up its batch row, increments the aggregate and appends one RECEIPT
// ledger entry. The whole effect commits atomically; approving twice fails
// with ErrAlreadyApplied.
func (s *Service) ApproveReceipt(ctx context.Context, id, actorID int64) error {
	rec, _, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	switch rec.Status {
	case StatusDraft:
	case StatusApproved:
		return fmt.Errorf("receipts: %s: %w", rec.ReceiptNo, ErrAlreadyApplied)
	default:
		return ErrInvalidState
	}

	var touched []string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return fmt.Errorf("receipts: %s: %w", locked.ReceiptNo, ErrAlreadyApplied)
		}
		// Claimed in the same transaction as the stock effects, so a failed
		// approval releases the key with the rollback.
		if err := tx.Keys().CheckAndInsert(ctx, fmt.Sprintf("RECEIPT:%s", locked.ReceiptNo), "receipts.approve"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("receipts: %s: %w", locked.ReceiptNo, ErrAlreadyApplied)
			}
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		touched, err = s.applyLines(ctx, tx, locked, lines)
		return err
	})
	if err != nil {
		return err
	}
	s.finish(ctx, actorID, "RECEIPT_APPROVE", rec, touched)
	return nil
}

// ReprocessReceipt re-applies an edited, already-approved receipt: the
// previously applied quantities are reversed first, then the current lines
// are applied, all within one transaction so the aggregate never double
// counts.
func (s *Service) ReprocessReceipt(ctx context.Context, id, actorID int64) error {
	rec, _, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusApproved {
		return ErrInvalidState
	}

	var touched []string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusApproved {
			return ErrInvalidState
		}
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reverseLines(ctx, tx, locked, lines); err != nil {
			return err
		}
		touched, err = s.applyLines(ctx, tx, locked, lines)
		return err
	})
	if err != nil {
		return err
	}
	s.finish(ctx, actorID, "RECEIPT_REPROCESS", rec, touched)
	return nil
}

func (s *Service) applyLines(ctx context.Context, tx TxRepository, rec Receipt, lines []Line) ([]string, error) {
	stx := tx.Stock()
	var touched []string
	for _, line := range lines {
		touched = append(touched, line.ItemName)
		for _, bl := range line.Batches {
			if _, err := stock.ReceiveBatch(ctx, stx, stock.Batch{
				ItemName:        line.ItemName,
				BatchNo:         bl.BatchNo,
				Location:        rec.Location,
				Quantity:        bl.Quantity,
				ManufactureDate: bl.ManufactureDate,
				ExpiryDate:      bl.ExpiryDate,
				WarrantyMonths:  bl.WarrantyMonths,
				ReceiptRef:      rec.ReceiptNo,
			}); err != nil {
				return nil, err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: line.ItemName,
				BatchNo:  bl.BatchNo,
				Type:     stock.TxnReceipt,
				QtyIn:    bl.Quantity,
				RefNo:    rec.ReceiptNo,
				Remarks:  fmt.Sprintf("receipt %s from %s", rec.ReceiptNo, rec.Supplier),
			}); err != nil {
				return nil, err
			}
			if err := tx.SetBatchLineApplied(ctx, bl.ID, bl.Quantity); err != nil {
				return nil, err
			}
		}
	}
	return touched, nil
}

func (s *Service) reverseLines(ctx context.Context, tx TxRepository, rec Receipt, lines []Line) error {
	stx := tx.Stock()
	for _, line := range lines {
		for _, bl := range line.Batches {
			if bl.AppliedQty == 0 {
				continue
			}
			match, err := stock.ResolveBatch(ctx, stx, line.ItemName, bl.BatchNo, rec.Location, bl.AppliedQty)
			if err != nil {
				return err
			}
			if err := stx.AddBatchQuantity(ctx, match.Batch.ID, -bl.AppliedQty); err != nil {
				return err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: line.ItemName,
				BatchNo:  bl.BatchNo,
				Type:     stock.TxnReceipt,
				QtyOut:   bl.AppliedQty,
				RefNo:    rec.ReceiptNo,
				Remarks:  fmt.Sprintf("reverse receipt %s before reprocess", rec.ReceiptNo),
			}); err != nil {
				return err
			}
			if err := tx.SetBatchLineApplied(ctx, bl.ID, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context, actorID int64, action string, rec Receipt, itemNames []string) {
	if s.cache != nil {
		for _, item := range itemNames {
			s.cache.Invalidate(ctx, item)
		}
	}
	if s.metrics != nil {
		s.metrics.MovementPosted(string(stock.TxnReceipt))
	}
	s.recordAudit(ctx, actorID, action, rec.ID, map[string]any{"receipt_no": rec.ReceiptNo})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, receiptID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: fmt.Sprintf("%d", receiptID),
		Meta:     meta,
	})
}

func defaultTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
