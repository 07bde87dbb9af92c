package stock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAggregate(ctx context.Context, itemName string) (Aggregate, error)
	ListBatches(ctx context.Context, itemName string) ([]Batch, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates direct stock operations: issues, internal transfers,
// manual adjustments and opening balances. Receipts, loans and returns have
// their own processors built on the same movement primitives.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   *SummaryCache
	metrics *observability.Metrics
	logger  *slog.Logger
	sf      singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *SummaryCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

// IssueInput describes an internal consumption request.
type IssueInput struct {
	ItemName string
	BatchNo  string
	Qty      int64
	Location string
	RefNo    string
	Remarks  string
	ActorID  int64
}

// MovementResult reports a posted movement. CorrectedLocation is set when the
// any-location fallback replaced the declared location; Location then names
// the batch's actual location.
type MovementResult struct {
	Entry             LedgerEntry
	Location          string
	CorrectedLocation bool
}

// IssueStock consumes stock. With a batch number the whole quantity draws
// from that one batch via the matching cascade; without one the item's
// batches at the resolved location are drawn down earliest expiry first.
func (s *Service) IssueStock(ctx context.Context, input IssueInput) (MovementResult, error) {
	if input.ItemName == "" {
		return MovementResult{}, fmt.Errorf("stock: item name required: %w", ErrInvalidQuantity)
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	location := shared.ResolveLocation(ctx, input.Location)

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchNo := input.BatchNo
		if batchNo != "" {
			match, err := ResolveBatch(ctx, tx, input.ItemName, batchNo, location, input.Qty)
			if err != nil {
				return err
			}
			if err := tx.AddBatchQuantity(ctx, match.Batch.ID, -input.Qty); err != nil {
				return err
			}
			result.CorrectedLocation = match.CorrectedLocation
			result.Location = match.Batch.Location
		} else {
			_, spilled, err := ConsumeForItem(ctx, tx, input.ItemName, location, input.Qty)
			if err != nil {
				return err
			}
			result.CorrectedLocation = spilled
			result.Location = location
		}
		entry, err := Apply(ctx, tx, Movement{
			ItemName: input.ItemName,
			BatchNo:  batchNo,
			Type:     TxnIssue,
			QtyOut:   input.Qty,
			RefNo:    input.RefNo,
			Remarks:  input.Remarks,
		})
		if err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.finishMovement(ctx, TxnIssue, input.ItemName, input.Qty, input.ActorID, result)
	return result, nil
}

// TransferInput describes an internal location move.
type TransferInput struct {
	ItemName string
	BatchNo  string
	Qty      int64
	From     string
	To       string
	RefNo    string
	Remarks  string
	ActorID  int64
}

// TransferInternal moves quantity between internal locations. Total and
// available quantities are unchanged; only batch location bookkeeping and the
// ledger trail change.
func (s *Service) TransferInternal(ctx context.Context, input TransferInput) (MovementResult, error) {
	if input.ItemName == "" || input.To == "" {
		return MovementResult{}, fmt.Errorf("stock: item and destination required: %w", ErrInvalidQuantity)
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	from := shared.ResolveLocation(ctx, input.From)
	if strings.EqualFold(from, input.To) {
		return MovementResult{}, ErrSameLocation
	}

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.BatchNo != "" {
			if err := s.transferBatch(ctx, tx, input, from, &result); err != nil {
				return err
			}
		} else {
			draws, spilled, err := ConsumeForItem(ctx, tx, input.ItemName, from, input.Qty)
			if err != nil {
				return err
			}
			for _, d := range draws {
				moved := d.Batch
				moved.Location = input.To
				moved.Quantity = d.Qty
				if _, err := ReceiveBatch(ctx, tx, moved); err != nil {
					return err
				}
			}
			result.CorrectedLocation = spilled
			result.Location = from
		}
		entry, err := Apply(ctx, tx, Movement{
			ItemName: input.ItemName,
			BatchNo:  input.BatchNo,
			Type:     TxnTransfer,
			QtyIn:    input.Qty,
			QtyOut:   input.Qty,
			RefNo:    input.RefNo,
			Remarks:  transferRemarks(from, input.To, input.Remarks),
		})
		if err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.finishMovement(ctx, TxnTransfer, input.ItemName, input.Qty, input.ActorID, result)
	return result, nil
}

func (s *Service) transferBatch(ctx context.Context, tx TxRepository, input TransferInput, from string, result *MovementResult) error {
	match, err := ResolveBatch(ctx, tx, input.ItemName, input.BatchNo, from, input.Qty)
	if err != nil {
		return err
	}
	result.CorrectedLocation = match.CorrectedLocation
	result.Location = match.Batch.Location
	if match.CorrectedLocation {
		s.logger.Warn("transfer source corrected to batch location",
			slog.String("item", input.ItemName),
			slog.String("batch_no", input.BatchNo),
			slog.String("declared", from),
			slog.String("actual", match.Batch.Location))
	}
	if match.Batch.Quantity == input.Qty {
		return tx.SetBatchLocation(ctx, match.Batch.ID, input.To)
	}
	if err := tx.AddBatchQuantity(ctx, match.Batch.ID, -input.Qty); err != nil {
		return err
	}
	moved := match.Batch
	moved.Location = input.To
	moved.Quantity = input.Qty
	_, err = ReceiveBatch(ctx, tx, moved)
	return err
}

// AdjustDirection names the sign of a manual adjustment.
type AdjustDirection string

const (
	// AdjustIn increases stock.
	AdjustIn AdjustDirection = "IN"
	// AdjustOut decreases stock.
	AdjustOut AdjustDirection = "OUT"
)

// AdjustInput describes a manual stock correction.
type AdjustInput struct {
	ItemName  string
	BatchNo   string
	Qty       int64
	Direction AdjustDirection
	Location  string
	Reason    string
	RefNo     string
	ActorID   int64
}

// AdjustStock posts a manual correction. Upward adjustments create or top up
// a batch; downward adjustments resolve and draw down batches like an issue.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (MovementResult, error) {
	if input.ItemName == "" {
		return MovementResult{}, fmt.Errorf("stock: item name required: %w", ErrInvalidQuantity)
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return MovementResult{}, fmt.Errorf("stock: adjustment reason required: %w", ErrInvalidQuantity)
	}
	location := shared.ResolveLocation(ctx, input.Location)

	var result MovementResult
	var txnType TxnType
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batchNo := input.BatchNo
		switch input.Direction {
		case AdjustIn:
			txnType = TxnAdjustIn
			if batchNo == "" {
				batchNo = fmt.Sprintf("ADJ-%d", time.Now().UnixNano())
			}
			if _, err := ReceiveBatch(ctx, tx, Batch{
				ItemName: input.ItemName,
				BatchNo:  batchNo,
				Location: location,
				Quantity: input.Qty,
			}); err != nil {
				return err
			}
			result.Location = location
		case AdjustOut:
			txnType = TxnAdjustOut
			if batchNo != "" {
				match, err := ResolveBatch(ctx, tx, input.ItemName, batchNo, location, input.Qty)
				if err != nil {
					return err
				}
				if err := tx.AddBatchQuantity(ctx, match.Batch.ID, -input.Qty); err != nil {
					return err
				}
				result.CorrectedLocation = match.CorrectedLocation
				result.Location = match.Batch.Location
			} else {
				_, spilled, err := ConsumeForItem(ctx, tx, input.ItemName, location, input.Qty)
				if err != nil {
					return err
				}
				result.CorrectedLocation = spilled
				result.Location = location
			}
		default:
			return fmt.Errorf("stock: unknown adjust direction %q: %w", input.Direction, ErrInvalidQuantity)
		}

		mv := Movement{ItemName: input.ItemName, BatchNo: batchNo, Type: txnType, RefNo: input.RefNo, Remarks: input.Reason}
		if txnType == TxnAdjustIn {
			mv.QtyIn = input.Qty
		} else {
			mv.QtyOut = input.Qty
		}
		entry, err := Apply(ctx, tx, mv)
		if err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.finishMovement(ctx, txnType, input.ItemName, input.Qty, input.ActorID, result)
	return result, nil
}

// OpeningInput seeds an opening balance batch.
type OpeningInput struct {
	ItemName string
	BatchNo  string
	Qty      int64
	Location string
	RefNo    string
	ActorID  int64
}

// PostOpening records an opening balance: one new batch plus an OPENING entry.
func (s *Service) PostOpening(ctx context.Context, input OpeningInput) (MovementResult, error) {
	if input.ItemName == "" || input.BatchNo == "" {
		return MovementResult{}, fmt.Errorf("stock: item and batch number required: %w", ErrInvalidQuantity)
	}
	if input.Qty <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	location := shared.ResolveLocation(ctx, input.Location)

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := ReceiveBatch(ctx, tx, Batch{
			ItemName:   input.ItemName,
			BatchNo:    input.BatchNo,
			Location:   location,
			Quantity:   input.Qty,
			ReceiptRef: input.RefNo,
		}); err != nil {
			return err
		}
		entry, err := Apply(ctx, tx, Movement{
			ItemName: input.ItemName,
			BatchNo:  input.BatchNo,
			Type:     TxnOpening,
			QtyIn:    input.Qty,
			RefNo:    input.RefNo,
			Remarks:  "opening balance",
		})
		if err != nil {
			return err
		}
		result.Entry = entry
		result.Location = location
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.finishMovement(ctx, TxnOpening, input.ItemName, input.Qty, input.ActorID, result)
	return result, nil
}

// Summary returns the item's aggregate plus its batches. Reads go through
// the redis cache when configured; concurrent misses for the same item are
// coalesced.
func (s *Service) Summary(ctx context.Context, itemName string) (Summary, error) {
	if itemName == "" {
		return Summary{}, ErrNotFound
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, itemName); ok {
			return cached, nil
		}
	}
	v, err, _ := s.sf.Do(shared.TenantFromContext(ctx).ID+":"+itemName, func() (any, error) {
		agg, err := s.repo.GetAggregate(ctx, itemName)
		if err != nil {
			return Summary{}, err
		}
		batches, err := s.repo.ListBatches(ctx, itemName)
		if err != nil {
			return Summary{}, err
		}
		sum := Summary{Aggregate: agg, Batches: batches}
		if s.cache != nil {
			s.cache.Set(ctx, itemName, sum)
		}
		return sum, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

// Ledger lists movement ledger entries.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, shared.Pagination, error) {
	entries, total, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Batches lists an item's batches.
func (s *Service) Batches(ctx context.Context, itemName string) ([]Batch, error) {
	return s.repo.ListBatches(ctx, itemName)
}

// Summary couples the aggregate with the batch rows backing it.
type Summary struct {
	Aggregate Aggregate `json:"aggregate"`
	Batches   []Batch   `json:"batches"`
}

func (s *Service) finishMovement(ctx context.Context, txnType TxnType, itemName string, qty, actorID int64, result MovementResult) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, itemName)
	}
	if s.metrics != nil {
		s.metrics.MovementPosted(string(txnType))
	}
	if result.CorrectedLocation {
		s.logger.Warn("movement location corrected by batch match",
			slog.String("type", string(txnType)),
			slog.String("item", itemName),
			slog.String("location", result.Location))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("stock:%s", txnType),
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%s:%s", txnType, itemName),
			Meta: map[string]any{
				"item":               itemName,
				"qty":                qty,
				"balance":            result.Entry.Balance,
				"corrected_location": result.CorrectedLocation,
			},
		})
	}
}

func transferRemarks(from, to, note string) string {
	base := fmt.Sprintf("transfer %s -> %s", from, to)
	if note == "" {
		return base
	}
	return base + ": " + note
}
