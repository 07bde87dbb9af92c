package returns

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
	GetReturn(ctx context.Context, id int64) (Return, []Item, error)
}

// CatalogPort exposes the item master lookup.
type CatalogPort interface {
	Get(ctx context.Context, name string) (catalog.Item, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates return flows.
type Service struct {
	repo    RepositoryPort
	items   CatalogPort
	audit   AuditPort
	cache   *stock.SummaryCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService constructs the return processor.
func NewService(repo RepositoryPort, items CatalogPort, audit AuditPort, cache *stock.SummaryCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

// CreateInput describes a draft return.
type CreateInput struct {
	ReturnNo     string
	Kind         Kind
	Location     string
	ToLocation   string
	Counterparty string
	Reason       string
	Items        []ItemInput
	ActorID      int64
}

// ItemInput is one batch quantity on a return.
type ItemInput struct {
	ItemName string
	BatchNo  string
	Quantity int64
}

// CreateReturn persists a draft return. No stock effects happen until
// approval.
func (s *Service) CreateReturn(ctx context.Context, input CreateInput) (Return, error) {
	if !input.Kind.Known() {
		return Return{}, fmt.Errorf("returns: unknown kind %q: %w", input.Kind, ErrValidation)
	}
	if input.Kind == KindInternal && input.ToLocation == "" {
		return Return{}, fmt.Errorf("returns: internal return needs a destination location: %w", ErrValidation)
	}
	if len(input.Items) == 0 {
		return Return{}, fmt.Errorf("returns: at least one item required: %w", ErrValidation)
	}
	for _, it := range input.Items {
		if it.ItemName == "" || it.BatchNo == "" || it.Quantity <= 0 {
			return Return{}, fmt.Errorf("returns: item needs name, batch and positive quantity: %w", ErrValidation)
		}
		if s.items != nil {
			if _, err := s.items.Get(ctx, it.ItemName); err != nil {
				return Return{}, fmt.Errorf("returns: item %s: %w", it.ItemName, ErrNotFound)
			}
		}
	}
	if input.ReturnNo == "" {
		input.ReturnNo = fmt.Sprintf("RET-%d", time.Now().UnixNano())
	}
	ret := Return{
		ReturnNo:     input.ReturnNo,
		Kind:         input.Kind,
		Location:     shared.ResolveLocation(ctx, input.Location),
		ToLocation:   input.ToLocation,
		Counterparty: input.Counterparty,
		Reason:       input.Reason,
		Status:       StatusDraft,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		for _, it := range input.Items {
			if _, err := tx.InsertItem(ctx, Item{ReturnID: id, ItemName: it.ItemName, BatchNo: it.BatchNo, Quantity: it.Quantity}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RETURN_CREATE", ret.ID, map[string]any{"return_no": ret.ReturnNo, "kind": string(ret.Kind)})
	return ret, nil
}

// GetReturn loads a return with its items.
func (s *Service) GetReturn(ctx context.Context, id int64) (Return, []Item, error) {
	return s.repo.GetReturn(ctx, id)
}

// ApproveReturn applies the return's stock effect by kind: inbound kinds
// credit the batch and append RETURN_IN, outbound kinds resolve and debit the
// batch and append RETURN_OUT, and internal returns move the quantity to the
// destination location with no net change. Everything commits atomically; a
// failed item rolls back the whole approval and the document stays DRAFT.
func (s *Service) ApproveReturn(ctx context.Context, id, actorID int64) (Return, error) {
	header, _, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return Return{}, err
	}
	if header.Status != StatusDraft {
		return Return{}, fmt.Errorf("returns: %s is %s: %w", header.ReturnNo, header.Status, ErrAlreadyProcessed)
	}

	var (
		ret     Return
		touched []string
		txnType stock.TxnType
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return fmt.Errorf("returns: %s: %w", locked.ReturnNo, ErrAlreadyProcessed)
		}
		// Claimed with the stock effects; a failed approval releases the key
		// on rollback and the document stays DRAFT.
		if err := tx.Keys().CheckAndInsert(ctx, fmt.Sprintf("RETURN:%s", locked.ReturnNo), "returns.approve"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("returns: %s: %w", locked.ReturnNo, ErrAlreadyProcessed)
			}
			return err
		}
		items, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		txnType, touched, err = s.applyItems(ctx, tx, locked, items)
		if err != nil {
			return err
		}
		now := time.Now()
		locked.Status = StatusApproved
		locked.DecidedAt = &now
		ret = locked
		return tx.UpdateStatus(ctx, locked)
	})
	if err != nil {
		return Return{}, err
	}
	if s.cache != nil {
		for _, item := range touched {
			s.cache.Invalidate(ctx, item)
		}
	}
	if s.metrics != nil {
		s.metrics.MovementPosted(string(txnType))
	}
	s.recordAudit(ctx, actorID, "RETURN_APPROVE", ret.ID, map[string]any{"return_no": ret.ReturnNo, "kind": string(ret.Kind)})
	return ret, nil
}

// RejectReturn closes a draft return without touching stock.
func (s *Service) RejectReturn(ctx context.Context, id, actorID int64) (Return, error) {
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return fmt.Errorf("returns: %s: %w", locked.ReturnNo, ErrAlreadyProcessed)
		}
		now := time.Now()
		locked.Status = StatusRejected
		locked.DecidedAt = &now
		ret = locked
		return tx.UpdateStatus(ctx, locked)
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, actorID, "RETURN_REJECT", ret.ID, map[string]any{"return_no": ret.ReturnNo})
	return ret, nil
}

func (s *Service) applyItems(ctx context.Context, tx TxRepository, ret Return, items []Item) (stock.TxnType, []string, error) {
	stx := tx.Stock()
	var touched []string
	var txnType stock.TxnType
	for _, it := range items {
		touched = append(touched, it.ItemName)
		switch {
		case ret.Kind.Inbound():
			txnType = stock.TxnReturnIn
			if _, err := stock.ReceiveBatch(ctx, stx, stock.Batch{
				ItemName:   it.ItemName,
				BatchNo:    it.BatchNo,
				Location:   ret.Location,
				Quantity:   it.Quantity,
				ReceiptRef: ret.ReturnNo,
			}); err != nil {
				return "", nil, err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: it.ItemName,
				BatchNo:  it.BatchNo,
				Type:     stock.TxnReturnIn,
				QtyIn:    it.Quantity,
				RefNo:    ret.ReturnNo,
				Remarks:  fmt.Sprintf("return %s from %s", ret.ReturnNo, ret.Counterparty),
			}); err != nil {
				return "", nil, err
			}
		case ret.Kind.Outbound():
			txnType = stock.TxnReturnOut
			match, err := stock.ResolveBatch(ctx, stx, it.ItemName, it.BatchNo, ret.Location, it.Quantity)
			if err != nil {
				return "", nil, err
			}
			if match.CorrectedLocation {
				s.logger.Warn("return batch found at different location",
					"return_no", ret.ReturnNo, "item", it.ItemName, "batch", it.BatchNo, "location", match.Batch.Location)
			}
			if err := stx.AddBatchQuantity(ctx, match.Batch.ID, -it.Quantity); err != nil {
				return "", nil, err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: it.ItemName,
				BatchNo:  it.BatchNo,
				Type:     stock.TxnReturnOut,
				QtyOut:   it.Quantity,
				RefNo:    ret.ReturnNo,
				Remarks:  fmt.Sprintf("return %s to %s", ret.ReturnNo, ret.Counterparty),
			}); err != nil {
				return "", nil, err
			}
		case ret.Kind == KindInternal:
			txnType = stock.TxnTransfer
			match, err := stock.ResolveBatch(ctx, stx, it.ItemName, it.BatchNo, ret.Location, it.Quantity)
			if err != nil {
				return "", nil, err
			}
			if err := stx.AddBatchQuantity(ctx, match.Batch.ID, -it.Quantity); err != nil {
				return "", nil, err
			}
			moved := match.Batch
			moved.Location = ret.ToLocation
			moved.Quantity = it.Quantity
			if _, err := stock.ReceiveBatch(ctx, stx, moved); err != nil {
				return "", nil, err
			}
			if _, err := stock.Apply(ctx, stx, stock.Movement{
				ItemName: it.ItemName,
				BatchNo:  it.BatchNo,
				Type:     stock.TxnTransfer,
				QtyIn:    it.Quantity,
				QtyOut:   it.Quantity,
				RefNo:    ret.ReturnNo,
				Remarks:  fmt.Sprintf("internal return %s: %s to %s", ret.ReturnNo, ret.Location, ret.ToLocation),
			}); err != nil {
				return "", nil, err
			}
		default:
			return "", nil, fmt.Errorf("returns: unknown kind %q: %w", ret.Kind, ErrValidation)
		}
	}
	return txnType, touched, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, returnID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_return",
		EntityID: fmt.Sprintf("%d", returnID),
		Meta:     meta,
	})
}
