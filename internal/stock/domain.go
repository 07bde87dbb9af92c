package stock

import (
	"errors"
	"fmt"
	"time"
)

// TxnType enumerates supported stock ledger movements.
type TxnType string

const (
	// TxnReceipt represents goods received from a supplier.
	TxnReceipt TxnType = "RECEIPT"
	// TxnIssue represents internal consumption.
	TxnIssue TxnType = "ISSUE"
	// TxnTransfer records a move between internal locations.
	TxnTransfer TxnType = "TRANSFER"
	// TxnLoanOut records stock sent out on an external loan.
	TxnLoanOut TxnType = "LOAN_OUT"
	// TxnLoanIn records stock credited back from a loan settlement.
	TxnLoanIn TxnType = "LOAN_IN"
	// TxnReturnIn records goods arriving through a return.
	TxnReturnIn TxnType = "RETURN_IN"
	// TxnReturnOut records goods leaving through a return.
	TxnReturnOut TxnType = "RETURN_OUT"
	// TxnAdjustIn is a manual upward adjustment.
	TxnAdjustIn TxnType = "ADJUST_IN"
	// TxnAdjustOut is a manual downward adjustment.
	TxnAdjustOut TxnType = "ADJUST_OUT"
	// TxnOpening seeds an opening balance.
	TxnOpening TxnType = "OPENING"
)

// Batch is one physical batch of an item at a location. Batches are created
// by receipts (or inbound returns) and mutated by every other movement. A
// batch whose quantity reaches zero is retained as a zero row, never deleted.
type Batch struct {
	ID              int64
	ItemName        string
	BatchNo         string
	Location        string
	Quantity        int64
	ManufactureDate *time.Time
	ExpiryDate      *time.Time
	WarrantyMonths  int
	ReceiptRef      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Aggregate is the denormalised per-item stock summary. The batch rows are
// the ground truth; the aggregate is a materialised cache kept in step within
// the same transaction as every batch mutation.
type Aggregate struct {
	ItemName     string
	TotalQty     int64
	AvailableQty int64
	ReservedQty  int64
	UpdatedAt    time.Time
}

// LedgerEntry is one immutable record of a quantity change. Balance is the
// item's available quantity immediately after the entry was applied, a
// point-in-time audit snapshot.
type LedgerEntry struct {
	ID        int64
	ItemName  string
	BatchNo   string
	Type      TxnType
	QtyIn     int64
	QtyOut    int64
	Balance   int64
	RefNo     string
	Remarks   string
	CreatedAt time.Time
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ItemName string
	BatchNo  string
	Type     TxnType
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

// Movement describes one ledger-visible quantity change. QtyIn and QtyOut
// are both set for TRANSFER entries so the net aggregate delta is zero while
// the moved quantity stays auditable.
type Movement struct {
	ItemName string
	BatchNo  string
	Type     TxnType
	QtyIn    int64
	QtyOut   int64
	RefNo    string
	Remarks  string
}

// Delta is the net change the movement applies to the aggregate.
func (m Movement) Delta() int64 {
	return m.QtyIn - m.QtyOut
}

var (
	// ErrNotFound indicates an unknown item, batch or aggregate reference.
	ErrNotFound = errors.New("stock: not found")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrSameLocation rejects transfers whose endpoints match.
	ErrSameLocation = errors.New("stock: source and destination location must differ")
)

// InsufficientStockError reports a movement whose requested quantity exceeds
// the resolvable supply. It names the shortfall so callers never see a
// generic failure for a structurally detectable condition.
type InsufficientStockError struct {
	ItemName  string
	BatchNo   string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	if e.BatchNo != "" {
		return fmt.Sprintf("stock: batch %s of %s has %d available, %d requested", e.BatchNo, e.ItemName, e.Available, e.Requested)
	}
	return fmt.Sprintf("stock: item %s has %d available, %d requested", e.ItemName, e.Available, e.Requested)
}

// Shortfall returns the missing quantity.
func (e *InsufficientStockError) Shortfall() int64 {
	return e.Requested - e.Available
}
