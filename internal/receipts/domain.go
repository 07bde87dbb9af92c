package receipts

import (
	"errors"
	"time"
)

// Status is the goods receipt lifecycle. Transitions run strictly forward.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusApproved  Status = "APPROVED"
	StatusCancelled Status = "CANCELLED"
)

// Receipt is the goods receipt header.
type Receipt struct {
	ID         int64
	ReceiptNo  string
	Supplier   string
	Location   string
	Status     Status
	ReceivedAt time.Time
	Note       string
	CreatedAt  time.Time
}

// Line groups one item's batches within a receipt.
type Line struct {
	ID        int64
	ReceiptID int64
	ItemName  string
	Note      string
	Batches   []BatchLine
}

// BatchLine is one physical batch on a receipt line. AppliedQty records the
// quantity last posted to stock so a reprocess can reverse it exactly.
type BatchLine struct {
	ID              int64
	LineID          int64
	BatchNo         string
	Quantity        int64
	AppliedQty      int64
	ManufactureDate *time.Time
	ExpiryDate      *time.Time
	WarrantyMonths  int
}

var (
	// ErrNotFound indicates an unknown receipt reference.
	ErrNotFound = errors.New("receipts: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("receipts: invalid state transition")
	// ErrAlreadyApplied indicates a receipt whose stock effects were already
	// committed.
	ErrAlreadyApplied = errors.New("receipts: already applied")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("receipts: invalid input")
)
