package loans

import (
	"errors"
	"fmt"
	"time"
)

// Status is the external loan lifecycle: DRAFT -> SENT -> RETURNED, strictly
// forward.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSent     Status = "SENT"
	StatusReturned Status = "RETURNED"
)

// Loan is the external loan header: stock sent to a party outside the normal
// consumption flow, expected back or written off as damaged.
type Loan struct {
	ID            int64
	LoanNo        string
	Location      string
	PartyName     string
	PartyID       string
	PartyLocation string
	Reason        string
	Status        Status
	SentAt        *time.Time
	ReturnedAt    *time.Time
	CreatedAt     time.Time
}

// Item is one loaned batch quantity. ReturnedQty and DamagedQty accumulate
// monotonically across settlements and never exceed QuantitySent combined.
type Item struct {
	ID           int64
	LoanID       int64
	ItemName     string
	BatchNo      string
	QuantitySent int64
	ReturnedQty  int64
	DamagedQty   int64
	DamageReason string
}

// Outstanding is the quantity still unaccounted for.
func (i Item) Outstanding() int64 {
	return i.QuantitySent - i.ReturnedQty - i.DamagedQty
}

// Settled reports whether every sent unit is accounted for.
func (i Item) Settled() bool {
	return i.Outstanding() == 0
}

var (
	// ErrNotFound indicates an unknown loan reference.
	ErrNotFound = errors.New("loans: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("loans: invalid state transition")
	// ErrAlreadySettled indicates a settlement reference that was already
	// processed.
	ErrAlreadySettled = errors.New("loans: settlement already processed")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("loans: invalid input")
)

// OverReturnError reports a settlement whose returned plus damaged quantity
// exceeds what is still outstanding for the item.
type OverReturnError struct {
	ItemName    string
	BatchNo     string
	Outstanding int64
	Requested   int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("loans: item %s batch %s has %d outstanding, %d submitted", e.ItemName, e.BatchNo, e.Outstanding, e.Requested)
}
