package returns

import (
	"errors"
	"time"
)

// Kind classifies a return by which direction stock moves and who the
// counterparty is.
type Kind string

const (
	// KindToVendor sends stock back to a supplier; stock decreases.
	KindToVendor Kind = "TO_VENDOR"
	// KindFromCustomer takes stock back from a customer; stock increases.
	KindFromCustomer Kind = "FROM_CUSTOMER"
	// KindToCustomer re-ships previously returned stock; stock decreases.
	KindToCustomer Kind = "TO_CUSTOMER"
	// KindInternal moves stock between locations; no net change.
	KindInternal Kind = "INTERNAL"
	// KindFromDepartment takes stock back from an internal department; stock
	// increases.
	KindFromDepartment Kind = "FROM_DEPARTMENT"
)

// Inbound reports whether approval credits stock.
func (k Kind) Inbound() bool {
	return k == KindFromCustomer || k == KindFromDepartment
}

// Outbound reports whether approval debits stock.
func (k Kind) Outbound() bool {
	return k == KindToVendor || k == KindToCustomer
}

// Known reports whether k is a recognised return kind.
func (k Kind) Known() bool {
	switch k {
	case KindToVendor, KindFromCustomer, KindToCustomer, KindInternal, KindFromDepartment:
		return true
	}
	return false
}

// Status is the return lifecycle. DRAFT moves to exactly one of APPROVED or
// REJECTED; only approval touches stock.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Return is the return document header.
type Return struct {
	ID           int64
	ReturnNo     string
	Kind         Kind
	Location     string
	ToLocation   string
	Counterparty string
	Reason       string
	Status       Status
	DecidedAt    *time.Time
	CreatedAt    time.Time
}

// Item is one batch quantity on a return.
type Item struct {
	ID       int64
	ReturnID int64
	ItemName string
	BatchNo  string
	Quantity int64
}

var (
	// ErrNotFound indicates an unknown return reference.
	ErrNotFound = errors.New("returns: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("returns: invalid state transition")
	// ErrAlreadyProcessed indicates a return already approved or rejected.
	ErrAlreadyProcessed = errors.New("returns: already processed")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("returns: invalid input")
)
