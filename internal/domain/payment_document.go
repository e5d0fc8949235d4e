package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentStatus is the lifecycle state of a payment document.
// Print, void and deletion flags are derived from it, never stored separately.
type DocumentStatus string

const (
	DocumentStatusUnnumbered         DocumentStatus = "unnumbered"
	DocumentStatusNumbered           DocumentStatus = "numbered"
	DocumentStatusPrintedUnconfirmed DocumentStatus = "printed_unconfirmed"
	DocumentStatusPrintedConfirmed   DocumentStatus = "printed_confirmed"
	DocumentStatusVoided             DocumentStatus = "voided"
	DocumentStatusContinuation       DocumentStatus = "continuation"
)

// Valid reports whether s is a known status
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusUnnumbered, DocumentStatusNumbered, DocumentStatusPrintedUnconfirmed,
		DocumentStatusPrintedConfirmed, DocumentStatusVoided, DocumentStatusContinuation:
		return true
	}
	return false
}

// DocumentEvent drives a status transition
type DocumentEvent string

const (
	EventAssignNumber  DocumentEvent = "assign_number"
	EventDispatch      DocumentEvent = "dispatch"
	EventConfirm       DocumentEvent = "confirm"
	EventRevert        DocumentEvent = "revert"
	EventVoid          DocumentEvent = "void"
	EventReleaseNumber DocumentEvent = "release_number"
)

// RecipientType distinguishes vendors from customers
type RecipientType string

const (
	RecipientTypeVendor   RecipientType = "vendor"
	RecipientTypeCustomer RecipientType = "customer"
)

// RemittanceLine is one invoice or credit paid by a document
type RemittanceLine struct {
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentDocument is an outgoing payment that becomes a printed check or an EFT entry
type PaymentDocument struct {
	PaymentDate            time.Time        `json:"payment_date"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
	ContinuationOf         *uuid.UUID       `json:"continuation_of,omitempty"`
	Amount                 decimal.Decimal  `json:"amount"`
	Lines                  []RemittanceLine `json:"lines,omitempty"`
	RecipientName          string           `json:"recipient_name"`
	Currency               string           `json:"currency"`
	Description            string           `json:"description"`
	Status                 DocumentStatus   `json:"status"`
	ACHBatch               string           `json:"ach_batch,omitempty"`
	RecipientType          RecipientType    `json:"recipient_type"`
	RecipientRoutingNumber string           `json:"-"`
	RecipientAccountNumber string           `json:"-"`
	Number                 int64            `json:"number,omitempty"`
	ID                     uuid.UUID        `json:"id"`
	BankAccountID          uuid.UUID        `json:"bank_account_id"`
	RecipientID            uuid.UUID        `json:"recipient_id"`
	RecipientACHEnabled    bool             `json:"recipient_ach_enabled"`
}

// transitions is the complete event table. A missing entry is an invalid transition.
// Only dispatched documents can be confirmed; a numbered check that never went out cannot be posted.
var transitions = map[DocumentStatus]map[DocumentEvent]DocumentStatus{
	DocumentStatusUnnumbered: {
		EventAssignNumber:  DocumentStatusNumbered,
		EventDispatch:      DocumentStatusPrintedUnconfirmed,
		EventVoid:          DocumentStatusVoided,
		EventReleaseNumber: DocumentStatusUnnumbered,
	},
	DocumentStatusNumbered: {
		EventAssignNumber:  DocumentStatusNumbered,
		EventDispatch:      DocumentStatusPrintedUnconfirmed,
		EventVoid:          DocumentStatusVoided,
		EventReleaseNumber: DocumentStatusUnnumbered,
	},
	DocumentStatusPrintedUnconfirmed: {
		EventConfirm: DocumentStatusPrintedConfirmed,
		EventRevert:  DocumentStatusNumbered,
		EventVoid:    DocumentStatusVoided,
	},
	DocumentStatusPrintedConfirmed: {
		EventConfirm: DocumentStatusPrintedConfirmed,
		EventVoid:    DocumentStatusVoided,
	},
	DocumentStatusVoided:       {},
	DocumentStatusContinuation: {},
}

// NextStatus returns the status reached from current by event
func NextStatus(current DocumentStatus, event DocumentEvent) (DocumentStatus, error) {
	next, ok := transitions[current][event]
	if !ok {
		if current == DocumentStatusVoided {
			return current, NewDomainError(ErrorCodeDocVoided, "payment document is voided").
				WithDetail("event", string(event))
		}
		return current, NewDomainError(ErrorCodeDocInvalidTransition,
			fmt.Sprintf("cannot apply %s to a %s payment document", event, current)).
			WithDetail("status", string(current)).
			WithDetail("event", string(event))
	}
	return next, nil
}

// Apply moves the document through event, keeping the number and batch fields consistent
// with the resulting status.
func (d *PaymentDocument) Apply(event DocumentEvent) error {
	next, err := NextStatus(d.Status, event)
	if err != nil {
		return err
	}

	switch event {
	case EventRevert:
		d.ACHBatch = ""
		if d.Number == 0 {
			next = DocumentStatusUnnumbered
		}
	case EventReleaseNumber:
		d.Number = 0
	}

	d.Status = next
	return nil
}

// AssignNumber applies EventAssignNumber with the given number
func (d *PaymentDocument) AssignNumber(number int64) error {
	if number <= 0 {
		return NewDomainError(ErrorCodeValidationFailed, "payment number must be positive").
			WithDetail("number", number)
	}
	if err := d.Apply(EventAssignNumber); err != nil {
		return err
	}
	d.Number = number
	return nil
}

// Printed reports whether the document went out on paper or in an EFT file.
// Continuation markers count as printed since their page was.
func (d *PaymentDocument) Printed() bool {
	switch d.Status {
	case DocumentStatusPrintedUnconfirmed, DocumentStatusPrintedConfirmed, DocumentStatusContinuation:
		return true
	}
	return false
}

// Void reports whether the document carries no financial effect
func (d *PaymentDocument) Void() bool {
	return d.Status == DocumentStatusVoided || d.Status == DocumentStatusContinuation
}

// Posted reports whether the document's output was confirmed
func (d *PaymentDocument) Posted() bool {
	return d.Status == DocumentStatusPrintedConfirmed
}

// NeedsReview reports whether the operator still has to confirm the document's output
func (d *PaymentDocument) NeedsReview() bool {
	return d.Status == DocumentStatusPrintedUnconfirmed
}

// Deleted reports whether the document is excluded from numbering and selection.
// Voided documents and continuation markers are both treated as deleted.
func (d *PaymentDocument) Deleted() bool {
	return d.Status == DocumentStatusVoided || d.Status == DocumentStatusContinuation
}

// IsContinuation reports whether the document is a continuation marker
func (d *PaymentDocument) IsContinuation() bool {
	return d.Status == DocumentStatusContinuation
}

// Selectable reports whether a print or EFT run may pick the document up
func (d *PaymentDocument) Selectable() bool {
	return d.Status == DocumentStatusUnnumbered || d.Status == DocumentStatusNumbered
}

// EFTEligible reports whether the document can be paid through an EFT batch
func (d *PaymentDocument) EFTEligible() bool {
	return d.Selectable() && d.RecipientACHEnabled
}

// NewContinuation creates the marker that records a number consumed by an overflow page of parent
func NewContinuation(parent *PaymentDocument, number int64, now time.Time) *PaymentDocument {
	parentID := parent.ID
	return &PaymentDocument{
		ID:             uuid.New(),
		BankAccountID:  parent.BankAccountID,
		RecipientID:    parent.RecipientID,
		RecipientName:  parent.RecipientName,
		RecipientType:  parent.RecipientType,
		Currency:       parent.Currency,
		PaymentDate:    parent.PaymentDate,
		Amount:         parent.Amount,
		Number:         number,
		Status:         DocumentStatusContinuation,
		Description:    fmt.Sprintf("Continuation of #%d", parent.Number),
		ContinuationOf: &parentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
