package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunKind distinguishes paper runs from EFT runs
type RunKind string

const (
	RunKindPrint RunKind = "print"
	RunKindEFT   RunKind = "eft"
)

// RunState is the workflow state of a batch run
type RunState string

const (
	// Print runs
	RunStateComposed           RunState = "composed"
	RunStateDispatched         RunState = "dispatched"
	RunStateAllConfirmed       RunState = "all_confirmed"
	RunStatePartiallyConfirmed RunState = "partially_confirmed"
	RunStateCancelled          RunState = "cancelled"

	// EFT runs
	RunStateEligible      RunState = "eligible"
	RunStateFileGenerated RunState = "file_generated"
	RunStateAccepted      RunState = "accepted"
	RunStateRejected      RunState = "rejected"

	RunStateFailed RunState = "failed"
)

// IsTerminal reports whether no further operator action is accepted
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateAllConfirmed, RunStateCancelled, RunStateAccepted, RunStateRejected, RunStateFailed:
		return true
	}
	return false
}

// BatchSelection is the ordered set of payments picked for one run
type BatchSelection struct {
	Documents     []*PaymentDocument
	BankAccountID uuid.UUID
	// StartingNumber overrides the account counter when non-zero
	StartingNumber int64
}

// Size returns the number of selected payments
func (s *BatchSelection) Size() int {
	return len(s.Documents)
}

// Page is one physical page produced by the document renderer
type Page struct {
	Content []byte
}

// RenderedPage ties a page to the payment number printed on it
type RenderedPage struct {
	Content    []byte
	Number     int64
	DocumentID uuid.UUID
	// ParentID is the original payment when the page belongs to a continuation
	ParentID uuid.UUID
}

// PrintJob is the merged output of one print run, pages in selection order
type PrintJob struct {
	Pages []RenderedPage
}

// PageCount returns the number of physical pages in the job
func (j *PrintJob) PageCount() int {
	if j == nil {
		return 0
	}
	return len(j.Pages)
}

// RenderParams is the data handed to the document renderer for one payment
type RenderParams struct {
	PaymentDate     time.Time
	Amount          decimal.Decimal
	Lines           []RemittanceLine
	RecipientName   string
	Currency        string
	Description     string
	BankAccountName string
	Number          int64
	DocumentID      uuid.UUID
}

// NewRenderParams builds renderer input for doc drawn on account
func NewRenderParams(doc *PaymentDocument, account *BankAccount) RenderParams {
	params := RenderParams{
		DocumentID:    doc.ID,
		Number:        doc.Number,
		RecipientName: doc.RecipientName,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		PaymentDate:   doc.PaymentDate,
		Description:   doc.Description,
		Lines:         doc.Lines,
	}
	if account != nil {
		params.BankAccountName = account.Name
	}
	return params
}

// PrintRun tracks one paper run from compose to reconciliation
type PrintRun struct {
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Job           *PrintJob   `json:"-"`
	SpoolLocation string      `json:"spool_location,omitempty"`
	State         RunState    `json:"state"`
	TemplateID    string      `json:"template_id"`
	Documents     []uuid.UUID `json:"documents"`
	Continuations []uuid.UUID `json:"continuations"`
	Numbers       []int64     `json:"numbers"`
	Reviewed      []uuid.UUID `json:"reviewed,omitempty"`
	ID            uuid.UUID   `json:"id"`
	BankAccountID uuid.UUID   `json:"bank_account_id"`
}

// EFTRun tracks one EFT batch from generation to the operator decision
type EFTRun struct {
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	State         RunState    `json:"state"`
	Formatter     string      `json:"formatter"`
	FilePath      string      `json:"file_path,omitempty"`
	Warning       string      `json:"warning,omitempty"`
	ArchiveKey    string      `json:"archive_key,omitempty"`
	Documents     []uuid.UUID `json:"documents"`
	Skipped       []uuid.UUID `json:"skipped,omitempty"`
	LineCount     int         `json:"line_count"`
	BatchID       int64       `json:"batch_id"`
	ID            uuid.UUID   `json:"id"`
	BankAccountID uuid.UUID   `json:"bank_account_id"`
}
