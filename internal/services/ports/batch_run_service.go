package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
)

// CreatePrintRunRequest contains parameters for composing a print run
type CreatePrintRunRequest struct {
	BankAccountID uuid.UUID `validate:"required"`
	// Count bounds the selection; zero selects every unprinted payment
	Count int `validate:"gte=0"`
	// StartingNumber overrides the account counter when non-zero
	StartingNumber int64 `validate:"gte=0"`
	TemplateID     string
}

// CreateEFTRunRequest contains parameters for generating an EFT batch
type CreateEFTRunRequest struct {
	BankAccountID uuid.UUID `validate:"required"`
	Count         int       `validate:"gte=0"`
	// AcceptPartial must be set when some recipients are not EFT-enabled
	AcceptPartial bool
	// OutputPath overrides the default file path; set only by local operator tooling
	OutputPath string
	// OutputName overrides the default file name and is resolved inside the output directory
	OutputName string
}

// EFTPreview is the eligibility check shown to the operator before an EFT run
type EFTPreview struct {
	Warning       string
	Eligible      int
	Skipped       int
	BankAccountID uuid.UUID
}

// BatchRunService defines the port for operator-driven print and EFT runs
type BatchRunService interface {
	// CreatePrintRun selects, numbers and renders unprinted payments into one print job
	CreatePrintRun(ctx context.Context, req *CreatePrintRunRequest) (*domain.PrintRun, error)

	// GetPrintRun returns a print run known to this process
	GetPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error)

	// DispatchPrintRun hands the composed job to the print pipeline
	DispatchPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error)

	// DecidePrintRun records whether every page printed; returns payments needing review otherwise
	DecidePrintRun(ctx context.Context, runID uuid.UUID, allPrinted bool) (*domain.PrintRun, []*domain.PaymentDocument, error)

	// ReviewPrintRun finalizes the payments the operator confirmed after a partial print
	ReviewPrintRun(ctx context.Context, runID uuid.UUID, printed []uuid.UUID) (*domain.PrintRun, error)

	// CancelPrintRun abandons a composed run that was never dispatched
	CancelPrintRun(ctx context.Context, runID uuid.UUID) (*domain.PrintRun, error)

	// PreviewEFT checks EFT eligibility without reserving anything
	PreviewEFT(ctx context.Context, bankAccountID uuid.UUID, count int) (*EFTPreview, error)

	// CreateEFTRun reserves a batch id and writes the EFT file
	CreateEFTRun(ctx context.Context, req *CreateEFTRunRequest) (*domain.EFTRun, error)

	// GetEFTRun returns an EFT run known to this process
	GetEFTRun(ctx context.Context, runID uuid.UUID) (*domain.EFTRun, error)

	// DecideEFTRun accepts or rejects a generated EFT file
	DecideEFTRun(ctx context.Context, runID uuid.UUID, accept bool) (*domain.EFTRun, error)

	// MarkPrinted finalizes one payment
	MarkPrinted(ctx context.Context, paymentID uuid.UUID) error
}
