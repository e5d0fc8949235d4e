package ports

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
)

// Template is a loaded document template, reused for every payment of a run
type Template interface {
	ID() string
}

// DocumentRenderer turns a payment into physical pages
type DocumentRenderer interface {
	LoadTemplate(ctx context.Context, templateID string) (Template, error)
	Render(ctx context.Context, tmpl Template, params domain.RenderParams) ([]domain.Page, error)
}

// PrintSpooler hands a merged print job to the print pipeline and returns where it went
type PrintSpooler interface {
	Spool(ctx context.Context, runID uuid.UUID, job *domain.PrintJob) (string, error)
}

// EFTFormatRequest is everything a formatter may read. Formatters keep no other state.
type EFTFormatRequest struct {
	CreatedAt   time.Time
	BankAccount *domain.BankAccount
	// Payments already passed the recipient filter, in selection order
	Payments []*domain.PaymentDocument
	Key      []byte
	BatchID  int64
}

// EFTFormatter produces the line records of an EFT batch file
type EFTFormatter interface {
	Name() string
	DefaultSuffix() string
	Format(ctx context.Context, req EFTFormatRequest, emit func(line string) error) error
}

// EFTFormatterRegistry resolves the configured formatter
type EFTFormatterRegistry interface {
	Get(name string) (EFTFormatter, error)
}

// SecretManager retrieves secrets such as EFT encryption keys
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}

// Secret represents a retrieved secret with metadata
type Secret struct {
	Metadata map[string]string
	Value    string
	Version  string
}

// FileArchiver stores accepted EFT files outside the output directory
type FileArchiver interface {
	Archive(ctx context.Context, key string, body io.Reader) (string, error)
}

// Reviewer is the manual review collaborator for runs the operator did not fully confirm.
// It returns the subset the operator re-marks as printed.
type Reviewer interface {
	Review(ctx context.Context, docs []*domain.PaymentDocument) ([]uuid.UUID, error)
}

// PrintDecisionGate asks the operator whether every page printed
type PrintDecisionGate interface {
	ConfirmAllPrinted(ctx context.Context, run *domain.PrintRun) (bool, error)
}

// EFTDecisionGate asks the operator about an EFT run
type EFTDecisionGate interface {
	// ConfirmPartial is asked when only some recipients are EFT-enabled
	ConfirmPartial(ctx context.Context, eligible, skipped int) (bool, error)
	// ConfirmFile is asked once the file has been written
	ConfirmFile(ctx context.Context, run *domain.EFTRun) (bool, error)
}
