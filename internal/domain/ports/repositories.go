package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentRepository defines persistence for payment documents and their remittance lines
type PaymentRepository interface {
	// GetByID retrieves a payment document with its lines
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.PaymentDocument, error)

	// ListUnprinted returns selectable payments for a bank account in selection order
	// (payment date, then creation time). A limit of 0 returns every match.
	ListUnprinted(ctx context.Context, db DBTX, bankAccountID uuid.UUID, limit int) ([]*domain.PaymentDocument, error)

	// FindNumberHolders returns non-deleted payments on the account holding a number in [from, to)
	FindNumberHolders(ctx context.Context, db DBTX, bankAccountID uuid.UUID, from, to int64) ([]*domain.PaymentDocument, error)

	// ListByACHBatch returns the payments provisionally or finally assigned to an EFT batch
	ListByACHBatch(ctx context.Context, db DBTX, achBatch string) ([]*domain.PaymentDocument, error)

	// Create inserts a payment document (used for continuation markers)
	Create(ctx context.Context, tx DBTX, doc *domain.PaymentDocument) error

	// Update persists status, number and batch fields
	Update(ctx context.Context, tx DBTX, doc *domain.PaymentDocument) error

	// Delete removes a continuation marker. Financial payments are never deleted.
	Delete(ctx context.Context, tx DBTX, id uuid.UUID) error

	// SumOutstanding totals the amount of non-deleted, unposted payments on the account
	SumOutstanding(ctx context.Context, db DBTX, bankAccountID uuid.UUID) (decimal.Decimal, error)
}

// BankAccountRepository defines read access to bank accounts
type BankAccountRepository interface {
	// GetByID retrieves a bank account with its current next payment number
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.BankAccount, error)

	// List returns every bank account ordered by name
	List(ctx context.Context, db DBTX) ([]*domain.BankAccount, error)
}
