package fixtures

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentBuilder provides fluent API for building test payment documents.
type PaymentBuilder struct {
	doc *domain.PaymentDocument
}

// NewPayment creates an unnumbered $100.00 vendor payment
func NewPayment(bankAccountID uuid.UUID) *PaymentBuilder {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	return &PaymentBuilder{
		doc: &domain.PaymentDocument{
			ID:                     uuid.New(),
			BankAccountID:          bankAccountID,
			RecipientID:            uuid.New(),
			RecipientName:          "Acme Supply",
			RecipientType:          domain.RecipientTypeVendor,
			RecipientRoutingNumber: "011000015",
			RecipientAccountNumber: "987654321",
			Amount:                 decimal.RequireFromString("100.00"),
			Currency:               "USD",
			PaymentDate:            now,
			Status:                 domain.DocumentStatusUnnumbered,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
	}
}

func (b *PaymentBuilder) WithRecipient(name string) *PaymentBuilder {
	b.doc.RecipientName = name
	return b
}

func (b *PaymentBuilder) WithAmount(amount string) *PaymentBuilder {
	b.doc.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *PaymentBuilder) WithACH(enabled bool) *PaymentBuilder {
	b.doc.RecipientACHEnabled = enabled
	return b
}

func (b *PaymentBuilder) WithNumber(number int64) *PaymentBuilder {
	b.doc.Number = number
	b.doc.Status = domain.DocumentStatusNumbered
	return b
}

func (b *PaymentBuilder) WithStatus(status domain.DocumentStatus) *PaymentBuilder {
	b.doc.Status = status
	return b
}

// WithPaymentDate also shifts CreatedAt so selection order follows the date
func (b *PaymentBuilder) WithPaymentDate(t time.Time) *PaymentBuilder {
	b.doc.PaymentDate = t
	b.doc.CreatedAt = t
	return b
}

// WithLines adds n remittance lines of 10.00 each
func (b *PaymentBuilder) WithLines(n int) *PaymentBuilder {
	for i := 0; i < n; i++ {
		b.doc.Lines = append(b.doc.Lines, domain.RemittanceLine{
			Reference:   fmt.Sprintf("INV-%03d", i+1),
			Description: "Invoice",
			Amount:      decimal.RequireFromString("10.00"),
		})
	}
	return b
}

func (b *PaymentBuilder) Build() *domain.PaymentDocument {
	return b.doc
}

// BankAccountBuilder provides fluent API for building test bank accounts.
type BankAccountBuilder struct {
	account *domain.BankAccount
}

// NewBankAccount creates a USD account whose counter starts at 1
func NewBankAccount() *BankAccountBuilder {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &BankAccountBuilder{
		account: &domain.BankAccount{
			ID:                uuid.New(),
			Name:              "Operating",
			Currency:          "USD",
			RoutingNumber:     "021000021",
			AccountNumber:     "123456789",
			CompanyID:         "1234567890",
			NextPaymentNumber: 1,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}

func (b *BankAccountBuilder) WithNextPaymentNumber(n int64) *BankAccountBuilder {
	b.account.NextPaymentNumber = n
	return b
}

func (b *BankAccountBuilder) WithACH(enabled bool) *BankAccountBuilder {
	b.account.ACHEnabled = enabled
	return b
}

func (b *BankAccountBuilder) WithFormatter(name string) *BankAccountBuilder {
	b.account.EFTFormatter = name
	return b
}

func (b *BankAccountBuilder) Build() *domain.BankAccount {
	return b.account
}
