package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ACHBatchScope is the global counter scope for EFT batch identifiers
const ACHBatchScope = "ACHBatch"

// BankAccount is the account payments are drawn on
type BankAccount struct {
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Name          string    `json:"name"`
	Currency      string    `json:"currency"`
	RoutingNumber string    `json:"-"`
	AccountNumber string    `json:"-"`
	CompanyID     string    `json:"company_id,omitempty"`
	// EFTFormatter overrides the installation default formatter when set
	EFTFormatter string `json:"eft_formatter,omitempty"`
	// NextPaymentNumber mirrors the account's counter at read time. The counter store owns the value.
	NextPaymentNumber int64     `json:"next_payment_number"`
	ID                uuid.UUID `json:"id"`
	ACHEnabled        bool      `json:"ach_enabled"`
}

// SequenceScope returns the counter scope holding the account's next payment number
func (b *BankAccount) SequenceScope() string {
	return PaymentNumberScope(b.ID)
}

// PaymentNumberScope returns the counter scope for a bank account id
func PaymentNumberScope(bankAccountID uuid.UUID) string {
	return fmt.Sprintf("payment_number:%s", bankAccountID)
}
