package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// BankAccounts exposes the store through ports.BankAccountRepository.
// The payment repository already owns GetByID on Store itself.
type BankAccounts struct {
	store *Store
}

var _ ports.BankAccountRepository = (*BankAccounts)(nil)

// Accounts returns the bank account repository view of the store
func (s *Store) Accounts() *BankAccounts {
	return &BankAccounts{store: s}
}

// GetByID returns an account with its current counter value
func (b *BankAccounts) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.BankAccount, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	account, ok := b.store.data.accounts[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeBankAccountNotFound, "bank account not found").
			WithDetail("id", id.String())
	}
	return b.store.withCounter(account), nil
}

// List returns every account ordered by name
func (b *BankAccounts) List(ctx context.Context, db ports.DBTX) ([]*domain.BankAccount, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	accounts := make([]*domain.BankAccount, 0, len(b.store.data.accounts))
	for _, a := range b.store.data.accounts {
		accounts = append(accounts, b.store.withCounter(a))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// withCounter copies account and fills NextPaymentNumber. Caller holds mu.
func (s *Store) withCounter(account *domain.BankAccount) *domain.BankAccount {
	c := cloneAccount(account)
	if next, ok := s.data.counters[account.SequenceScope()]; ok {
		c.NextPaymentNumber = next
	} else {
		c.NextPaymentNumber = 1
	}
	return c
}
