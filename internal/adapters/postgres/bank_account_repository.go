package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// Accounts without a counter row start at payment number 1
const bankAccountSelect = `
	SELECT b.id, b.name, b.currency, b.routing_number, b.account_number, b.company_id,
	       b.eft_formatter, b.ach_enabled, COALESCE(c.next_value, 1), b.created_at, b.updated_at
	FROM bank_accounts b
	LEFT JOIN sequence_counters c ON c.scope = 'payment_number:' || b.id::text`

// BankAccountRepository implements ports.BankAccountRepository with pgx
type BankAccountRepository struct {
	pool ports.DBTX
}

// NewBankAccountRepository creates a new bank account repository
func NewBankAccountRepository(db ports.DBPort) *BankAccountRepository {
	return &BankAccountRepository{pool: db.GetDB()}
}

// GetByID retrieves a bank account and its next payment number
func (r *BankAccountRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.BankAccount, error) {
	row := querier(db, r.pool).QueryRow(ctx, bankAccountSelect+` WHERE b.id = $1`, id)
	account, err := scanBankAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrorCodeBankAccountNotFound, "bank account not found").
				WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("get bank account by id: %w", err)
	}
	return account, nil
}

// List returns every bank account ordered by name
func (r *BankAccountRepository) List(ctx context.Context, db ports.DBTX) ([]*domain.BankAccount, error) {
	rows, err := querier(db, r.pool).Query(ctx, bankAccountSelect+` ORDER BY b.name`)
	if err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.BankAccount
	for rows.Next() {
		account, err := scanBankAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func scanBankAccount(row pgx.Row) (*domain.BankAccount, error) {
	var (
		account      domain.BankAccount
		companyID    pgtype.Text
		eftFormatter pgtype.Text
	)
	if err := row.Scan(
		&account.ID, &account.Name, &account.Currency, &account.RoutingNumber, &account.AccountNumber,
		&companyID, &eftFormatter, &account.ACHEnabled, &account.NextPaymentNumber,
		&account.CreatedAt, &account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	account.CompanyID = companyID.String
	account.EFTFormatter = eftFormatter.String
	return &account, nil
}
