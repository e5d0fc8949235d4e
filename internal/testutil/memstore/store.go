// Package memstore is an in-memory implementation of the persistence ports.
// Transactions snapshot every table and restore it when the callback fails,
// so workflow tests observe the same all-or-nothing behaviour as PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/shopspring/decimal"
)

var (
	_ ports.DBPort            = (*Store)(nil)
	_ ports.PaymentRepository = (*Store)(nil)
	_ ports.SequenceStore     = (*Store)(nil)
)

// Gap is an audited sequence value
type Gap struct {
	Scope  string
	Reason string
	Value  int64
}

type tables struct {
	payments map[uuid.UUID]*domain.PaymentDocument
	accounts map[uuid.UUID]*domain.BankAccount
	counters map[string]int64
	released map[string][]int64
	gaps     []Gap
}

// Store keeps payments, bank accounts and counters in memory
type Store struct {
	data tables
	txMu sync.Mutex
	mu   sync.Mutex
}

// New returns an empty store
func New() *Store {
	return &Store{data: tables{
		payments: make(map[uuid.UUID]*domain.PaymentDocument),
		accounts: make(map[uuid.UUID]*domain.BankAccount),
		counters: make(map[string]int64),
		released: make(map[string][]int64),
	}}
}

// GetDB has no pool behind it
func (s *Store) GetDB() *pgxpool.Pool {
	return nil
}

// WithTransaction serializes fn against other transactions and undoes its writes on error
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.data = snapshot
			s.mu.Unlock()
		}
	}()

	if err := fn(ctx, nil); err != nil {
		return err
	}
	committed = true
	return nil
}

// WithReadOnlyTransaction runs fn without snapshotting
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// AddBankAccount seeds an account. A non-zero NextPaymentNumber seeds its counter.
func (s *Store) AddBankAccount(account *domain.BankAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[account.ID] = cloneAccount(account)
	if account.NextPaymentNumber > 0 {
		s.data.counters[account.SequenceScope()] = account.NextPaymentNumber
	}
}

// AddPayment seeds a payment
func (s *Store) AddPayment(doc *domain.PaymentDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payments[doc.ID] = cloneDocument(doc)
}

// Payment returns a copy of a stored payment, or nil
func (s *Store) Payment(id uuid.UUID) *domain.PaymentDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.data.payments[id]; ok {
		return cloneDocument(doc)
	}
	return nil
}

// Payments returns copies of every payment on an account ordered by number, then id
func (s *Store) Payments(bankAccountID uuid.UUID) []*domain.PaymentDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []*domain.PaymentDocument
	for _, doc := range s.data.payments {
		if doc.BankAccountID == bankAccountID {
			docs = append(docs, cloneDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Number != docs[j].Number {
			return docs[i].Number < docs[j].Number
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
	return docs
}

// Gaps returns the audited gaps for scope
func (s *Store) Gaps(scope string) []Gap {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Gap
	for _, g := range s.data.gaps {
		if g.Scope == scope {
			out = append(out, g)
		}
	}
	return out
}

// GetByID returns a payment document
func (s *Store) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*domain.PaymentDocument, error) {
	doc := s.Payment(id)
	if doc == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeDocNotFound, "payment document not found").
			WithDetail("id", id.String())
	}
	return doc, nil
}

// ListUnprinted returns selectable payments by payment date, creation time and id
func (s *Store) ListUnprinted(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID, limit int) ([]*domain.PaymentDocument, error) {
	docs := s.filter(func(d *domain.PaymentDocument) bool {
		return d.BankAccountID == bankAccountID && d.Selectable()
	})
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			return a.PaymentDate.Before(b.PaymentDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// FindNumberHolders returns non-deleted payments holding a number in [from, to)
func (s *Store) FindNumberHolders(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID, from, to int64) ([]*domain.PaymentDocument, error) {
	docs := s.filter(func(d *domain.PaymentDocument) bool {
		return d.BankAccountID == bankAccountID && !d.Deleted() &&
			d.Number != 0 && d.Number >= from && d.Number < to
	})
	sort.Slice(docs, func(i, j int) bool { return docs[i].Number < docs[j].Number })
	return docs, nil
}

// ListByACHBatch returns payments carrying achBatch
func (s *Store) ListByACHBatch(ctx context.Context, db ports.DBTX, achBatch string) ([]*domain.PaymentDocument, error) {
	return s.filter(func(d *domain.PaymentDocument) bool {
		return d.ACHBatch == achBatch
	}), nil
}

// Create inserts a payment
func (s *Store) Create(ctx context.Context, tx ports.DBTX, doc *domain.PaymentDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.payments[doc.ID]; exists {
		return domain.NewDomainError(domain.ErrorCodeDatabaseError, "duplicate payment id")
	}
	if err := s.checkNumberUnique(doc); err != nil {
		return err
	}
	s.data.payments[doc.ID] = cloneDocument(doc)
	return nil
}

// Update persists status, number and batch
func (s *Store) Update(ctx context.Context, tx ports.DBTX, doc *domain.PaymentDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data.payments[doc.ID]
	if !ok {
		return domain.NewDomainError(domain.ErrorCodeDocNotFound, "payment document not found").
			WithDetail("id", doc.ID.String())
	}
	if err := s.checkNumberUnique(doc); err != nil {
		return err
	}
	stored.Number = doc.Number
	stored.Status = doc.Status
	stored.ACHBatch = doc.ACHBatch
	stored.UpdatedAt = doc.UpdatedAt
	return nil
}

// Delete removes a continuation marker
func (s *Store) Delete(ctx context.Context, tx ports.DBTX, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.data.payments[id]
	if !ok || !doc.IsContinuation() {
		return domain.NewDomainError(domain.ErrorCodeDocNotFound, "continuation marker not found").
			WithDetail("id", id.String())
	}
	delete(s.data.payments, id)
	return nil
}

// SumOutstanding totals unposted, non-deleted payments
func (s *Store) SumOutstanding(ctx context.Context, db ports.DBTX, bankAccountID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, d := range s.filter(func(d *domain.PaymentDocument) bool {
		return d.BankAccountID == bankAccountID && !d.Deleted() && !d.Posted()
	}) {
		total = total.Add(d.Amount)
	}
	return total, nil
}

// checkNumberUnique mirrors the partial unique index on (bank_account_id, number). Caller holds mu.
func (s *Store) checkNumberUnique(doc *domain.PaymentDocument) error {
	if doc.Number == 0 || doc.Deleted() {
		return nil
	}
	for id, other := range s.data.payments {
		if id != doc.ID && other.BankAccountID == doc.BankAccountID &&
			other.Number == doc.Number && !other.Deleted() {
			return domain.NewDuplicateNumberError(other.RecipientName, doc.Number)
		}
	}
	return nil
}

func (s *Store) filter(keep func(*domain.PaymentDocument) bool) []*domain.PaymentDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []*domain.PaymentDocument
	for _, d := range s.data.payments {
		if keep(d) {
			docs = append(docs, cloneDocument(d))
		}
	}
	return docs
}

func (t tables) clone() tables {
	out := tables{
		payments: make(map[uuid.UUID]*domain.PaymentDocument, len(t.payments)),
		accounts: make(map[uuid.UUID]*domain.BankAccount, len(t.accounts)),
		counters: make(map[string]int64, len(t.counters)),
		released: make(map[string][]int64, len(t.released)),
		gaps:     append([]Gap(nil), t.gaps...),
	}
	for id, d := range t.payments {
		out.payments[id] = cloneDocument(d)
	}
	for id, a := range t.accounts {
		out.accounts[id] = cloneAccount(a)
	}
	for k, v := range t.counters {
		out.counters[k] = v
	}
	for k, v := range t.released {
		out.released[k] = append([]int64(nil), v...)
	}
	return out
}

func cloneDocument(d *domain.PaymentDocument) *domain.PaymentDocument {
	c := *d
	c.Lines = append([]domain.RemittanceLine(nil), d.Lines...)
	if d.ContinuationOf != nil {
		parent := *d.ContinuationOf
		c.ContinuationOf = &parent
	}
	return &c
}

func cloneAccount(a *domain.BankAccount) *domain.BankAccount {
	c := *a
	return &c
}
