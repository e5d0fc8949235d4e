package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/pkg/observability"
)

// ApplyFunc persists the caller's use of a number inside the allocation transaction
type ApplyFunc func(ctx context.Context, tx ports.DBTX, number int64) error

// Reservation is one run's claim on a bank account's payment numbers.
// Numbers are handed out consecutively from the first one without re-reading the account.
type Reservation struct {
	issued        []int64
	Scope         string
	Size          int
	next          int64
	BankAccountID uuid.UUID
}

// Next returns the number the following allocation will use
func (r *Reservation) Next() int64 {
	return r.next
}

// Issued returns every number committed through this reservation, in order
func (r *Reservation) Issued() []int64 {
	return append([]int64(nil), r.issued...)
}

// Started reports whether any number has been committed
func (r *Reservation) Started() bool {
	return len(r.issued) > 0
}

// Allocator assigns payment numbers and EFT batch ids
type Allocator struct {
	db        ports.TransactionManager
	counters  ports.SequenceStore
	payments  ports.PaymentRepository
	logger    ports.Logger
	highWater map[string]int64
	mu        sync.Mutex
}

// NewAllocator creates a new allocator
func NewAllocator(
	db ports.TransactionManager,
	counters ports.SequenceStore,
	payments ports.PaymentRepository,
	logger ports.Logger,
) *Allocator {
	return &Allocator{
		db:        db,
		counters:  counters,
		payments:  payments,
		logger:    logger,
		highWater: make(map[string]int64),
	}
}

// Begin opens a reservation for size payments starting at the account's stored counter
func (a *Allocator) Begin(ctx context.Context, bankAccountID uuid.UUID, size int) (*Reservation, error) {
	if size <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "reservation size must be positive").
			WithDetail("size", size)
	}

	scope := domain.PaymentNumberScope(bankAccountID)
	current, err := a.counters.Current(ctx, nil, scope)
	if err != nil {
		return nil, fmt.Errorf("read payment counter: %w", err)
	}

	if err := a.checkAboveHighWater(scope, current); err != nil {
		return nil, err
	}

	return &Reservation{
		BankAccountID: bankAccountID,
		Scope:         scope,
		Size:          size,
		next:          current,
	}, nil
}

// SetStartingNumber applies an operator override of the first number before anything is allocated.
// The range [newStart, newStart+size) must be free of numbers held by non-deleted payments.
func (a *Allocator) SetStartingNumber(ctx context.Context, res *Reservation, newStart int64) error {
	if res.Started() {
		return domain.NewDomainError(domain.ErrorCodeReservationStarted,
			"starting number can only change before the first allocation").
			WithDetail("next", res.next)
	}
	if newStart <= 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "starting number must be positive").
			WithDetail("starting_number", newStart)
	}
	if newStart == res.next {
		return nil
	}
	if err := a.checkAboveHighWater(res.Scope, newStart); err != nil {
		return err
	}

	holders, err := a.payments.FindNumberHolders(ctx, nil, res.BankAccountID, newStart, newStart+int64(res.Size))
	if err != nil {
		return fmt.Errorf("check number collisions: %w", err)
	}
	if len(holders) > 0 {
		return a.collision(res, holders[0])
	}

	if err := a.counters.SetNext(ctx, nil, res.Scope, newStart); err != nil {
		return fmt.Errorf("set starting number: %w", err)
	}

	a.logger.Info("payment starting number overridden",
		ports.String("bank_account_id", res.BankAccountID.String()),
		ports.Int64("previous", res.next),
		ports.Int64("starting_number", newStart))

	res.next = newStart
	return nil
}

// AllocateNext commits the reservation's next number. The counter advance and apply run in one
// transaction; the reservation only moves forward once that transaction commits.
// A number already held by another payment fails with a DuplicateNumberError before anything is written,
// which covers numbers pushed past the starting-number window by continuation pages.
func (a *Allocator) AllocateNext(ctx context.Context, res *Reservation, apply ApplyFunc) (int64, error) {
	number := res.next
	if err := a.checkAboveHighWater(res.Scope, number); err != nil {
		return 0, err
	}

	err := a.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		holders, err := a.payments.FindNumberHolders(ctx, tx, res.BankAccountID, number, number+1)
		if err != nil {
			return fmt.Errorf("check number collisions: %w", err)
		}
		if len(holders) > 0 {
			return a.collision(res, holders[0])
		}
		if err := a.counters.Advance(ctx, tx, res.Scope, number); err != nil {
			return err
		}
		if apply != nil {
			return apply(ctx, tx, number)
		}
		return nil
	})
	if err != nil {
		if domain.IsSequenceError(err) && !domain.IsDomainError(err, domain.ErrorCodeDuplicateNumber) {
			observability.RecordSequenceConflict(string(domain.GetErrorCode(err)))
		}
		a.logger.Error("payment number allocation failed",
			ports.String("bank_account_id", res.BankAccountID.String()),
			ports.Int64("payment_number", number),
			ports.Err(err))
		return 0, fmt.Errorf("allocate payment number %d: %w", number, err)
	}

	res.issued = append(res.issued, number)
	res.next = number + 1

	a.mu.Lock()
	if number > a.highWater[res.Scope] {
		a.highWater[res.Scope] = number
	}
	a.mu.Unlock()

	return number, nil
}

// RecordGaps audits numbers that were committed but will never be printed
func (a *Allocator) RecordGaps(ctx context.Context, tx ports.DBTX, res *Reservation, numbers []int64, reason string) error {
	for _, n := range numbers {
		if err := a.counters.RecordGap(ctx, tx, res.Scope, n, reason); err != nil {
			return fmt.Errorf("record gap %d: %w", n, err)
		}
	}
	return nil
}

// ReserveBatchID takes the next EFT batch identifier
func (a *Allocator) ReserveBatchID(ctx context.Context) (int64, error) {
	id, err := a.counters.Next(ctx, nil, domain.ACHBatchScope)
	if err != nil {
		return 0, fmt.Errorf("reserve EFT batch id: %w", err)
	}
	return id, nil
}

// ReleaseBatchID hands an unused EFT batch identifier back to the counter
func (a *Allocator) ReleaseBatchID(ctx context.Context, id int64) error {
	if err := a.counters.Release(ctx, nil, domain.ACHBatchScope, id); err != nil {
		return fmt.Errorf("release EFT batch id %d: %w", id, err)
	}
	a.logger.Info("EFT batch id released", ports.Int64("batch_id", id))
	return nil
}

func (a *Allocator) collision(res *Reservation, holder *domain.PaymentDocument) error {
	observability.RecordSequenceConflict(string(domain.ErrorCodeDuplicateNumber))
	a.logger.Warn("payment number collides with an existing payment",
		ports.String("bank_account_id", res.BankAccountID.String()),
		ports.Int64("payment_number", holder.Number),
		ports.String("recipient", holder.RecipientName))
	return domain.NewDuplicateNumberError(holder.RecipientName, holder.Number)
}

// checkAboveHighWater refuses any number at or below one already returned in this process
func (a *Allocator) checkAboveHighWater(scope string, number int64) error {
	a.mu.Lock()
	hw := a.highWater[scope]
	a.mu.Unlock()

	if number <= hw {
		observability.RecordSequenceConflict(string(domain.ErrorCodeSequenceRegression))
		return domain.NewDomainError(domain.ErrorCodeSequenceRegression,
			fmt.Sprintf("payment number %d is not above %d, the last number issued", number, hw)).
			WithDetail("scope", scope).
			WithDetail("number", number).
			WithDetail("last_issued", hw)
	}
	return nil
}
