package finalize

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
)

// Finalizer marks payments printed and posted
type Finalizer struct {
	db       ports.TransactionManager
	payments ports.PaymentRepository
	clock    timeutil.Clock
	logger   ports.Logger
}

// NewFinalizer creates a new finalizer
func NewFinalizer(db ports.TransactionManager, payments ports.PaymentRepository, clock timeutil.Clock, logger ports.Logger) *Finalizer {
	return &Finalizer{
		db:       db,
		payments: payments,
		clock:    clock,
		logger:   logger,
	}
}

// MarkPrinted confirms one payment. Calling it again on a confirmed payment is a no-op;
// missing, voided and continuation documents are refused.
func (f *Finalizer) MarkPrinted(ctx context.Context, id uuid.UUID) error {
	var changed bool

	err := f.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		doc, err := f.payments.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}

		switch {
		case doc.Posted():
			return nil
		case doc.Void() && !doc.IsContinuation():
			return domain.NewDomainError(domain.ErrorCodeDocVoided, "payment document is voided").
				WithDetail("id", id.String()).
				WithDetail("number", doc.Number)
		}

		if err := doc.Apply(domain.EventConfirm); err != nil {
			return err
		}
		doc.UpdatedAt = f.clock.Now()
		if err := f.payments.Update(ctx, tx, doc); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark payment %s printed: %w", id, err)
	}

	if changed {
		f.logger.Debug("payment marked printed", ports.String("payment_id", id.String()))
	}
	return nil
}

// MarkAllPrinted finalizes ids in order and stops at the first failure
func (f *Finalizer) MarkAllPrinted(ctx context.Context, ids []uuid.UUID, source string) (int, error) {
	for i, id := range ids {
		if err := f.MarkPrinted(ctx, id); err != nil {
			observability.RecordPaymentsFinalized(source, i)
			return i, err
		}
	}
	observability.RecordPaymentsFinalized(source, len(ids))
	return len(ids), nil
}
