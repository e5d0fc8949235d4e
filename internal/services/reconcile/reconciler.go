package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/finalize"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/samber/lo"
)

// Reconciler drives a print run from Composed through Dispatched to the operator's decision
type Reconciler struct {
	db        ports.TransactionManager
	payments  ports.PaymentRepository
	spooler   ports.PrintSpooler
	finalizer *finalize.Finalizer
	clock     timeutil.Clock
	logger    ports.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(
	db ports.TransactionManager,
	payments ports.PaymentRepository,
	spooler ports.PrintSpooler,
	finalizer *finalize.Finalizer,
	clock timeutil.Clock,
	logger ports.Logger,
) *Reconciler {
	return &Reconciler{
		db:        db,
		payments:  payments,
		spooler:   spooler,
		finalizer: finalizer,
		clock:     clock,
		logger:    logger,
	}
}

// Dispatch marks the run's payments printed-unconfirmed, commits, then hands the job to the spooler.
// A spool failure reverts the payments so the run stays composed and nothing is left spooled.
func (r *Reconciler) Dispatch(ctx context.Context, run *domain.PrintRun) error {
	if err := requireState(run, domain.RunStateComposed); err != nil {
		return err
	}

	if err := r.transition(ctx, run.Documents, domain.EventDispatch); err != nil {
		r.logger.Error("dispatch failed",
			ports.String("run_id", run.ID.String()),
			ports.Err(err))
		return fmt.Errorf("dispatch run %s: %w", run.ID, err)
	}

	location, err := r.spooler.Spool(ctx, run.ID, run.Job)
	if err != nil {
		spoolErr := error(domain.WrapError(domain.ErrorCodeSpool, "print pipeline refused the job", err).
			WithDetail("run_id", run.ID.String()))
		if revertErr := r.transition(ctx, run.Documents, domain.EventRevert); revertErr != nil {
			spoolErr = errors.Join(spoolErr, fmt.Errorf("revert dispatched payments: %w", revertErr))
		}
		r.logger.Error("spool failed, payments reverted",
			ports.String("run_id", run.ID.String()),
			ports.Err(spoolErr))
		return fmt.Errorf("dispatch run %s: %w", run.ID, spoolErr)
	}

	run.State = domain.RunStateDispatched
	run.SpoolLocation = location
	run.UpdatedAt = r.clock.Now()
	observability.RecordPrintPages(run.Job.PageCount())

	r.logger.Info("print job dispatched",
		ports.String("run_id", run.ID.String()),
		ports.String("location", location),
		ports.Int("pages", run.Job.PageCount()))
	return nil
}

// transition applies event to every payment in one transaction
func (r *Reconciler) transition(ctx context.Context, ids []uuid.UUID, event domain.DocumentEvent) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := r.clock.Now()
		for _, id := range ids {
			doc, err := r.payments.GetByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := doc.Apply(event); err != nil {
				return err
			}
			doc.UpdatedAt = now
			if err := r.payments.Update(ctx, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Decide records the operator's answer to "did everything print". On yes every original payment
// is finalized. On no nothing is rolled back and the originals are returned for review.
func (r *Reconciler) Decide(ctx context.Context, run *domain.PrintRun, allPrinted bool) ([]*domain.PaymentDocument, error) {
	if err := requireState(run, domain.RunStateDispatched); err != nil {
		return nil, err
	}

	if allPrinted {
		if _, err := r.finalizer.MarkAllPrinted(ctx, run.Documents, "print"); err != nil {
			return nil, err
		}
		run.State = domain.RunStateAllConfirmed
		run.UpdatedAt = r.clock.Now()
		observability.RecordBatchRun(string(domain.RunKindPrint), string(run.State))
		r.logger.Info("print run confirmed",
			ports.String("run_id", run.ID.String()),
			ports.Int("payments", len(run.Documents)))
		return nil, nil
	}

	docs := make([]*domain.PaymentDocument, 0, len(run.Documents))
	err := r.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, id := range run.Documents {
			doc, err := r.payments.GetByID(ctx, tx, id)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load payments for review: %w", err)
	}

	run.State = domain.RunStatePartiallyConfirmed
	run.UpdatedAt = r.clock.Now()
	observability.RecordBatchRun(string(domain.RunKindPrint), string(run.State))
	observability.RecordPaymentsNeedingReview(len(docs))
	r.logger.Warn("print run not fully confirmed, review required",
		ports.String("run_id", run.ID.String()),
		ports.Int("payments", len(docs)))
	return docs, nil
}

// Review finalizes the subset the operator confirmed after a partial print.
// It may be called repeatedly; ids outside the run's original payments are refused.
func (r *Reconciler) Review(ctx context.Context, run *domain.PrintRun, printedIDs []uuid.UUID) error {
	if err := requireState(run, domain.RunStatePartiallyConfirmed); err != nil {
		return err
	}

	unknown := lo.Without(printedIDs, run.Documents...)
	if len(unknown) > 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment is not part of this run").
			WithDetail("payment_id", unknown[0].String())
	}

	ids := lo.Uniq(printedIDs)
	if _, err := r.finalizer.MarkAllPrinted(ctx, ids, "review"); err != nil {
		return err
	}

	run.Reviewed = lo.Uniq(append(run.Reviewed, ids...))
	run.UpdatedAt = r.clock.Now()
	r.logger.Info("review applied",
		ports.String("run_id", run.ID.String()),
		ports.Int("confirmed", len(ids)),
		ports.Int("pending", len(run.Documents)-len(run.Reviewed)))
	return nil
}

func requireState(run *domain.PrintRun, want domain.RunState) error {
	if run.State != want {
		return domain.NewDomainError(domain.ErrorCodeRunInvalidState,
			fmt.Sprintf("run is %s, expected %s", run.State, want)).
			WithDetail("run_id", run.ID.String())
	}
	return nil
}
