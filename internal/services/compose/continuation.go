package compose

import (
	"context"
	"fmt"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/services/sequence"
	"github.com/kevin07696/payment-batch/pkg/observability"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
)

// ContinuationExpander gives every overflow page its own payment number
type ContinuationExpander struct {
	allocator *sequence.Allocator
	payments  ports.PaymentRepository
	clock     timeutil.Clock
	logger    ports.Logger
}

// NewContinuationExpander creates a new expander
func NewContinuationExpander(
	allocator *sequence.Allocator,
	payments ports.PaymentRepository,
	clock timeutil.Clock,
	logger ports.Logger,
) *ContinuationExpander {
	return &ContinuationExpander{
		allocator: allocator,
		payments:  payments,
		clock:     clock,
		logger:    logger,
	}
}

// ExpandContinuation allocates the run's next number and stores a continuation marker for parent
func (e *ContinuationExpander) ExpandContinuation(ctx context.Context, res *sequence.Reservation, parent *domain.PaymentDocument) (*domain.PaymentDocument, error) {
	var marker *domain.PaymentDocument

	_, err := e.allocator.AllocateNext(ctx, res, func(ctx context.Context, tx ports.DBTX, number int64) error {
		marker = domain.NewContinuation(parent, number, e.clock.Now())
		return e.payments.Create(ctx, tx, marker)
	})
	if err != nil {
		return nil, fmt.Errorf("expand continuation of payment %d: %w", parent.Number, err)
	}

	observability.RecordNumberAllocated(true)
	e.logger.Debug("continuation marker created",
		ports.String("parent_id", parent.ID.String()),
		ports.Int64("parent_number", parent.Number),
		ports.Int64("payment_number", marker.Number))

	return marker, nil
}
