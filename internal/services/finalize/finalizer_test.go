package finalize

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/testutil/fixtures"
	"github.com/kevin07696/payment-batch/internal/testutil/memstore"
	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/kevin07696/payment-batch/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFinalizer() (*Finalizer, *memstore.Store, uuid.UUID) {
	store := memstore.New()
	clock := timeutil.FixedClock{T: time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)}
	return NewFinalizer(store, store, clock, mocks.NewRecordingLogger()), store, uuid.New()
}

func TestMarkPrinted(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		status   domain.DocumentStatus
		number   int64
		errCode  domain.ErrorCode
		expected domain.DocumentStatus
	}{
		{name: "numbered_never_dispatched", status: domain.DocumentStatusNumbered, number: 101, errCode: domain.ErrorCodeDocInvalidTransition, expected: domain.DocumentStatusNumbered},
		{name: "printed_unconfirmed", status: domain.DocumentStatusPrintedUnconfirmed, number: 101, expected: domain.DocumentStatusPrintedConfirmed},
		{name: "already_confirmed", status: domain.DocumentStatusPrintedConfirmed, number: 101, expected: domain.DocumentStatusPrintedConfirmed},
		{name: "voided", status: domain.DocumentStatusVoided, number: 101, errCode: domain.ErrorCodeDocVoided, expected: domain.DocumentStatusVoided},
		{name: "unnumbered", status: domain.DocumentStatusUnnumbered, errCode: domain.ErrorCodeDocInvalidTransition, expected: domain.DocumentStatusUnnumbered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finalizer, store, accountID := setupFinalizer()
			doc := fixtures.NewPayment(accountID).WithStatus(tt.status).Build()
			doc.Number = tt.number
			store.AddPayment(doc)

			err := finalizer.MarkPrinted(ctx, doc.ID)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.True(t, domain.IsDomainError(err, tt.errCode), err.Error())
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, store.Payment(doc.ID).Status)
		})
	}
}

func TestMarkPrinted_Idempotent(t *testing.T) {
	ctx := context.Background()
	finalizer, store, accountID := setupFinalizer()
	doc := fixtures.NewPayment(accountID).WithNumber(7).WithStatus(domain.DocumentStatusPrintedUnconfirmed).Build()
	store.AddPayment(doc)

	require.NoError(t, finalizer.MarkPrinted(ctx, doc.ID))
	first := store.Payment(doc.ID)

	require.NoError(t, finalizer.MarkPrinted(ctx, doc.ID))
	assert.Equal(t, first, store.Payment(doc.ID))
}

func TestMarkPrinted_MissingDocument(t *testing.T) {
	finalizer, _, _ := setupFinalizer()

	err := finalizer.MarkPrinted(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, domain.IsNotFoundError(err))
}

func TestMarkPrinted_ContinuationRefused(t *testing.T) {
	ctx := context.Background()
	finalizer, store, accountID := setupFinalizer()
	parent := fixtures.NewPayment(accountID).WithNumber(7).Build()
	marker := domain.NewContinuation(parent, 8, parent.CreatedAt)
	store.AddPayment(parent)
	store.AddPayment(marker)

	err := finalizer.MarkPrinted(ctx, marker.ID)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeDocInvalidTransition))
}

func TestMarkAllPrinted_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	finalizer, store, accountID := setupFinalizer()

	ok := fixtures.NewPayment(accountID).WithNumber(1).WithStatus(domain.DocumentStatusPrintedUnconfirmed).Build()
	voided := fixtures.NewPayment(accountID).WithStatus(domain.DocumentStatusVoided).Build()
	after := fixtures.NewPayment(accountID).WithNumber(3).WithStatus(domain.DocumentStatusPrintedUnconfirmed).Build()
	for _, d := range []*domain.PaymentDocument{ok, voided, after} {
		store.AddPayment(d)
	}

	n, err := finalizer.MarkAllPrinted(ctx, []uuid.UUID{ok.ID, voided.ID, after.ID}, "print")
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.Payment(ok.ID).Posted())
	assert.False(t, store.Payment(after.ID).Posted())
}
