package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/domain/ports"
	"github.com/kevin07696/payment-batch/internal/testutil/fixtures"
	"github.com/kevin07696/payment-batch/internal/testutil/memstore"
	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAllocator(t *testing.T, next int64) (*Allocator, *memstore.Store, *domain.BankAccount) {
	t.Helper()
	store := memstore.New()
	account := fixtures.NewBankAccount().WithNextPaymentNumber(next).Build()
	store.AddBankAccount(account)
	return NewAllocator(store, store, store, mocks.NewRecordingLogger()), store, account
}

func TestAllocator_AllocatesConsecutiveNumbers(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 101)

	res, err := alloc.Begin(ctx, account.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(101), res.Next())

	var got []int64
	for i := 0; i < 3; i++ {
		n, err := alloc.AllocateNext(ctx, res, nil)
		require.NoError(t, err)
		got = append(got, n)
	}

	assert.Equal(t, []int64{101, 102, 103}, got)
	assert.Equal(t, got, res.Issued())

	current, err := store.Current(ctx, nil, account.SequenceScope())
	require.NoError(t, err)
	assert.Equal(t, int64(104), current)
}

func TestAllocator_ApplyFailureRollsBackCounter(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 10)

	res, err := alloc.Begin(ctx, account.ID, 1)
	require.NoError(t, err)

	_, err = alloc.AllocateNext(ctx, res, func(ctx context.Context, tx ports.DBTX, number int64) error {
		return errors.New("row update failed")
	})
	require.Error(t, err)
	assert.False(t, res.Started())
	assert.Equal(t, int64(10), res.Next())

	current, err := store.Current(ctx, nil, account.SequenceScope())
	require.NoError(t, err)
	assert.Equal(t, int64(10), current)
}

func TestAllocator_HeldNumberIsRefusedBeforeWriting(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 30)
	store.AddPayment(fixtures.NewPayment(account.ID).WithRecipient("Initech").WithNumber(30).Build())

	res, err := alloc.Begin(ctx, account.ID, 1)
	require.NoError(t, err)

	applied := false
	_, err = alloc.AllocateNext(ctx, res, func(ctx context.Context, tx ports.DBTX, number int64) error {
		applied = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeDuplicateNumber))
	assert.Contains(t, err.Error(), "Initech")
	assert.False(t, applied)
	assert.False(t, res.Started())

	current, err := store.Current(ctx, nil, account.SequenceScope())
	require.NoError(t, err)
	assert.Equal(t, int64(30), current)
}

func TestAllocator_StaleCounter(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 50)

	res, err := alloc.Begin(ctx, account.ID, 2)
	require.NoError(t, err)
	_, err = alloc.AllocateNext(ctx, res, nil)
	require.NoError(t, err)

	// another process moves the counter between our allocations
	_, err = store.Next(ctx, nil, account.SequenceScope())
	require.NoError(t, err)

	_, err = alloc.AllocateNext(ctx, res, nil)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeStaleCounter))
	assert.Equal(t, []int64{50}, res.Issued())
}

func TestAllocator_SetStartingNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("collision_names_recipient_and_allocates_nothing", func(t *testing.T) {
		alloc, store, account := setupAllocator(t, 100)
		holder := fixtures.NewPayment(account.ID).WithRecipient("Globex").WithNumber(205).Build()
		store.AddPayment(holder)

		res, err := alloc.Begin(ctx, account.ID, 3)
		require.NoError(t, err)

		err = alloc.SetStartingNumber(ctx, res, 203)
		require.Error(t, err)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeDuplicateNumber))
		assert.Contains(t, err.Error(), "Globex")
		assert.Contains(t, err.Error(), "205")

		current, err := store.Current(ctx, nil, account.SequenceScope())
		require.NoError(t, err)
		assert.Equal(t, int64(100), current)
	})

	t.Run("continuation_markers_do_not_collide", func(t *testing.T) {
		alloc, store, account := setupAllocator(t, 100)
		parent := fixtures.NewPayment(account.ID).WithNumber(90).Build()
		store.AddPayment(domain.NewContinuation(parent, 300, parent.CreatedAt))

		res, err := alloc.Begin(ctx, account.ID, 2)
		require.NoError(t, err)
		require.NoError(t, alloc.SetStartingNumber(ctx, res, 300))

		n, err := alloc.AllocateNext(ctx, res, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(300), n)
	})

	t.Run("rejected_after_first_allocation", func(t *testing.T) {
		alloc, _, account := setupAllocator(t, 100)
		res, err := alloc.Begin(ctx, account.ID, 2)
		require.NoError(t, err)
		_, err = alloc.AllocateNext(ctx, res, nil)
		require.NoError(t, err)

		err = alloc.SetStartingNumber(ctx, res, 500)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeReservationStarted))
	})

	t.Run("override_below_issued_numbers_is_refused", func(t *testing.T) {
		alloc, _, account := setupAllocator(t, 100)
		res, err := alloc.Begin(ctx, account.ID, 2)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err = alloc.AllocateNext(ctx, res, nil)
			require.NoError(t, err)
		}

		next, err := alloc.Begin(ctx, account.ID, 1)
		require.NoError(t, err)
		err = alloc.SetStartingNumber(ctx, next, 100)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeSequenceRegression))
	})
}

func TestAllocator_MonotonicAcrossExternalRewind(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 20)

	res, err := alloc.Begin(ctx, account.ID, 1)
	require.NoError(t, err)
	_, err = alloc.AllocateNext(ctx, res, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetNext(ctx, nil, account.SequenceScope(), 15))

	_, err = alloc.Begin(ctx, account.ID, 1)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeSequenceRegression))
}

func TestAllocator_BatchIDReleaseIsReused(t *testing.T) {
	ctx := context.Background()
	alloc, store, _ := setupAllocator(t, 1)
	require.NoError(t, store.SetNext(ctx, nil, domain.ACHBatchScope, 55))

	id, err := alloc.ReserveBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)

	require.NoError(t, alloc.ReleaseBatchID(ctx, id))

	again, err := alloc.ReserveBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(55), again)
}

func TestAllocator_RecordGaps(t *testing.T) {
	ctx := context.Background()
	alloc, store, account := setupAllocator(t, 7)

	res, err := alloc.Begin(ctx, account.ID, 2)
	require.NoError(t, err)
	require.NoError(t, alloc.RecordGaps(ctx, nil, res, []int64{7, 8}, "run cancelled"))

	gaps := store.Gaps(account.SequenceScope())
	require.Len(t, gaps, 2)
	assert.Equal(t, int64(8), gaps[1].Value)
	assert.Equal(t, "run cancelled", gaps[0].Reason)
}
