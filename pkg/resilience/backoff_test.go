package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: 100 * time.Millisecond},
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
		{attempt: 4, want: 1 * time.Second},
		{attempt: 10, want: 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, eb.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_WithJitter(t *testing.T) {
	eb := DefaultExponentialBackoff()

	for i := 0; i < 100; i++ {
		d := eb.NextDelay(1)
		assert.GreaterOrEqual(t, d, 360*time.Millisecond)
		assert.LessOrEqual(t, d, 440*time.Millisecond)
	}
}

func TestFixedBackoff(t *testing.T) {
	fb := &FixedBackoff{Delay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, fb.NextDelay(0))
	assert.Equal(t, 50*time.Millisecond, fb.NextDelay(7))
}

func TestRetry(t *testing.T) {
	fast := &FixedBackoff{Delay: time.Millisecond}
	errTransient := errors.New("SlowDown")

	t.Run("succeeds_after_failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns_last_error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 2, fast, func(ctx context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops_on_cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, 5, &FixedBackoff{Delay: time.Hour}, func(ctx context.Context) error {
			calls++
			cancel()
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero_attempts_runs_once", func(t *testing.T) {
		calls := 0
		_ = Retry(context.Background(), 0, fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.Equal(t, 1, calls)
	})
}
