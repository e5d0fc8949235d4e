package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
)

func TestManager_ReverseOrder(t *testing.T) {
	m := NewManager(mocks.NewRecordingLogger(), time.Second)

	var order []string
	m.RegisterNoErr("database", func() { order = append(order, "database") })
	m.RegisterNoErr("metrics", func() { order = append(order, "metrics") })
	m.RegisterNoErr("http", func() { order = append(order, "http") })

	assert.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "metrics", "database"}, order)
}

func TestManager_JoinsErrorsAndContinues(t *testing.T) {
	m := NewManager(mocks.NewRecordingLogger(), time.Second)
	errClose := errors.New("close failed")

	closed := false
	m.RegisterNoErr("database", func() { closed = true })
	m.Register("http", func(ctx context.Context) error { return errClose })

	err := m.Shutdown()

	assert.ErrorIs(t, err, errClose)
	assert.ErrorContains(t, err, "http")
	assert.True(t, closed)
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager(mocks.NewRecordingLogger(), 20*time.Millisecond)
	m.Register("stuck", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	err := m.Shutdown()

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
