package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerScenario(t *testing.T) {
	b := newBreaker(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		OperationTimeout: time.Second,
	})

	failOp := func(context.Context) error { return errors.New("boom") }
	okOp := func(context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), failOp)
		require.Error(t, err)
	}
	assert.Equal(t, Open, b.State())

	err := b.Execute(context.Background(), okOp)
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), okOp))
	require.NoError(t, b.Execute(context.Background(), okOp))
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(Config{
		Name:             "test2",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
		OperationTimeout: time.Second,
	})

	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("x") }))
	assert.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())

	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("x") }))
	assert.Equal(t, Open, b.State())
}

func TestOperationTimeoutCountsAsFailure(t *testing.T) {
	b := newBreaker(Config{
		Name:             "test3",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OperationTimeout: 10 * time.Millisecond,
	})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}
