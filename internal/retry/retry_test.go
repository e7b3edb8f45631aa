package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTimeout = errors.New("request timed out")

func TestMachineDelaysStrictlyIncrease(t *testing.T) {
	m := NewMachine(Policy{MaxAttempts: 8, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Second})

	var last time.Duration
	for i := 0; i < 7; i++ {
		step := m.Observe(errTimeout, true)
		require.False(t, step.Done, "attempt %d", step.Attempt)
		require.Equal(t, RetryableFailure, step.Outcome)
		require.Greater(t, step.Delay, last, "attempt %d", step.Attempt)
		last = step.Delay
	}

	step := m.Observe(errTimeout, true)
	assert.True(t, step.Done)
	assert.Equal(t, 8, step.Attempt)
}

func TestMachineRespectsMaxDelay(t *testing.T) {
	m := NewMachine(Policy{MaxAttempts: 20, InitialDelay: time.Second, MaxDelay: 4 * time.Second})
	for i := 0; i < 10; i++ {
		step := m.Observe(errTimeout, true)
		assert.LessOrEqual(t, step.Delay, 4*time.Second)
	}
}

func TestMachineTerminalStopsImmediately(t *testing.T) {
	m := NewMachine(Policy{MaxAttempts: 5})
	step := m.Observe(errors.New("bad contract id"), false)
	assert.True(t, step.Done)
	assert.Equal(t, TerminalFailure, step.Outcome)
	assert.Equal(t, 1, step.Attempt)
}

func TestDoSucceedsOnFourthAttempt(t *testing.T) {
	var delays []time.Duration
	attempts, err := Do(context.Background(),
		Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond},
		func(err error) bool { return errors.Is(err, errTimeout) },
		func(step Step) { delays = append(delays, step.Delay) },
		func(ctx context.Context, attempt int) error {
			if attempt < 4 {
				return errTimeout
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	require.Len(t, delays, 3)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestDoExhausts(t *testing.T) {
	attempts, err := Do(context.Background(),
		Policy{MaxAttempts: 3, InitialDelay: time.Millisecond},
		func(error) bool { return true }, nil,
		func(ctx context.Context, attempt int) error { return errTimeout })

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTimeout)
}

func TestDoReturnsTerminalErrorUnwrapped(t *testing.T) {
	terminal := errors.New("invalid signature")
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3},
		func(error) bool { return false }, nil,
		func(ctx context.Context, attempt int) error { return terminal })

	assert.Equal(t, 1, attempts)
	assert.Equal(t, terminal, err)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, Policy{MaxAttempts: 5, InitialDelay: time.Hour},
		func(error) bool { return true },
		func(Step) { cancel() },
		func(ctx context.Context, attempt int) error { return errTimeout })

	assert.ErrorIs(t, err, context.Canceled)
}
