package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped by the error returned once MaxAttempts is spent.
var ErrExhausted = errors.New("retry attempts exhausted")

// Outcome is the classification of a single attempt.
type Outcome int

const (
	Success Outcome = iota
	RetryableFailure
	TerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case TerminalFailure:
		return "terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier must exceed 1; it defaults to 2.
	Multiplier float64
}

// Step is the state after an attempt has been classified.
type Step struct {
	Attempt int
	Outcome Outcome
	Delay   time.Duration
	Err     error
	// Done is true once the loop must stop.
	Done bool
}

// Machine walks Attempt(n) -> Success | RetryableFailure(delay) | Terminal.
// Delays grow strictly until MaxDelay is reached.
type Machine struct {
	policy  Policy
	backoff *backoff.ExponentialBackOff
	jitter  func(max time.Duration) time.Duration
	attempt int
	last    time.Duration
}

// NewMachine prepares a state machine positioned before the first attempt.
func NewMachine(p Policy) *Machine {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &Machine{
		policy:  p,
		backoff: b,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

// Observe records the result of the next attempt and returns the resulting step.
func (m *Machine) Observe(err error, retryable bool) Step {
	m.attempt++
	step := Step{Attempt: m.attempt, Err: err}

	switch {
	case err == nil:
		step.Outcome = Success
		step.Done = true
	case !retryable:
		step.Outcome = TerminalFailure
		step.Done = true
	case m.attempt >= m.policy.MaxAttempts:
		step.Outcome = RetryableFailure
		step.Done = true
	default:
		step.Outcome = RetryableFailure
		step.Delay = m.nextDelay()
	}
	return step
}

// Attempts returns how many attempts have been observed.
func (m *Machine) Attempts() int {
	return m.attempt
}

func (m *Machine) nextDelay() time.Duration {
	base := m.backoff.NextBackOff()
	// Jitter stays below the gap to the next base interval so growth stays strict.
	spread := time.Duration(float64(base) * (m.policy.Multiplier - 1) / 2)
	d := base + m.jitter(spread)
	if d > m.policy.MaxDelay {
		d = m.policy.MaxDelay
	}
	if d < m.last {
		d = m.last
	}
	m.last = d
	return d
}

// Classifier reports whether err may succeed on retry.
type Classifier func(err error) bool

// Hook observes each scheduled retry.
type Hook func(step Step)

// Do runs fn until it succeeds, fails terminally, or the policy is spent.
// Exhaustion wraps ErrExhausted together with the last error.
func Do(ctx context.Context, p Policy, classify Classifier, onRetry Hook, fn func(ctx context.Context, attempt int) error) (int, error) {
	m := NewMachine(p)
	for {
		err := fn(ctx, m.Attempts()+1)
		retryable := err != nil && ctx.Err() == nil && classify != nil && classify(err)
		step := m.Observe(err, retryable)

		if step.Done {
			switch {
			case step.Outcome == Success:
				return step.Attempt, nil
			case step.Outcome == RetryableFailure:
				return step.Attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, step.Attempt, err)
			default:
				return step.Attempt, err
			}
		}

		if onRetry != nil {
			onRetry(step)
		}

		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return step.Attempt, fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
