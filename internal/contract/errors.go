package contract

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a contract failure.
type Kind int

const (
	KindRetryable Kind = iota + 1
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Error is a failed contract interaction.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("contract %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func retryable(op string, err error) error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

func terminal(op string, err error) error {
	return &Error{Kind: KindTerminal, Op: op, Err: err}
}

// IsRetryable reports whether err may succeed when retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == KindRetryable
	}
	return false
}
