package rpcx

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is the fast-fail result while an endpoint's breaker is
	// open. It is distinct from transport errors so callers can tell
	// "service currently unavailable" from "single request failed".
	ErrCircuitOpen = errors.New("rpcx: circuit open")

	// ErrPoolExhausted reports a borrow wait that timed out with the pool
	// saturated.
	ErrPoolExhausted = errors.New("rpcx: connection pool exhausted")

	// ErrClientClosed reports an operation issued after Close, including
	// deduplicated waiters failed during shutdown.
	ErrClientClosed = errors.New("rpcx: client closed")
)

// RetryError wraps the last underlying error after retries are exhausted,
// carrying the attempt count for the caller.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("rpcx: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }
