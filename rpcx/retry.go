package rpcx

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryPolicy controls the backoff schedule for retryable methods.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	JitterFrac float64 // symmetric fraction of the delay, 0 disables
}

// DefaultRetryPolicy matches the usual public-RPC pacing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		JitterFrac: 0.2,
	}
}

// DelayFor computes the pre-jitter delay before retry number attempt
// (0-based): min(MaxDelay, BaseDelay * Multiplier^attempt). It is
// non-decreasing in attempt and capped at MaxDelay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// jittered perturbs d by ±JitterFrac.
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.JitterFrac <= 0 || d <= 0 {
		return d
	}
	span := float64(d) * p.JitterFrac
	return time.Duration(float64(d) + (rand.Float64()*2-1)*span)
}

// retryableMethods is the fixed allow-list: read-only queries only.
// Fire-and-forget sends are never retried because a timed-out send may
// still have landed.
var retryableMethods = map[string]bool{
	"getAccountInfo":          true,
	"getMultipleAccounts":     true,
	"getProgramAccounts":      true,
	"getLatestBlockhash":      true,
	"getTransaction":          true,
	"getSignaturesForAddress": true,
	"getBalance":              true,
	"getHealth":               true,
	"getSlot":                 true,
}

// MethodRetryable reports whether a method is on the retry allow-list.
func MethodRetryable(method string) bool { return retryableMethods[method] }

// isRetryableError classifies transient transport failures: timeouts,
// rate limiting, upstream 5xx, and socket-level errors. Schema and codec
// errors never reach here; context cancellation is the caller's decision
// and is not retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// The RPC client surfaces HTTP status failures as text; match the
	// transient ones the way the upstream service spells them.
	msg := err.Error()
	for _, marker := range []string{
		"429", "too many requests",
		"500", "502", "503", "504",
		"connection refused", "connection reset", "broken pipe",
		"EOF", "timeout", "timed out",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
