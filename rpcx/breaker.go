package rpcx

import (
	"sync"
	"time"
)

// BreakerState is the per-endpoint circuit state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

type breakerEvent int

const (
	eventSuccess breakerEvent = iota
	eventFailure
	eventRecoveryElapsed
)

// BreakerConfig tunes the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive-window failures before opening
	SuccessThreshold int           // half-open successes before closing
	RecoveryTimeout  time.Duration // open duration before probing
	Window           time.Duration // rolling window for failure counting
}

// DefaultBreakerConfig matches a cautious public-RPC profile.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		Window:           60 * time.Second,
	}
}

// nextState is the pure transition function over the breaker state machine.
// failures and successes are the counts already including the event being
// applied. It does no time arithmetic itself; the caller reports whether
// the recovery timeout has elapsed.
func nextState(cur BreakerState, ev breakerEvent, failures, successes int, cfg BreakerConfig) BreakerState {
	switch cur {
	case StateClosed:
		if ev == eventFailure && failures >= cfg.FailureThreshold {
			return StateOpen
		}
		return StateClosed
	case StateOpen:
		if ev == eventRecoveryElapsed {
			return StateHalfOpen
		}
		return StateOpen
	case StateHalfOpen:
		switch ev {
		case eventFailure:
			return StateOpen
		case eventSuccess:
			if successes >= cfg.SuccessThreshold {
				return StateClosed
			}
		}
		return StateHalfOpen
	}
	return cur
}

// Breaker guards one endpoint. It is owned by the Client; callers only
// observe request results.
type Breaker struct {
	cfg   BreakerConfig
	clock Clock

	mu        sync.Mutex
	state     BreakerState
	failures  []time.Time // rolling window while closed
	successes int         // half-open probe successes
	inFlight  int         // outstanding half-open probes
	openedAt  time.Time

	onTransition func(from, to BreakerState)
}

// NewBreaker builds a closed breaker on the given clock (nil for wall time).
func NewBreaker(cfg BreakerConfig, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock
	}
	return &Breaker{cfg: cfg, clock: clock, state: StateClosed}
}

// Allow reports whether a request may proceed. While open and inside the
// recovery timeout every request fails fast with ErrCircuitOpen without
// touching the transport; once the timeout elapses a single probe is
// admitted at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.state == StateOpen {
		if now.Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		b.inFlight = 0
	}
	if b.state == StateHalfOpen {
		if b.inFlight > 0 {
			return ErrCircuitOpen
		}
		b.inFlight++
	}
	return nil
}

// RecordSuccess applies a successful request outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = b.failures[:0]
	case StateHalfOpen:
		if b.inFlight > 0 {
			b.inFlight--
		}
		b.successes++
		if next := nextState(StateHalfOpen, eventSuccess, 0, b.successes, b.cfg); next == StateClosed {
			b.transition(StateClosed)
			b.failures = nil
			b.successes = 0
		}
	}
}

// RecordFailure applies a failed request outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateClosed:
		b.failures = append(b.pruned(now), now)
		if next := nextState(StateClosed, eventFailure, len(b.failures), 0, b.cfg); next == StateOpen {
			b.transition(StateOpen)
			b.openedAt = now
		}
	case StateHalfOpen:
		if b.inFlight > 0 {
			b.inFlight--
		}
		b.transition(StateOpen)
		b.openedAt = now
	}
}

// State returns the current state, applying any pending open-to-half-open
// recovery first so observers never see a stale open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// pruned drops failures older than the rolling window.
func (b *Breaker) pruned(now time.Time) []time.Time {
	if b.cfg.Window <= 0 {
		return b.failures
	}
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		b.onTransition(from, to)
	}
}
