package rpcx

import "time"

// Clock is the time source injected into the breaker, pool, and dedup map
// so their transitions can be tested without real timers.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock time source used outside tests.
var SystemClock Clock = systemClock{}
