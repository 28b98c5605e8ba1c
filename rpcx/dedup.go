package rpcx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// dedupKey content-addresses a request by method plus canonical-JSON
// parameters, so concurrent identical requests share one underlying call.
func dedupKey(method string, params interface{}) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params cannot be deduplicated; make the key unique.
		raw = []byte(fmt.Sprintf("%p-%d", &params, time.Now().UnixNano()))
	}
	sum := sha256.Sum256(append([]byte(method+"\x00"), raw...))
	return hex.EncodeToString(sum[:])
}

type dedupEntry struct {
	done    chan struct{}
	once    sync.Once
	val     interface{}
	err     error
	started time.Time
}

func (e *dedupEntry) complete(val interface{}, err error) {
	e.once.Do(func() {
		e.val, e.err = val, err
		close(e.done)
	})
}

// dedup collapses concurrent identical in-flight requests. The first
// caller for a key runs the call; joiners wait for its result. A stale
// timeout guards against an entry that never completes.
type dedup struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
	stale   time.Duration
	clock   Clock
	closed  bool
	onJoin  func() // observer hook, fired when a caller coalesces
}

func newDedup(stale time.Duration, clock Clock) *dedup {
	if clock == nil {
		clock = SystemClock
	}
	if stale <= 0 {
		stale = 30 * time.Second
	}
	return &dedup{
		entries: make(map[string]*dedupEntry),
		stale:   stale,
		clock:   clock,
	}
}

// do runs fn once per key; every concurrent caller with the same key
// receives the same resolved value or the same error.
func (d *dedup) do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClientClosed
	}
	if e, ok := d.entries[key]; ok && d.clock.Now().Sub(e.started) < d.stale {
		onJoin := d.onJoin
		d.mu.Unlock()
		if onJoin != nil {
			onJoin()
		}
		return d.wait(ctx, e)
	}
	e := &dedupEntry{done: make(chan struct{}), started: d.clock.Now()}
	d.entries[key] = e
	d.mu.Unlock()

	val, err := fn()
	e.complete(val, err)

	d.mu.Lock()
	if d.entries[key] == e {
		delete(d.entries, key)
	}
	d.mu.Unlock()
	return e.val, e.err
}

func (d *dedup) wait(ctx context.Context, e *dedupEntry) (interface{}, error) {
	staleTimer := time.NewTimer(d.stale)
	defer staleTimer.Stop()
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-staleTimer.C:
		return nil, fmt.Errorf("rpcx: deduplicated request never completed within %s", d.stale)
	}
}

// close fails all in-flight waiters with a cancellation error so nobody
// hangs across shutdown.
func (d *dedup) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for key, e := range d.entries {
		e.complete(nil, ErrClientClosed)
		delete(d.entries, key)
	}
}
