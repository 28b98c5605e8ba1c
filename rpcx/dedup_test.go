package rpcx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKeyIsContentAddressed(t *testing.T) {
	k1 := dedupKey("getSlot", []interface{}{"confirmed"})
	k2 := dedupKey("getSlot", []interface{}{"confirmed"})
	k3 := dedupKey("getSlot", []interface{}{"finalized"})
	k4 := dedupKey("getHealth", []interface{}{"confirmed"})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

func TestDedupRunsLeaderOncePerKey(t *testing.T) {
	d := newDedup(time.Second, nil)
	var runs int64
	release := make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	values := make([]interface{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.do(context.Background(), "k", func() (interface{}, error) {
				atomic.AddInt64(&runs, 1)
				<-release
				return "result", nil
			})
			assert.NoError(t, err)
			values[i] = v
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&runs))
	for _, v := range values {
		assert.Equal(t, "result", v)
	}
}

func TestDedupSharesLeaderError(t *testing.T) {
	d := newDedup(time.Second, nil)
	boom := errors.New("boom")

	_, err := d.do(context.Background(), "k", func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// The entry is gone after completion; a new call runs fresh.
	v, err := d.do(context.Background(), "k", func() (interface{}, error) {
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestDedupJoinerRespectsContext(t *testing.T) {
	d := newDedup(time.Minute, nil)
	release := make(chan struct{})
	defer close(release)

	go d.do(context.Background(), "k", func() (interface{}, error) {
		<-release
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.do(ctx, "k", func() (interface{}, error) {
		t.Fatal("joiner must not run the call")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDedupCloseFailsWaiters(t *testing.T) {
	d := newDedup(time.Minute, nil)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	errs := make(chan error, 2)
	go func() {
		_, err := d.do(context.Background(), "k", func() (interface{}, error) {
			close(started)
			<-release
			return "late", nil
		})
		errs <- err
	}()
	<-started
	go func() {
		_, err := d.do(context.Background(), "k", func() (interface{}, error) {
			return nil, nil
		})
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	d.close()
	assert.ErrorIs(t, <-errs, ErrClientClosed)

	_, err := d.do(context.Background(), "k2", func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestDedupStaleEntryIsReplaced(t *testing.T) {
	clk := newFakeClock()
	d := newDedup(time.Second, clk)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go d.do(context.Background(), "k", func() (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	// Once the entry exceeds the stale timeout a new caller leads again
	// instead of waiting on a request that may never finish.
	clk.Advance(2 * time.Second)
	v, err := d.do(context.Background(), "k", func() (interface{}, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}
