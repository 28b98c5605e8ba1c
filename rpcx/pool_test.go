package rpcx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, cfg PoolConfig) (*Pool, *int) {
	t.Helper()
	dials := 0
	p := NewPool(cfg, func() Conn {
		dials++
		return &scriptConn{}
	}, nil, nil)
	t.Cleanup(p.Close)
	return p, &dials
}

func TestPoolWarmsMinSizeAndGrowsToMax(t *testing.T) {
	p, dials := testPool(t, PoolConfig{MinSize: 2, MaxSize: 3, BorrowTimeout: time.Second})
	assert.Equal(t, 2, *dials)

	ctx := context.Background()
	a, err := p.Borrow(ctx)
	require.NoError(t, err)
	b, err := p.Borrow(ctx)
	require.NoError(t, err)
	c, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, *dials)

	total, idle := p.Size()
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, idle)

	p.Return(a, nil)
	p.Return(b, nil)
	p.Return(c, nil)
	_, idle = p.Size()
	assert.Equal(t, 3, idle)
}

func TestPoolBorrowTimesOutWhenSaturated(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: 30 * time.Millisecond})

	ctx := context.Background()
	_, err := p.Borrow(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPoolBorrowHonorsContextCancel(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: 10 * time.Second})

	_, err := p.Borrow(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Borrow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolBorrowWaitsForReturn(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: time.Second})

	ctx := context.Background()
	pc, err := p.Borrow(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Return(pc, nil)
	}()

	again, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.Same(t, pc, again)
}

func TestPoolMarksConnUnhealthyAfterTwoTransientFailures(t *testing.T) {
	p, dials := testPool(t, PoolConfig{MinSize: 1, MaxSize: 2, BorrowTimeout: time.Second})

	ctx := context.Background()
	pc, err := p.Borrow(ctx)
	require.NoError(t, err)
	p.Return(pc, errors.New("connection refused"))
	assert.True(t, pc.healthy)

	pc2, err := p.Borrow(ctx)
	require.NoError(t, err)
	require.Same(t, pc, pc2)
	p.Return(pc2, errors.New("connection refused"))
	assert.False(t, pc.healthy)

	// The unhealthy connection is skipped; the pool dials a replacement.
	pc3, err := p.Borrow(ctx)
	require.NoError(t, err)
	assert.NotSame(t, pc, pc3)
	assert.Equal(t, 2, *dials)
}

func TestPoolSuccessResetsFailStreak(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: time.Second})

	ctx := context.Background()
	pc, _ := p.Borrow(ctx)
	p.Return(pc, errors.New("timeout awaiting response"))
	pc, _ = p.Borrow(ctx)
	p.Return(pc, nil)
	pc, _ = p.Borrow(ctx)
	p.Return(pc, errors.New("timeout awaiting response"))

	assert.True(t, pc.healthy)
	assert.Equal(t, 1, pc.failStreak)
}

func TestPoolApplicationErrorsDoNotPoisonConns(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: time.Second})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		pc, err := p.Borrow(ctx)
		require.NoError(t, err)
		p.Return(pc, errors.New("custom program error: 0x1"))
		assert.True(t, pc.healthy)
	}
}

func TestPoolSweepEvictsIdleAndRefillsToMin(t *testing.T) {
	clk := newFakeClock()
	dials := 0
	p := NewPool(PoolConfig{MinSize: 1, MaxSize: 3, MaxIdle: time.Minute, BorrowTimeout: time.Second}, func() Conn {
		dials++
		return &scriptConn{}
	}, clk, nil)
	t.Cleanup(p.Close)

	ctx := context.Background()
	a, _ := p.Borrow(ctx)
	b, _ := p.Borrow(ctx)
	c, _ := p.Borrow(ctx)
	p.Return(a, nil)
	p.Return(b, nil)
	p.Return(c, nil)

	clk.Advance(2 * time.Minute)
	p.sweep()

	total, _ := p.Size()
	assert.Equal(t, 1, total) // evicted down to MinSize, refilled if needed
}

func TestPoolStrategies(t *testing.T) {
	t.Run("least used picks the coldest", func(t *testing.T) {
		p, _ := testPool(t, PoolConfig{MinSize: 3, MaxSize: 3, BorrowTimeout: time.Second, Strategy: LeastUsed})
		ctx := context.Background()

		// Warm up two connections so one stays at zero usage.
		a, _ := p.Borrow(ctx)
		b, _ := p.Borrow(ctx)
		p.Return(a, nil)
		p.Return(b, nil)

		cold, err := p.Borrow(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), cold.usageCount)
		assert.NotSame(t, a, cold)
		assert.NotSame(t, b, cold)
	})

	t.Run("weighted shares the least used pick", func(t *testing.T) {
		p, _ := testPool(t, PoolConfig{MinSize: 2, MaxSize: 2, BorrowTimeout: time.Second, Strategy: Weighted})
		ctx := context.Background()
		a, _ := p.Borrow(ctx)
		p.Return(a, nil)
		cold, err := p.Borrow(ctx)
		require.NoError(t, err)
		assert.NotSame(t, a, cold)
	})

	t.Run("round robin cycles", func(t *testing.T) {
		p, _ := testPool(t, PoolConfig{MinSize: 2, MaxSize: 2, BorrowTimeout: time.Second, Strategy: RoundRobin})
		ctx := context.Background()
		a, _ := p.Borrow(ctx)
		p.Return(a, nil)
		b, _ := p.Borrow(ctx)
		p.Return(b, nil)
		assert.NotSame(t, a, b)
	})

	t.Run("random stays within the idle set", func(t *testing.T) {
		p, _ := testPool(t, PoolConfig{MinSize: 2, MaxSize: 2, BorrowTimeout: time.Second, Strategy: Random})
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			pc, err := p.Borrow(ctx)
			require.NoError(t, err)
			p.Return(pc, nil)
		}
	})
}

func TestPoolCloseFailsBorrowers(t *testing.T) {
	p, _ := testPool(t, PoolConfig{MinSize: 1, MaxSize: 1, BorrowTimeout: time.Second})
	p.Close()
	_, err := p.Borrow(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}
