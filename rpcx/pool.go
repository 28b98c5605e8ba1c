package rpcx

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Conn is the slice of the RPC surface the engine dispatches through. It
// is satisfied by *rpc.Client and by scripted fakes in tests.
type Conn interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetHealth(ctx context.Context) (string, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransaction(ctx context.Context, transaction *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
}

// Strategy selects among idle connections on borrow.
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastUsed
	Random
	// Weighted shares the least-usage tie-break with LeastUsed in this
	// design; it exists so configs can name the intent.
	Weighted
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MinSize       int
	MaxSize       int
	MaxIdle       time.Duration // idle eviction threshold
	BorrowTimeout time.Duration // saturated-wait bound
	SweepInterval time.Duration
	ProbeInterval time.Duration
	Strategy      Strategy
}

// DefaultPoolConfig keeps one warm connection and grows to four.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:       1,
		MaxSize:       4,
		MaxIdle:       5 * time.Minute,
		BorrowTimeout: 10 * time.Second,
		SweepInterval: 30 * time.Second,
		ProbeInterval: 60 * time.Second,
		Strategy:      RoundRobin,
	}
}

// PooledConn wraps one transport handle with its lifecycle bookkeeping.
// All fields are guarded by the owning pool's mutex.
type PooledConn struct {
	conn       Conn
	createdAt  time.Time
	lastUsedAt time.Time
	usageCount uint64
	healthy    bool
	inUse      bool
	failStreak int
}

// Conn exposes the wrapped transport handle.
func (p *PooledConn) Conn() Conn { return p.conn }

// Pool owns a set of transport connections. Only the pool mutates its
// connection set; callers borrow, use, and return.
type Pool struct {
	cfg    PoolConfig
	dial   func() Conn
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	conns []*PooledConn
	rrIdx int

	closed chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool dials MinSize connections up front and starts the idle sweep and
// health probe loops.
func NewPool(cfg PoolConfig, dial func() Conn, clock Clock, logger *slog.Logger) *Pool {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	p := &Pool{
		cfg:    cfg,
		dial:   dial,
		clock:  clock,
		logger: logger,
		closed: make(chan struct{}),
	}
	p.mu.Lock()
	for i := 0; i < cfg.MinSize; i++ {
		p.conns = append(p.conns, p.newConn())
	}
	p.mu.Unlock()

	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}
	if cfg.ProbeInterval > 0 {
		p.wg.Add(1)
		go p.probeLoop()
	}
	return p
}

func (p *Pool) newConn() *PooledConn {
	now := p.clock.Now()
	return &PooledConn{
		conn:       p.dial(),
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
	}
}

// Borrow hands out an idle healthy connection per the configured strategy,
// grows the pool if it is below MaxSize, and otherwise waits with a bounded
// poll. Cancelling the wait leaks nothing: no slot is reserved until a
// connection is actually marked in use.
func (p *Pool) Borrow(ctx context.Context) (*PooledConn, error) {
	deadline := p.clock.Now().Add(p.cfg.BorrowTimeout)
	for {
		select {
		case <-p.closed:
			return nil, ErrClientClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		p.mu.Lock()
		if pc := p.pickIdle(); pc != nil {
			pc.inUse = true
			pc.usageCount++
			pc.lastUsedAt = p.clock.Now()
			p.mu.Unlock()
			return pc, nil
		}
		if len(p.conns) < p.cfg.MaxSize {
			pc := p.newConn()
			pc.inUse = true
			pc.usageCount = 1
			p.conns = append(p.conns, pc)
			p.mu.Unlock()
			return pc, nil
		}
		p.mu.Unlock()

		if p.cfg.BorrowTimeout > 0 && p.clock.Now().After(deadline) {
			return nil, ErrPoolExhausted
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closed:
			return nil, ErrClientClosed
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// pickIdle applies the borrow strategy over idle healthy connections.
// Caller holds the mutex.
func (p *Pool) pickIdle() *PooledConn {
	var idle []*PooledConn
	for _, pc := range p.conns {
		if !pc.inUse && pc.healthy {
			idle = append(idle, pc)
		}
	}
	if len(idle) == 0 {
		return nil
	}
	switch p.cfg.Strategy {
	case LeastUsed, Weighted:
		best := idle[0]
		for _, pc := range idle[1:] {
			if pc.usageCount < best.usageCount {
				best = pc
			}
		}
		return best
	case Random:
		return idle[rand.Intn(len(idle))]
	default: // RoundRobin
		p.rrIdx++
		return idle[p.rrIdx%len(idle)]
	}
}

// Return marks the connection idle and records the call outcome. Two
// consecutive failures mark it unhealthy for the sweep to evict.
func (p *Pool) Return(pc *PooledConn, callErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc.inUse = false
	pc.lastUsedAt = p.clock.Now()
	if callErr != nil && isRetryableError(callErr) {
		pc.failStreak++
		if pc.failStreak >= 2 {
			pc.healthy = false
		}
		return
	}
	if callErr == nil {
		pc.failStreak = 0
		pc.healthy = true
	}
}

// Size returns (total, idle) for observers.
func (p *Pool) Size() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, pc := range p.conns {
		if !pc.inUse {
			idle++
		}
	}
	return len(p.conns), idle
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep evicts idle-beyond-MaxIdle or unhealthy connections, never going
// below MinSize with the healthy ones.
func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	kept := p.conns[:0]
	for _, pc := range p.conns {
		if pc.inUse {
			kept = append(kept, pc)
			continue
		}
		expired := p.cfg.MaxIdle > 0 && now.Sub(pc.lastUsedAt) > p.cfg.MaxIdle
		if (expired || !pc.healthy) && len(kept)+remaining(p.conns, pc) >= p.cfg.MinSize {
			p.logger.Debug("pool: evicting connection",
				"healthy", pc.healthy, "idle", now.Sub(pc.lastUsedAt).String())
			continue
		}
		kept = append(kept, pc)
	}
	p.conns = kept
	for len(p.conns) < p.cfg.MinSize {
		p.conns = append(p.conns, p.newConn())
	}
}

// remaining counts connections after pc in the original slice, so sweep can
// tell whether evicting pc would drop below the minimum.
func remaining(conns []*PooledConn, pc *PooledConn) int {
	for i, c := range conns {
		if c == pc {
			return len(conns) - i - 1
		}
	}
	return 0
}

func (p *Pool) probeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

// probe actively re-validates idle connections, independent of request
// traffic.
func (p *Pool) probe() {
	p.mu.Lock()
	var idle []*PooledConn
	for _, pc := range p.conns {
		if !pc.inUse {
			idle = append(idle, pc)
		}
	}
	p.mu.Unlock()

	for _, pc := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		out, err := pc.conn.GetHealth(ctx)
		cancel()

		p.mu.Lock()
		if err != nil || out != rpc.HealthOk {
			pc.failStreak++
			if pc.failStreak >= 2 {
				pc.healthy = false
			}
		} else {
			pc.failStreak = 0
			pc.healthy = true
		}
		p.mu.Unlock()
	}
}

// Close stops the background loops and releases the connection set.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
}
