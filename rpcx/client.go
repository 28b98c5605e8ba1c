// Package rpcx turns a flaky request/response transport into a dependable
// one: per-endpoint circuit breaking, allow-listed retries with exponential
// backoff, connection pooling with health sweeps, and deduplication of
// identical in-flight requests.
package rpcx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"golang.org/x/time/rate"
)

// Config is the request-layer configuration surface.
type Config struct {
	Endpoint   string
	WSEndpoint string
	Commitment rpc.CommitmentType

	Pool       PoolConfig
	Retry      RetryPolicy
	Breaker    BreakerConfig
	DedupStale time.Duration

	// RateRPS/RateBurst gate request dispatch; zero disables the limiter.
	RateRPS   float64
	RateBurst int
}

// DefaultConfig fills everything except the endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:   endpoint,
		Commitment: rpc.CommitmentConfirmed,
		Pool:       DefaultPoolConfig(),
		Retry:      DefaultRetryPolicy(),
		Breaker:    DefaultBreakerConfig(),
		DedupStale: 30 * time.Second,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClock injects a time source for tests.
func WithClock(clk Clock) Option { return func(c *Client) { c.clock = clk } }

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithDialer overrides how pool connections are established; tests use it
// to inject scripted transports.
func WithDialer(dial func() Conn) Option { return func(c *Client) { c.dial = dial } }

// Client is the resilient request layer. It owns all mutable state (pool,
// breaker, dedup map); callers only observe results.
type Client struct {
	cfg     Config
	pool    *Pool
	breaker *Breaker
	dedup   *dedup
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *Metrics
	clock   Clock
	dial    func() Conn

	wsMu sync.Mutex
	wsc  *ws.Client

	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a client over the configured endpoint.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpcx: endpoint is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	c := &Client{
		cfg:    cfg,
		clock:  SystemClock,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.dial == nil {
		endpoint := cfg.Endpoint
		c.dial = func() Conn { return rpc.New(endpoint) }
	}
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	c.breaker = NewBreaker(cfg.Breaker, c.clock)
	c.breaker.onTransition = func(from, to BreakerState) {
		c.metrics.observeBreaker(from, to)
		c.logger.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
	}
	c.dedup = newDedup(cfg.DedupStale, c.clock)
	c.dedup.onJoin = c.metrics.observeDedupHit
	c.pool = NewPool(cfg.Pool, c.dial, c.clock, c.logger)
	return c, nil
}

// Commitment returns the configured consistency level.
func (c *Client) Commitment() rpc.CommitmentType { return c.cfg.Commitment }

// Breaker exposes the endpoint's breaker state for observers.
func (c *Client) BreakerState() BreakerState { return c.breaker.State() }

// do is the single dispatch path: breaker gate, rate limit, dedup for
// retryable reads, then the retry loop.
func (c *Client) do(ctx context.Context, method string, params interface{}, fn func(ctx context.Context, conn Conn) (interface{}, error)) (interface{}, error) {
	select {
	case <-c.closed:
		return nil, ErrClientClosed
	default:
	}
	if err := c.breaker.Allow(); err != nil {
		c.metrics.observeRequest(method, "circuit_open")
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	call := func() (interface{}, error) { return c.callWithRetry(ctx, method, fn) }
	if MethodRetryable(method) {
		return c.dedup.do(ctx, dedupKey(method, params), call)
	}
	return call()
}

func (c *Client) callWithRetry(ctx context.Context, method string, fn func(ctx context.Context, conn Conn) (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		pc, err := c.pool.Borrow(ctx)
		if err != nil {
			return nil, err
		}
		size, idle := c.pool.Size()
		c.metrics.observePool(size, idle)

		res, err := fn(ctx, pc.Conn())
		c.pool.Return(pc, err)
		if err == nil {
			c.breaker.RecordSuccess()
			c.metrics.observeRequest(method, "ok")
			return res, nil
		}

		lastErr = err
		transient := isRetryableError(err)
		if transient {
			c.breaker.RecordFailure()
		}
		if !transient || !MethodRetryable(method) || attempt >= c.cfg.Retry.MaxRetries {
			c.metrics.observeRequest(method, "error")
			if attempt > 0 {
				return nil, &RetryError{Attempts: attempt + 1, Err: lastErr}
			}
			return nil, err
		}

		c.metrics.observeRetry()
		delay := c.cfg.Retry.jittered(c.cfg.Retry.DelayFor(attempt))
		c.logger.Debug("retrying request",
			"method", method, "attempt", attempt+1, "delay", delay.String(), "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, ErrClientClosed
		case <-time.After(delay):
		}
	}
}

// GetAccountInfo fetches one account at the configured commitment.
func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	res, err := c.do(ctx, "getAccountInfo", []interface{}{account, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{Commitment: c.cfg.Commitment})
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.GetAccountInfoResult), nil
}

// GetMultipleAccounts fetches a batch of accounts in one request.
func (c *Client) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	res, err := c.do(ctx, "getMultipleAccounts", []interface{}{accounts, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetMultipleAccountsWithOpts(ctx, accounts, &rpc.GetMultipleAccountsOpts{Commitment: c.cfg.Commitment})
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.GetMultipleAccountsResult), nil
}

// GetProgramAccounts scans a program's accounts with the given filters.
func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	res, err := c.do(ctx, "getProgramAccounts", []interface{}{program, filters, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
				Commitment: c.cfg.Commitment,
				Filters:    filters,
			})
		})
	if err != nil {
		return nil, err
	}
	return res.(rpc.GetProgramAccountsResult), nil
}

// GetLatestBlockhash fetches the blockhash transactions are anchored to.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
	res, err := c.do(ctx, "getLatestBlockhash", c.cfg.Commitment,
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetLatestBlockhash(ctx, c.cfg.Commitment)
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.GetLatestBlockhashResult), nil
}

// GetTransaction fetches one confirmed transaction with its log messages.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	version := uint64(0)
	res, err := c.do(ctx, "getTransaction", []interface{}{sig, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     c.cfg.Commitment,
				MaxSupportedTransactionVersion: &version,
			})
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.GetTransactionResult), nil
}

// GetSignaturesForAddress pages signature history for an address, newest
// first, optionally bounded by a before-cursor.
func (c *Client) GetSignaturesForAddress(ctx context.Context, account solana.PublicKey, limit int, before solana.Signature) ([]*rpc.TransactionSignature, error) {
	res, err := c.do(ctx, "getSignaturesForAddress", []interface{}{account, limit, before, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.cfg.Commitment}
			if limit > 0 {
				opts.Limit = &limit
			}
			if !before.IsZero() {
				opts.Before = before
			}
			return conn.GetSignaturesForAddressWithOpts(ctx, account, opts)
		})
	if err != nil {
		return nil, err
	}
	return res.([]*rpc.TransactionSignature), nil
}

// GetBalance fetches the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetBalanceResult, error) {
	res, err := c.do(ctx, "getBalance", []interface{}{account, c.cfg.Commitment},
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetBalance(ctx, account, c.cfg.Commitment)
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.GetBalanceResult), nil
}

// GetHealth asks the endpoint whether it considers itself healthy.
func (c *Client) GetHealth(ctx context.Context) (string, error) {
	res, err := c.do(ctx, "getHealth", nil,
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetHealth(ctx)
		})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GetSlot fetches the current slot at the configured commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	res, err := c.do(ctx, "getSlot", c.cfg.Commitment,
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.GetSlot(ctx, c.cfg.Commitment)
		})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

// SendTransaction submits a signed transaction. Never retried: a timed-out
// send may still have landed.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	res, err := c.do(ctx, "sendTransaction", nil,
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
				PreflightCommitment: c.cfg.Commitment,
			})
		})
	if err != nil {
		return solana.Signature{}, err
	}
	return res.(solana.Signature), nil
}

// SimulateTransaction dry-runs a transaction against current state.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	res, err := c.do(ctx, "simulateTransaction", nil,
		func(ctx context.Context, conn Conn) (interface{}, error) {
			return conn.SimulateTransaction(ctx, tx)
		})
	if err != nil {
		return nil, err
	}
	return res.(*rpc.SimulateTransactionResponse), nil
}

// WS lazily connects the subscription stream. A reconnect after DropWS is
// a new stream with a disjoint tail; no gap-filling happens here.
func (c *Client) WS(ctx context.Context) (*ws.Client, error) {
	if c.cfg.WSEndpoint == "" {
		return nil, fmt.Errorf("rpcx: no websocket endpoint configured")
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.wsc != nil {
		return c.wsc, nil
	}
	wsc, err := ws.Connect(ctx, c.cfg.WSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect subscription stream: %w", err)
	}
	c.wsc = wsc
	return wsc, nil
}

// DropWS closes and forgets a broken stream so the next WS call dials a
// fresh one. The old handle is only dropped if it is still the current one.
func (c *Client) DropWS(old *ws.Client) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if old != nil && c.wsc == old {
		c.wsc.Close()
		c.wsc = nil
	}
}

// Close cancels pending retries, fails deduplicated waiters, releases the
// pool, and terminates any open subscription socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.dedup.close()
		c.pool.Close()
		c.wsMu.Lock()
		if c.wsc != nil {
			c.wsc.Close()
			c.wsc = nil
		}
		c.wsMu.Unlock()
	})
}
