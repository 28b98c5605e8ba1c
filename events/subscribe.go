package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/google/uuid"

	"anchorlink/idl"
	"anchorlink/rpcx"
)

// SubscribeConfig tunes the live feed.
type SubscribeConfig struct {
	Buffer        int           // per-subscriber channel depth
	ReconnectWait time.Duration // pause before redialing a dropped stream
}

// DefaultSubscribeConfig buffers modestly and redials after two seconds.
func DefaultSubscribeConfig() SubscribeConfig {
	return SubscribeConfig{Buffer: 64, ReconnectWait: 2 * time.Second}
}

// Subscription is one caller's view of the live feed. Events arrive on C
// in the order the transport delivered the log notifications.
type Subscription struct {
	ID uuid.UUID
	C  <-chan *ParsedEvent
}

type subscriber struct {
	matcher Matcher
	ch      chan *ParsedEvent
}

// Stats counts what the feed has seen since start.
type Stats struct {
	Delivered uint64
	Dropped   uint64 // malformed data blocks, skip-and-count
	Discarded uint64 // events lost to a full subscriber buffer
}

// Subscriber owns the live log stream for one program: it parses each
// notification through the stack machine, decodes matching events, and
// fans them out to registered subscriptions.
type Subscriber struct {
	client  *rpcx.Client
	schema  *idl.Schema
	program solana.PublicKey
	cfg     SubscribeConfig
	logger  *slog.Logger
	metrics *rpcx.Metrics

	mu    sync.Mutex
	subs  map[uuid.UUID]*subscriber
	stats Stats

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber wires the feed; call Run to start consuming.
func NewSubscriber(client *rpcx.Client, schema *idl.Schema, program solana.PublicKey, cfg SubscribeConfig, logger *slog.Logger, metrics *rpcx.Metrics) *Subscriber {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultSubscribeConfig().Buffer
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = DefaultSubscribeConfig().ReconnectWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:  client,
		schema:  schema,
		program: program,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[uuid.UUID]*subscriber),
		closed:  make(chan struct{}),
	}
}

// Subscribe registers a filtered view of the feed. A nil matcher passes
// everything. The returned channel closes on Unsubscribe or Close.
func (s *Subscriber) Subscribe(matcher Matcher, buffer int) *Subscription {
	if matcher == nil {
		matcher = MatchAll
	}
	if buffer <= 0 {
		buffer = s.cfg.Buffer
	}
	sub := &subscriber{matcher: matcher, ch: make(chan *ParsedEvent, buffer)}
	id := uuid.New()
	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()
	return &Subscription{ID: id, C: sub.ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Subscriber) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Stats returns a snapshot of the feed counters.
func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run consumes log notifications until ctx is cancelled or Close is
// called. A dropped socket is redialed after ReconnectWait; the new socket
// is a new stream with a disjoint tail, no reordering and no gap-filling.
// Callers that need the gap replay it over the missed slot range.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		wsc, err := s.client.WS(ctx)
		if err != nil {
			s.logger.Warn("subscription stream dial failed", "err", err)
			if !s.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		sub, err := wsc.LogsSubscribeMentions(s.program, s.client.Commitment())
		if err != nil {
			s.logger.Warn("logs subscription failed", "err", err)
			s.client.DropWS(wsc)
			if !s.pause(ctx) {
				return ctx.Err()
			}
			continue
		}

		err = s.consume(ctx, sub)
		sub.Unsubscribe()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closed:
				return nil
			default:
			}
			s.logger.Warn("subscription stream lost, reconnecting", "err", err)
			s.client.DropWS(wsc)
			if !s.pause(ctx) {
				return ctx.Err()
			}
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, sub logStream) error {
	for {
		res, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}
		evs, dropped := ParseLogs(s.schema, s.program, res.Value.Logs, EventContext{
			Signature: res.Value.Signature,
			Slot:      res.Context.Slot,
		})
		s.dispatch(evs, dropped)
	}
}

// logStream is the slice of ws.LogSubscription the feed consumes; tests
// script it.
type logStream interface {
	Recv(ctx context.Context) (*ws.LogResult, error)
}

func (s *Subscriber) dispatch(evs []*ParsedEvent, dropped int) {
	if dropped > 0 {
		s.metrics.ObserveDecodeError()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Dropped += uint64(dropped)
	for _, ev := range evs {
		for _, sub := range s.subs {
			if !sub.matcher.Matches(ev) {
				continue
			}
			select {
			case sub.ch <- ev:
				s.stats.Delivered++
			default:
				// Slow consumer: shed rather than stall the stream.
				s.stats.Discarded++
			}
		}
	}
}

func (s *Subscriber) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	case <-time.After(s.cfg.ReconnectWait):
		return true
	}
}

// Close terminates the feed and closes every subscription channel.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for id, sub := range s.subs {
			delete(s.subs, id)
			close(sub.ch)
		}
		s.mu.Unlock()
	})
}
