package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"anchorlink/idl"
	"anchorlink/rpcx"
)

// ReplayRange is a closed slot interval.
type ReplayRange struct {
	FromSlot uint64
	ToSlot   uint64
}

// ReplayProgress is reported incrementally while a replay runs.
// ProcessedSlots counts distinct slots that carried transactions, so on a
// sparse range it stays below TotalSlots even after a complete run.
type ReplayProgress struct {
	ProcessedSlots uint64
	TotalSlots     uint64
	EmittedEvents  uint64
	Dropped        uint64
}

// ReplayError carries the last successfully processed slot so a caller can
// resume from where the run broke.
type ReplayError struct {
	LastSlot uint64
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("events: replay failed after slot %d: %v", e.LastSlot, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Replayer re-derives events from historical transactions through the same
// log parser and filter pipeline as the live feed.
type Replayer struct {
	client  *rpcx.Client
	schema  *idl.Schema
	program solana.PublicKey
	logger  *slog.Logger
	metrics *rpcx.Metrics

	// pageSize is the signature page size; the public RPC caps it at 1000.
	pageSize int
}

// NewReplayer builds a replayer for one program.
func NewReplayer(client *rpcx.Client, schema *idl.Schema, program solana.PublicKey, logger *slog.Logger, metrics *rpcx.Metrics) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		client:   client,
		schema:   schema,
		program:  program,
		logger:   logger,
		metrics:  metrics,
		pageSize: 1000,
	}
}

// Replay fetches the program's transactions inside the closed slot range
// in ascending slot order (then transaction order within a slot), parses
// each through the log stack machine, applies the matcher, and emits
// matching events. maxEvents of zero means unbounded. Emission stops at
// the cap; progressFn, when set, is called after every transaction.
func (r *Replayer) Replay(
	ctx context.Context,
	rng ReplayRange,
	matcher Matcher,
	maxEvents int,
	emit func(*ParsedEvent) error,
	progressFn func(ReplayProgress),
) error {
	if rng.ToSlot < rng.FromSlot {
		return fmt.Errorf("events: replay range [%d, %d] is inverted", rng.FromSlot, rng.ToSlot)
	}
	if matcher == nil {
		matcher = MatchAll
	}

	sigs, err := r.collectSignatures(ctx, rng)
	if err != nil {
		return &ReplayError{LastSlot: 0, Err: err}
	}

	// Signature history arrives newest-first, including within a slot.
	// Reverse to oldest-first, then a stable sort keeps intra-slot
	// transaction order while guaranteeing ascending slots.
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].Slot < sigs[j].Slot })

	progress := ReplayProgress{TotalSlots: rng.ToSlot - rng.FromSlot + 1}
	var lastSlot uint64
	seenSlots := make(map[uint64]struct{})

	for _, sigInfo := range sigs {
		select {
		case <-ctx.Done():
			return &ReplayError{LastSlot: lastSlot, Err: ctx.Err()}
		default:
		}

		tx, err := r.client.GetTransaction(ctx, sigInfo.Signature)
		if err != nil {
			return &ReplayError{LastSlot: lastSlot, Err: fmt.Errorf("failed to fetch transaction %s: %w", sigInfo.Signature, err)}
		}
		if tx == nil || tx.Meta == nil {
			continue
		}

		ectx := EventContext{Signature: sigInfo.Signature, Slot: sigInfo.Slot}
		if tx.BlockTime != nil {
			ectx.BlockTime = tx.BlockTime.Time()
		}
		evs, dropped := ParseLogs(r.schema, r.program, tx.Meta.LogMessages, ectx)
		if dropped > 0 {
			r.metrics.ObserveDecodeError()
			progress.Dropped += uint64(dropped)
		}

		for _, ev := range evs {
			if !matcher.Matches(ev) {
				continue
			}
			if err := emit(ev); err != nil {
				return &ReplayError{LastSlot: lastSlot, Err: err}
			}
			progress.EmittedEvents++
			if maxEvents > 0 && progress.EmittedEvents >= uint64(maxEvents) {
				if _, seen := seenSlots[sigInfo.Slot]; !seen {
					progress.ProcessedSlots++
				}
				if progressFn != nil {
					progressFn(progress)
				}
				return nil
			}
		}

		lastSlot = sigInfo.Slot
		if _, seen := seenSlots[sigInfo.Slot]; !seen {
			seenSlots[sigInfo.Slot] = struct{}{}
			progress.ProcessedSlots++
		}
		if progressFn != nil {
			progressFn(progress)
		}
	}
	return nil
}

// collectSignatures pages the program's signature history backwards until
// it walks past the bottom of the range, keeping only in-range entries.
func (r *Replayer) collectSignatures(ctx context.Context, rng ReplayRange) ([]*rpc.TransactionSignature, error) {
	var (
		kept   []*rpc.TransactionSignature
		cursor solana.Signature
	)
	for {
		page, err := r.client.GetSignaturesForAddress(ctx, r.program, r.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch signature page: %w", err)
		}
		if len(page) == 0 {
			return kept, nil
		}
		for _, sigInfo := range page {
			if sigInfo.Slot < rng.FromSlot {
				return kept, nil
			}
			if sigInfo.Slot <= rng.ToSlot {
				kept = append(kept, sigInfo)
			}
		}
		cursor = page[len(page)-1].Signature
		if len(page) < r.pageSize {
			return kept, nil
		}
	}
}
