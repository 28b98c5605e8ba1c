package events

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchorlink/codec"
	"anchorlink/idl"
	"anchorlink/rpcx"
)

// replayConn scripts the two RPC methods a replay exercises.
type replayConn struct {
	sigs func(opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	tx   func(sig solana.Signature) (*rpc.GetTransactionResult, error)
}

func (c *replayConn) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return c.sigs(opts)
}

func (c *replayConn) GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return c.tx(txSig)
}

func (c *replayConn) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	return &rpc.GetAccountInfoResult{}, nil
}

func (c *replayConn) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	return &rpc.GetMultipleAccountsResult{}, nil
}

func (c *replayConn) GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return rpc.GetProgramAccountsResult{}, nil
}

func (c *replayConn) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{}}, nil
}

func (c *replayConn) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{}, nil
}

func (c *replayConn) GetHealth(ctx context.Context) (string, error) { return rpc.HealthOk, nil }

func (c *replayConn) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return 0, nil
}

func (c *replayConn) SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (c *replayConn) SimulateTransaction(ctx context.Context, transaction *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	return &rpc.SimulateTransactionResponse{}, nil
}

func replayClient(t *testing.T, conn rpcx.Conn) *rpcx.Client {
	t.Helper()
	cfg := rpcx.DefaultConfig("http://127.0.0.1:8899")
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.JitterFrac = 0
	cfg.Pool.SweepInterval = 0
	cfg.Pool.ProbeInterval = 0
	c, err := rpcx.New(cfg, rpcx.WithDialer(func() rpcx.Conn { return conn }))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func sigOf(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	return s
}

// replayFixture scripts a history where the RPC reports signatures newest
// first: slot 130 (above range), two transactions in slot 120, slot 110,
// and slot 95 (below range).
func replayFixture(t *testing.T, s *idl.Schema) *replayConn {
	t.Helper()
	history := []*rpc.TransactionSignature{
		{Signature: sigOf(5), Slot: 130},
		{Signature: sigOf(4), Slot: 120}, // newer of the two in slot 120
		{Signature: sigOf(3), Slot: 120},
		{Signature: sigOf(2), Slot: 110},
		{Signature: sigOf(1), Slot: 95},
	}
	labels := map[solana.Signature]string{
		sigOf(5): "s130", sigOf(4): "s120-new", sigOf(3): "s120-old",
		sigOf(2): "s110", sigOf(1): "s95",
	}
	return &replayConn{
		sigs: func(opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
			return history, nil
		},
		tx: func(sig solana.Signature) (*rpc.GetTransactionResult, error) {
			var slot uint64
			for _, h := range history {
				if h.Signature == sig {
					slot = h.Slot
				}
			}
			raw, err := codec.EncodeEvent(s, "CounterChanged", map[string]interface{}{
				"count": slot, "label": labels[sig],
			})
			require.NoError(t, err)
			return &rpc.GetTransactionResult{
				Slot: slot,
				Meta: &rpc.TransactionMeta{LogMessages: []string{
					fmt.Sprintf("Program %s invoke [1]", testProgram),
					"Program data: " + base64.StdEncoding.EncodeToString(raw),
					fmt.Sprintf("Program %s success", testProgram),
				}},
			}, nil
		},
	}
}

func TestReplayEmitsAscendingSlotOrder(t *testing.T) {
	s := loadTestSchema(t)
	client := replayClient(t, replayFixture(t, s))
	r := NewReplayer(client, s, testProgram, nil, nil)

	var got []string
	var last ReplayProgress
	err := r.Replay(context.Background(), ReplayRange{FromSlot: 100, ToSlot: 120}, nil, 0,
		func(ev *ParsedEvent) error {
			got = append(got, ev.Data["label"].(string))
			return nil
		},
		func(p ReplayProgress) { last = p },
	)
	require.NoError(t, err)

	// Slots ascend; within slot 120 the older transaction comes first.
	assert.Equal(t, []string{"s110", "s120-old", "s120-new"}, got)
	assert.Equal(t, uint64(3), last.EmittedEvents)
	assert.Equal(t, uint64(2), last.ProcessedSlots)
	assert.Equal(t, uint64(21), last.TotalSlots)
}

func TestReplayHonorsMatcher(t *testing.T) {
	s := loadTestSchema(t)
	client := replayClient(t, replayFixture(t, s))
	r := NewReplayer(client, s, testProgram, nil, nil)

	var got []string
	err := r.Replay(context.Background(), ReplayRange{FromSlot: 100, ToSlot: 120},
		Filter{MinSlot: Uint64(120)}, 0,
		func(ev *ParsedEvent) error {
			got = append(got, ev.Data["label"].(string))
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s120-old", "s120-new"}, got)
}

func TestReplayStopsAtMaxEvents(t *testing.T) {
	s := loadTestSchema(t)
	client := replayClient(t, replayFixture(t, s))
	r := NewReplayer(client, s, testProgram, nil, nil)

	var got []string
	err := r.Replay(context.Background(), ReplayRange{FromSlot: 100, ToSlot: 120}, nil, 2,
		func(ev *ParsedEvent) error {
			got = append(got, ev.Data["label"].(string))
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s110", "s120-old"}, got)
}

func TestReplayRejectsInvertedRange(t *testing.T) {
	s := loadTestSchema(t)
	client := replayClient(t, replayFixture(t, s))
	r := NewReplayer(client, s, testProgram, nil, nil)

	err := r.Replay(context.Background(), ReplayRange{FromSlot: 50, ToSlot: 10}, nil, 0,
		func(*ParsedEvent) error { return nil }, nil)
	assert.Error(t, err)
}

func TestReplayReportsResumePoint(t *testing.T) {
	s := loadTestSchema(t)
	fixture := replayFixture(t, s)
	innerTx := fixture.tx
	fixture.tx = func(sig solana.Signature) (*rpc.GetTransactionResult, error) {
		if sig == sigOf(3) { // the first slot-120 transaction
			return nil, errors.New("ledger pruned")
		}
		return innerTx(sig)
	}
	client := replayClient(t, fixture)
	r := NewReplayer(client, s, testProgram, nil, nil)

	err := r.Replay(context.Background(), ReplayRange{FromSlot: 100, ToSlot: 120}, nil, 0,
		func(*ParsedEvent) error { return nil }, nil)
	require.Error(t, err)

	var rerr *ReplayError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, uint64(110), rerr.LastSlot)
}

func TestReplayEmitErrorAborts(t *testing.T) {
	s := loadTestSchema(t)
	client := replayClient(t, replayFixture(t, s))
	r := NewReplayer(client, s, testProgram, nil, nil)

	sink := errors.New("sink full")
	err := r.Replay(context.Background(), ReplayRange{FromSlot: 100, ToSlot: 120}, nil, 0,
		func(*ParsedEvent) error { return sink }, nil)

	var rerr *ReplayError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, sink)
}
