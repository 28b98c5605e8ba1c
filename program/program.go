// Package program composes the schema model, codec, address derivation,
// and request layer into instruction building, transaction building, and
// account fetch operations.
package program

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"anchorlink/codec"
	"anchorlink/events"
	"anchorlink/idl"
	"anchorlink/pda"
	"anchorlink/rpcx"
)

// SignerFunc resolves the private key for a public key during transaction
// signing, returning nil for keys it does not hold.
type SignerFunc func(key solana.PublicKey) *solana.PrivateKey

// Program is the facade over one deployed program described by a schema.
type Program struct {
	schema  *idl.Schema
	client  *rpcx.Client
	id      solana.PublicKey
	payer   solana.PublicKey
	signer  SignerFunc
	logger  *slog.Logger
	metrics *rpcx.Metrics
}

// Option customizes a Program.
type Option func(*Program)

// WithProgramID overrides the address carried in the schema document.
func WithProgramID(id solana.PublicKey) Option { return func(p *Program) { p.id = id } }

// WithSigner sets the fee payer and the key resolver used to sign.
func WithSigner(payer solana.PublicKey, fn SignerFunc) Option {
	return func(p *Program) { p.payer, p.signer = payer, fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(p *Program) { p.logger = l } }

// WithMetrics shares the request layer's collectors with the event feed.
func WithMetrics(m *rpcx.Metrics) Option { return func(p *Program) { p.metrics = m } }

// New builds a Program facade. The program id comes from the schema's
// address field unless overridden.
func New(schema *idl.Schema, client *rpcx.Client, opts ...Option) (*Program, error) {
	p := &Program{schema: schema, client: client}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.id.IsZero() {
		if schema.Address == "" {
			return nil, fmt.Errorf("program: schema carries no address and none was provided")
		}
		id, err := solana.PublicKeyFromBase58(schema.Address)
		if err != nil {
			return nil, fmt.Errorf("program: bad address in schema: %w", err)
		}
		p.id = id
	}
	return p, nil
}

// ID returns the program's address.
func (p *Program) ID() solana.PublicKey { return p.id }

// Schema returns the loaded schema.
func (p *Program) Schema() *idl.Schema { return p.schema }

// DeriveAddress computes the program-owned address for the given seeds.
func (p *Program) DeriveAddress(seeds [][]byte) (solana.PublicKey, uint8, error) {
	return pda.Derive(seeds, p.id)
}

// Instruction encodes one call: discriminator-prefixed argument payload
// plus the account metas in the schema-declared order. Accounts the IDL
// pins to a static address or to constant seeds are filled automatically;
// everything else must be supplied. A missing optional account is replaced
// by the program id, the wire convention for "none".
func (p *Program) Instruction(name string, args map[string]interface{}, accounts map[string]solana.PublicKey) (solana.Instruction, error) {
	ins, err := p.schema.InstructionByName(name)
	if err != nil {
		return nil, err
	}
	data, err := codec.EncodeInstruction(p.schema, name, args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q arguments: %w", name, err)
	}

	metas := make([]*solana.AccountMeta, 0, len(ins.Accounts))
	for _, role := range ins.Accounts {
		key, err := p.resolveAccount(&role, accounts)
		if err != nil {
			return nil, err
		}
		metas = append(metas, &solana.AccountMeta{
			PublicKey:  key,
			IsWritable: role.Writable,
			IsSigner:   role.Signer,
		})
	}
	return solana.NewInstruction(p.id, metas, data), nil
}

func (p *Program) resolveAccount(role *idl.AccountRole, supplied map[string]solana.PublicKey) (solana.PublicKey, error) {
	if key, ok := supplied[role.Name]; ok {
		return key, nil
	}
	if role.Address != "" {
		key, err := solana.PublicKeyFromBase58(role.Address)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("program: account %q has a bad static address: %w", role.Name, err)
		}
		return key, nil
	}
	if seeds := constSeeds(role.Seeds); seeds != nil {
		key, _, err := pda.Derive(seeds, p.id)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("failed to derive account %q: %w", role.Name, err)
		}
		return key, nil
	}
	if role.Optional {
		return p.id, nil
	}
	return solana.PublicKey{}, fmt.Errorf("program: account %q not supplied and not derivable", role.Name)
}

// constSeeds returns the seed bytes when every declared seed is constant,
// nil otherwise (account-path seeds need caller context).
func constSeeds(refs []idl.SeedRef) [][]byte {
	if len(refs) == 0 {
		return nil
	}
	seeds := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		if ref.Kind != "const" {
			return nil
		}
		seeds = append(seeds, ref.Value)
	}
	return seeds
}

// BuildTransaction anchors the instructions to the latest blockhash and
// signs with the configured signer.
func (p *Program) BuildTransaction(ctx context.Context, instrs ...solana.Instruction) (*solana.Transaction, error) {
	latest, err := p.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(
		instrs,
		latest.Value.Blockhash,
		solana.TransactionPayer(p.payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	if p.signer != nil {
		_, err = tx.Sign(
			func(key solana.PublicKey) *solana.PrivateKey {
				return p.signer(key)
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
	}
	return tx, nil
}

// Execute builds, signs, and submits a transaction.
func (p *Program) Execute(ctx context.Context, instrs ...solana.Instruction) (solana.Signature, error) {
	tx, err := p.BuildTransaction(ctx, instrs...)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := p.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	p.logger.Info("transaction submitted", "signature", sig.String())
	return sig, nil
}

// Simulate dry-runs a transaction without submitting it.
func (p *Program) Simulate(ctx context.Context, instrs ...solana.Instruction) (*rpc.SimulateTransactionResponse, error) {
	tx, err := p.BuildTransaction(ctx, instrs...)
	if err != nil {
		return nil, err
	}
	return p.client.SimulateTransaction(ctx, tx)
}

// FetchAccount fetches one account and decodes it against a named layout.
func (p *Program) FetchAccount(ctx context.Context, typeName string, addr solana.PublicKey) (map[string]interface{}, error) {
	resp, err := p.client.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("program: account %s not found", addr)
	}
	fields, err := codec.DecodeAccount(p.schema, typeName, resp.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q account data: %w", typeName, err)
	}
	return fields, nil
}

// DecodedAccount pairs an account's address with its decoded fields.
type DecodedAccount struct {
	PublicKey solana.PublicKey
	Fields    map[string]interface{}
}

// FetchAccounts scans the program for every account of one layout,
// filtering server-side by the discriminator at offset zero. Accounts that
// fail to decode are skipped with a warning rather than failing the scan.
func (p *Program) FetchAccounts(ctx context.Context, typeName string) ([]DecodedAccount, error) {
	acc, err := p.schema.AccountByName(typeName)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.GetProgramAccounts(ctx, p.id, []rpc.RPCFilter{
		{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: 0,
				Bytes:  acc.Discriminator[:],
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}

	out := make([]DecodedAccount, 0, len(resp))
	for _, item := range resp {
		fields, err := codec.DecodeAccount(p.schema, typeName, item.Account.Data.GetBinary())
		if err != nil {
			p.logger.Warn("skipping undecodable account",
				"type", typeName, "address", item.Pubkey.String(), "err", err)
			continue
		}
		out = append(out, DecodedAccount{PublicKey: item.Pubkey, Fields: fields})
	}
	return out, nil
}

// Events builds the live event feed for this program.
func (p *Program) Events(cfg events.SubscribeConfig) *events.Subscriber {
	return events.NewSubscriber(p.client, p.schema, p.id, cfg, p.logger, p.metrics)
}

// Replayer builds the historical event replayer for this program.
func (p *Program) Replayer() *events.Replayer {
	return events.NewReplayer(p.client, p.schema, p.id, p.logger, p.metrics)
}
