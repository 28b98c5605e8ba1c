package program

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchorlink/idl"
	"anchorlink/pda"
	"anchorlink/rpcx"
)

const vaultIDL = `{
	"address": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	"metadata": {"name": "vault", "version": "0.1.0"},
	"instructions": [
		{
			"name": "deposit",
			"accounts": [
				{"name": "vault", "writable": true, "pda": {"seeds": [
					{"kind": "const", "value": [118, 97, 117, 108, 116]}
				]}},
				{"name": "depositor", "writable": true, "signer": true},
				{"name": "systemProgram", "address": "11111111111111111111111111111111"},
				{"name": "referrer", "optional": true}
			],
			"args": [{"name": "amount", "type": "u64"}]
		},
		{
			"name": "close",
			"accounts": [{"name": "owner", "signer": true}],
			"args": []
		}
	],
	"accounts": [{"name": "Vault"}],
	"types": [
		{
			"name": "Vault",
			"type": {"kind": "struct", "fields": [
				{"name": "balance", "type": "u64"},
				{"name": "owner", "type": "pubkey"}
			]}
		}
	]
}`

func testProgram(t *testing.T) *Program {
	t.Helper()
	s, err := idl.Load([]byte(vaultIDL))
	require.NoError(t, err)

	cfg := rpcx.DefaultConfig("http://127.0.0.1:8899")
	cfg.Pool.SweepInterval = 0
	cfg.Pool.ProbeInterval = 0
	cfg.Retry.BaseDelay = time.Millisecond
	client, err := rpcx.New(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	p, err := New(s, client)
	require.NoError(t, err)
	return p
}

func TestNewReadsProgramIDFromSchema(t *testing.T) {
	p := testProgram(t)
	assert.Equal(t, solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"), p.ID())
}

func TestNewRequiresAnAddress(t *testing.T) {
	s, err := idl.Load([]byte(`{"name": "bare", "instructions": []}`))
	require.NoError(t, err)
	_, err = New(s, nil)
	assert.Error(t, err)

	override := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	p, err := New(s, nil, WithProgramID(override))
	require.NoError(t, err)
	assert.Equal(t, override, p.ID())
}

func TestInstructionBuildsMetasInSchemaOrder(t *testing.T) {
	p := testProgram(t)
	depositor := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	referrer := solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")

	ix, err := p.Instruction("deposit",
		map[string]interface{}{"amount": uint64(100)},
		map[string]solana.PublicKey{"depositor": depositor, "referrer": referrer},
	)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), ix.ProgramID())

	metas := ix.Accounts()
	require.Len(t, metas, 4)

	// vault: derived from the IDL's constant seeds.
	wantVault, _, err := pda.Derive([][]byte{[]byte("vault")}, p.ID())
	require.NoError(t, err)
	assert.Equal(t, wantVault, metas[0].PublicKey)
	assert.True(t, metas[0].IsWritable)
	assert.False(t, metas[0].IsSigner)

	assert.Equal(t, depositor, metas[1].PublicKey)
	assert.True(t, metas[1].IsSigner)

	// systemProgram: filled from the static address in the schema.
	assert.Equal(t, solana.MustPublicKeyFromBase58("11111111111111111111111111111111"), metas[2].PublicKey)

	assert.Equal(t, referrer, metas[3].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	ins, err := p.Schema().InstructionByName("deposit")
	require.NoError(t, err)
	assert.Equal(t, ins.Discriminator[:], data[:8])
	assert.Equal(t, []byte{100, 0, 0, 0, 0, 0, 0, 0}, data[8:])
}

func TestInstructionOmittedOptionalAccountFallsBackToProgramID(t *testing.T) {
	p := testProgram(t)
	depositor := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	ix, err := p.Instruction("deposit",
		map[string]interface{}{"amount": uint64(1)},
		map[string]solana.PublicKey{"depositor": depositor},
	)
	require.NoError(t, err)

	metas := ix.Accounts()
	assert.Equal(t, p.ID(), metas[3].PublicKey)
}

func TestInstructionRejectsMissingRequiredAccount(t *testing.T) {
	p := testProgram(t)
	_, err := p.Instruction("deposit", map[string]interface{}{"amount": uint64(1)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depositor")
}

func TestInstructionRejectsUnknownName(t *testing.T) {
	p := testProgram(t)
	_, err := p.Instruction("withdraw", nil, nil)
	assert.Error(t, err)
}

func TestInstructionNoArgsEncodesBareDiscriminator(t *testing.T) {
	p := testProgram(t)
	owner := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	ix, err := p.Instruction("close", nil, map[string]solana.PublicKey{"owner": owner})
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Len(t, data, 8)
}

func TestDeriveAddressUsesProgramID(t *testing.T) {
	p := testProgram(t)
	seeds := [][]byte{[]byte("state")}

	want, wantBump, err := pda.Derive(seeds, p.ID())
	require.NoError(t, err)
	got, gotBump, err := p.DeriveAddress(seeds)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, wantBump, gotBump)
}
