package pda

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

func TestDeriveIsDeterministic(t *testing.T) {
	seeds := [][]byte{[]byte("vault"), {1, 2, 3}}

	addr1, bump1, err := Derive(seeds, testProgram)
	require.NoError(t, err)
	addr2, bump2, err := Derive(seeds, testProgram)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, addr1.IsOnCurve())
}

func TestDeriveMatchesLibraryDerivation(t *testing.T) {
	// The search order and hash construction are a wire contract; they must
	// agree byte for byte with the reference derivation.
	testCases := [][][]byte{
		{[]byte("metadata")},
		{[]byte("vault"), testProgram.Bytes()},
		{},
		{[]byte("a"), []byte("b"), []byte("c")},
	}
	for _, seeds := range testCases {
		want, wantBump, err := solana.FindProgramAddress(seeds, testProgram)
		require.NoError(t, err)
		got, gotBump, err := Derive(seeds, testProgram)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, wantBump, gotBump)
	}
}

func TestDeriveIsSeedSensitive(t *testing.T) {
	a, _, err := Derive([][]byte{[]byte("alpha")}, testProgram)
	require.NoError(t, err)
	b, _, err := Derive([][]byte{[]byte("beta")}, testProgram)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// Same bytes split differently derive a different address only when the
	// hash input differs; concatenation order is significant.
	ab, _, err := Derive([][]byte{[]byte("alpha"), []byte("beta")}, testProgram)
	require.NoError(t, err)
	ba, _, err := Derive([][]byte{[]byte("beta"), []byte("alpha")}, testProgram)
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)
}

func TestDeriveWithBumpVerifiesClaimedPair(t *testing.T) {
	seeds := [][]byte{[]byte("escrow")}
	addr, bump, err := Derive(seeds, testProgram)
	require.NoError(t, err)

	verified, err := DeriveWithBump(seeds, bump, testProgram)
	require.NoError(t, err)
	assert.Equal(t, addr, verified)
}

func TestSeedLimits(t *testing.T) {
	tooMany := make([][]byte, MaxSeeds+1)
	for i := range tooMany {
		tooMany[i] = []byte{byte(i)}
	}
	_, _, err := Derive(tooMany, testProgram)
	assert.ErrorIs(t, err, ErrTooManySeeds)

	_, _, err = Derive([][]byte{make([]byte, MaxSeedLen+1)}, testProgram)
	assert.ErrorIs(t, err, ErrSeedTooLong)

	atLimit := [][]byte{make([]byte, MaxSeedLen)}
	_, _, err = Derive(atLimit, testProgram)
	assert.NoError(t, err)
}
