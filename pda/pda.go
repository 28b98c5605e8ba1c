// Package pda derives program-owned addresses from seed material. A derived
// address must not lie on the ed25519 curve so that no keypair can ever
// sign for it; the bump byte exists solely to force the hash off the curve.
package pda

import (
	"crypto/sha256"
	"errors"

	"github.com/gagliardetto/solana-go"
)

const (
	// MaxSeeds and MaxSeedLen mirror the ledger runtime's limits.
	MaxSeeds   = 16
	MaxSeedLen = 32

	derivationSuffix = "ProgramDerivedAddress"
)

var (
	ErrNoValidBump  = errors.New("pda: no valid bump, all 256 candidates are on-curve")
	ErrTooManySeeds = errors.New("pda: too many seeds")
	ErrSeedTooLong  = errors.New("pda: seed exceeds 32 bytes")
	ErrOnCurve      = errors.New("pda: candidate address is on-curve")
)

// Derive searches bump bytes from 255 down to 0 and returns the first
// off-curve candidate together with the bump that produced it. The search
// order is part of the wire contract shared with other implementations and
// must not change. Derive is a pure function of its inputs.
func Derive(seeds [][]byte, program solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := checkSeeds(seeds); err != nil {
		return solana.PublicKey{}, 0, err
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := DeriveWithBump(seeds, uint8(bump), program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return solana.PublicKey{}, 0, err
		}
	}
	return solana.PublicKey{}, 0, ErrNoValidBump
}

// DeriveWithBump computes the single candidate for one bump byte:
// sha256(seeds || bump || program || "ProgramDerivedAddress"). It fails
// with ErrOnCurve when the hash is a valid curve point, which callers use
// either to continue the search or to reject a claimed (address, bump) pair.
func DeriveWithBump(seeds [][]byte, bump uint8, program solana.PublicKey) (solana.PublicKey, error) {
	if err := checkSeeds(seeds); err != nil {
		return solana.PublicKey{}, err
	}
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write([]byte(derivationSuffix))

	addr := solana.PublicKeyFromBytes(h.Sum(nil))
	if addr.IsOnCurve() {
		return solana.PublicKey{}, ErrOnCurve
	}
	return addr, nil
}

func checkSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return ErrTooManySeeds
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return ErrSeedTooLong
		}
	}
	return nil
}
