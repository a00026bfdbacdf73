// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"math/bits"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// DefaultPowEffort is the default admission threshold multiplier used
// by ValidateSolution.
const DefaultPowEffort = 1000

// PowSeedTTL is how long a minted PowSeed remains acceptable, in seconds.
const PowSeedTTL = 120

// PowSeed is an opaque, server-minted admission challenge for directory
// writes. Algo identifies the challenge construction; this
// implementation uses "blake3-keyed-v1", built from the same BLAKE3
// primitive used elsewhere rather than a dedicated EquiX library.
type PowSeed struct {
	Algo      string
	Seed      [32]byte
	UseBefore Timestamp
}

// PowSolution is a client's proof-of-work response to a PowSeed.
type PowSolution struct {
	Seed     [32]byte
	Nonce    uint64
	Solution [32]byte
}

// Challenge returns the 32-byte admission challenge a solution must be
// computed against: keyed_digest(seed, nonce_be8).
func Challenge(seed [32]byte, nonce uint64) latticecrypto.Hash {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	return latticecrypto.KeyedDigest(seed[:], nonceBuf[:])
}

// Solve computes a PowSolution for seed and nonce: the solution is the
// challenge hash itself. ValidateSolution accepts it only when
// first_8_be(blake3(solution)) * effort does not overflow a uint64,
// which roughly one nonce in effort satisfies — callers iterate nonces
// until one passes.
func Solve(seed [32]byte, nonce uint64) PowSolution {
	challenge := Challenge(seed, nonce)
	var sol [32]byte
	copy(sol[:], challenge[:])
	return PowSolution{Seed: seed, Nonce: nonce, Solution: sol}
}

// ValidateSolution checks a PowSolution against its originating seed
// and the effort threshold:
//  1. solution must equal the expected challenge hash for (seed, nonce).
//  2. first_8_be(blake3(solution)) * effort must not overflow uint64.
func ValidateSolution(seed [32]byte, nonce uint64, solution [32]byte, effort uint64) error {
	want := Challenge(seed, nonce)
	if !constantTimeEqual(want[:], solution[:]) {
		return NewUpdateRejected("invalid equix solution")
	}
	first8 := binary.BigEndian.Uint64(latticecrypto.Digest(solution[:]).Bytes()[:8])
	if hi, _ := bits.Mul64(first8, effort); hi != 0 {
		return NewUpdateRejected("insufficient effort")
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
