// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

func TestPow_ValidSolutionAccepted(t *testing.T) {
	var seed [32]byte
	seed[0] = 0x01
	// Only about one nonce in DefaultPowEffort meets the threshold: take
	// the first from 42 whose solution hash leads with a value below
	// 2^64/DefaultPowEffort.
	nonce := uint64(42)
	for ; ; nonce++ {
		s := Solve(seed, nonce)
		first8 := binary.BigEndian.Uint64(latticecrypto.Digest(s.Solution[:]).Bytes()[:8])
		if first8 < math.MaxUint64/DefaultPowEffort {
			break
		}
	}
	sol := Solve(seed, nonce)
	err := ValidateSolution(seed, nonce, sol.Solution, DefaultPowEffort)
	assert.NoError(t, err)
}

func TestPow_FlippedBitRejected(t *testing.T) {
	var seed [32]byte
	seed[0] = 0x01
	sol := Solve(seed, 42)
	sol.Solution[0] ^= 0x01

	err := ValidateSolution(seed, 42, sol.Solution, DefaultPowEffort)
	require.Error(t, err)
	var rejected *UpdateRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "invalid equix solution", rejected.Reason)
}

func TestPow_WrongNonceRejected(t *testing.T) {
	var seed [32]byte
	sol := Solve(seed, 1)
	err := ValidateSolution(seed, 2, sol.Solution, DefaultPowEffort)
	require.Error(t, err)
}

func TestPow_DifferentSeedsProduceDifferentChallenges(t *testing.T) {
	var a, b [32]byte
	a[0], b[0] = 1, 2
	assert.NotEqual(t, Challenge(a, 7), Challenge(b, 7))
}
