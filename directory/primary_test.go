// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

func newTestPrimary(t *testing.T) (*Primary, *keys.SigningSecret) {
	t.Helper()
	signing, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	store, err := OpenNodeStore(filepath.Join(t.TempDir(), "nodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	p, err := NewPrimary(signing, store, 0)
	require.NoError(t, err)
	return p, signing
}

func submitWithFreshPow(t *testing.T, p *Primary, upd *wire.DirectoryUpdate) error {
	t.Helper()
	seed, err := p.RequestPow(context.Background())
	require.NoError(t, err)
	// Only about one nonce in DefaultPowEffort passes; search for one.
	var sol wire.PowSolution
	for nonce := uint64(0); ; nonce++ {
		sol = wire.Solve(seed.Seed, nonce)
		if wire.ValidateSolution(seed.Seed, nonce, sol.Solution, wire.DefaultPowEffort) == nil {
			break
		}
	}
	upd.Solution = sol
	return p.SubmitUpdate(context.Background(), upd)
}

func TestPrimary_NewPrimaryMintsInitialHead(t *testing.T) {
	p, signing := newTestPrimary(t)
	head, err := p.GetHead(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, head.Epoch)
	require.NoError(t, latticecrypto.VerifyStruct(head, signing.Public()))
}

func TestPrimary_SubmitAndPublishCycleUpdatesHead(t *testing.T) {
	p, _ := newTestPrimary(t)
	before, err := p.GetHead(context.Background())
	require.NoError(t, err)

	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("record-v1"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, p, upd))

	require.NoError(t, p.PublishCycle(context.Background()))

	after, err := p.GetHead(context.Background())
	require.NoError(t, err)
	require.Greater(t, after.Epoch, before.Epoch)
	require.NotEqual(t, before.RootHash, after.RootHash)

	recordBytes, proof, found, err := p.GetRecord(context.Background(), "@alice_01")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("record-v1"), recordBytes)
	require.True(t, VerifyInclusion(after.RootHash, KeyHash("@alice_01"), recordBytes, proof))
}

func TestPrimary_PublishCycleWithNoStagingIsNoop(t *testing.T) {
	p, _ := newTestPrimary(t)
	before, err := p.GetHead(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.PublishCycle(context.Background()))

	after, err := p.GetHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPrimary_StaleCounterRejected(t *testing.T) {
	p, _ := newTestPrimary(t)
	upd1 := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v1"), Counter: 5}
	require.NoError(t, submitWithFreshPow(t, p, upd1))
	require.NoError(t, p.PublishCycle(context.Background()))

	stale := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v2"), Counter: 5}
	err := submitWithFreshPow(t, p, stale)
	require.Error(t, err)
	var rejected *wire.UpdateRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "stale counter", rejected.Reason)
}

func TestPrimary_SubmitRejectsBadPowSolution(t *testing.T) {
	p, _ := newTestPrimary(t)
	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v1"), Counter: 1}

	seed, err := p.RequestPow(context.Background())
	require.NoError(t, err)
	sol := wire.Solve(seed.Seed, 0)
	sol.Solution[0] ^= 0x01
	upd.Solution = sol

	err = p.SubmitUpdate(context.Background(), upd)
	require.Error(t, err)
}

func TestPrimary_LastWriteWinsWithinCycle(t *testing.T) {
	p, _ := newTestPrimary(t)
	upd1 := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v1"), Counter: 1}
	upd2 := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v2"), Counter: 2}
	require.NoError(t, submitWithFreshPow(t, p, upd1))
	require.NoError(t, submitWithFreshPow(t, p, upd2))

	require.NoError(t, p.PublishCycle(context.Background()))

	recordBytes, _, found, err := p.GetRecord(context.Background(), "@alice_01")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), recordBytes)
}

func TestPrimary_WalkReturnsPagesAfterCursor(t *testing.T) {
	p, _ := newTestPrimary(t)
	for i, name := range []string{"@alice_01", "@bob_02", "@carol_03"} {
		upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: name, RecordBytes: []byte{byte(i)}, Counter: 1}
		require.NoError(t, submitWithFreshPow(t, p, upd))
	}
	require.NoError(t, p.PublishCycle(context.Background()))

	all, err := p.Walk(context.Background(), latticecrypto.Hash{}, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := p.Walk(context.Background(), all[0].KeyHash, 100)
	require.NoError(t, err)
	require.Len(t, rest, 2)
}
