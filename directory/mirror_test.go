// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

func newTestMirror(t *testing.T, primary *Primary, signing *keys.SigningSecret) *Mirror {
	t.Helper()
	mirrorStore, err := OpenNodeStore(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mirrorStore.Close() })
	return NewMirror(primary, signing.Public(), mirrorStore, 0)
}

func TestMirror_PollOnceAdoptsNewHeadAndRecords(t *testing.T) {
	primary, signing := newTestPrimary(t)
	mirror := newTestMirror(t, primary, signing)

	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("record-v1"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, primary, upd))
	require.NoError(t, primary.PublishCycle(context.Background()))

	require.NoError(t, mirror.PollOnce(context.Background()))

	primaryHead, err := primary.GetHead(context.Background())
	require.NoError(t, err)
	mirrorHead, err := mirror.GetHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, primaryHead.Epoch, mirrorHead.Epoch)
	require.Equal(t, primaryHead.RootHash, mirrorHead.RootHash)

	recordBytes, _, found, err := mirror.GetRecord(context.Background(), "@alice_01")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("record-v1"), recordBytes)
}

func TestMirror_PollOnceNoopWhenEpochNotNewer(t *testing.T) {
	primary, signing := newTestPrimary(t)
	mirror := newTestMirror(t, primary, signing)

	require.NoError(t, mirror.PollOnce(context.Background()))
	first, err := mirror.GetHead(context.Background())
	require.NoError(t, err)

	require.NoError(t, mirror.PollOnce(context.Background()))
	second, err := mirror.GetHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMirror_StaysOnPreviousHeadWhenSignatureInvalid(t *testing.T) {
	primary, _ := newTestPrimary(t)
	wrongSigning, err := keys.GenerateSigningSecret()
	require.NoError(t, err)

	mirror := newTestMirror(t, primary, wrongSigning)

	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v1"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, primary, upd))
	require.NoError(t, primary.PublishCycle(context.Background()))

	err = mirror.PollOnce(context.Background())
	require.Error(t, err)

	head, err := mirror.GetHead(context.Background())
	require.NoError(t, err)
	require.Nil(t, head, "mirror must not adopt an unverifiable head")
}

func TestMirror_MultipleSyncCyclesStayConsistent(t *testing.T) {
	primary, signing := newTestPrimary(t)
	mirror := newTestMirror(t, primary, signing)

	upd1 := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("v1"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, primary, upd1))
	require.NoError(t, primary.PublishCycle(context.Background()))
	require.NoError(t, mirror.PollOnce(context.Background()))

	upd2 := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@bob_02", RecordBytes: []byte("v2"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, primary, upd2))
	require.NoError(t, primary.PublishCycle(context.Background()))
	require.NoError(t, mirror.PollOnce(context.Background()))

	recordBytes, _, found, err := mirror.GetRecord(context.Background(), "@bob_02")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), recordBytes)

	primaryHead, _ := primary.GetHead(context.Background())
	mirrorHead, _ := mirror.GetHead(context.Background())
	require.Equal(t, primaryHead.RootHash, mirrorHead.RootHash)
}
