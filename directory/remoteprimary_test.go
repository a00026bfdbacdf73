// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/wire"
)

func TestRemotePrimary_MirrorFollowsOverRPC(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: "@alice_01", RecordBytes: []byte("record-v1"), Counter: 1}
	require.NoError(t, submitWithFreshPow(t, primary, upd))
	require.NoError(t, primary.PublishCycle(context.Background()))

	remote, err := NewRemotePrimary(ts.URL)
	require.NoError(t, err)

	mirror := newTestMirror(t, nil, directorySigning)
	mirror.primary = remote

	require.NoError(t, mirror.PollOnce(context.Background()))

	primaryHead, err := primary.GetHead(context.Background())
	require.NoError(t, err)
	mirrorHead, err := mirror.GetHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, primaryHead.RootHash, mirrorHead.RootHash)

	recordBytes, _, found, err := mirror.GetRecord(context.Background(), "@alice_01")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("record-v1"), recordBytes)
}

func TestRemotePrimary_GetHeadReturnsCurrentEpoch(t *testing.T) {
	primary, _ := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	remote, err := NewRemotePrimary(ts.URL)
	require.NoError(t, err)

	head, err := remote.GetHead(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, head.Epoch)
}
