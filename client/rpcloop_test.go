// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/directory"
	"github.com/lattice-chat/lattice/rpc"
)

// newTestDirectory spins a real primary directory over HTTP so the
// provisioning path is exercised end-to-end: PoW request, update
// submit, publish, verified resolve.
func newTestDirectory(t *testing.T) (*directory.Primary, *DirectoryClient) {
	t.Helper()
	signing, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	nodeStore, err := directory.OpenNodeStore(filepath.Join(t.TempDir(), "directory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { nodeStore.Close() })

	primary, err := directory.NewPrimary(signing, nodeStore, time.Second)
	require.NoError(t, err)

	s := rpc.NewServer("client-rpcloop-test", 16)
	directory.RegisterRPC(s, primary, nil)
	ts := httptest.NewServer(rpc.ServeHTTP(s))
	t.Cleanup(ts.Close)

	dc, err := NewDirectoryClient(ts.URL, signing.Public(), time.Minute)
	require.NoError(t, err)
	return primary, dc
}

// newLocalClient serves c's local RPC surface over HTTP and returns a
// caller against it.
func newLocalClient(t *testing.T, c *Client) *rpc.Client {
	t.Helper()
	ts := httptest.NewServer(rpc.ServeHTTP(c.LocalRPC()))
	t.Cleanup(ts.Close)
	rc, err := rpc.NewClient(ts.URL, 1)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

func TestLocalRPC_StatusAbsentThenProvisioned(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	primary, dc := newTestDirectory(t)

	c := New(Deps{Store: st, Directory: dc, Events: NewEvents(8)})
	rc := newLocalClient(t, c)

	var status localStatusResult
	require.NoError(t, rc.Call(ctx, "local_status", struct{}{}, &status))
	require.Equal(t, string(store.StateAbsent), status.State)

	var provisioned localProvisionResult
	require.NoError(t, rc.Call(ctx, "local_provision", localProvisionParams{
		Username:   "@bob_02",
		ServerName: "@home01",
	}, &provisioned))
	require.NotEmpty(t, provisioned.RootCertHash)

	require.NoError(t, rc.Call(ctx, "local_status", struct{}{}, &status))
	require.Equal(t, string(store.StateProvisioning), status.State)
	require.Equal(t, "@bob_02", status.Username)
	require.Equal(t, "@home01", status.ServerName)

	// The submitted descriptor becomes resolvable after the directory's
	// next publish cycle, rooted at the hash provisioning reported.
	require.NoError(t, primary.PublishCycle(ctx))
	desc, err := dc.ResolveUser(ctx, mustUserName(t, "@bob_02"))
	require.NoError(t, err)
	require.Equal(t, "@home01", desc.ServerName.String())
	require.Equal(t, provisioned.RootCertHash, desc.RootCertHash.String())
}

func TestLocalRPC_ProvisionRejectsBadUsername(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	_, dc := newTestDirectory(t)

	c := New(Deps{Store: st, Directory: dc})
	rc := newLocalClient(t, c)

	err := rc.Call(ctx, "local_provision", localProvisionParams{
		Username:   "no-at-sign",
		ServerName: "@home01",
	}, nil)
	require.Error(t, err)
}

func TestLocalRPC_TrackPeerAndListMessages(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	c := New(Deps{Store: st})
	rc := newLocalClient(t, c)

	require.NoError(t, rc.Call(ctx, "local_track_peer", localTrackPeerParams{Peer: "@alice_01"}, nil))
	peers, err := st.TrackedPeers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"@alice_01"}, peers)

	// Tracking again must not reset an advanced cursor.
	require.NoError(t, st.SetDmCursor(ctx, "@alice_01", 7))
	require.NoError(t, rc.Call(ctx, "local_track_peer", localTrackPeerParams{Peer: "@alice_01"}, nil))
	cursor, err := st.DmCursor(ctx, "@alice_01")
	require.NoError(t, err)
	require.Equal(t, uint64(7), cursor)

	require.NoError(t, st.AppendConvoMessage(ctx, store.ConvoMessage{
		Peer: "@alice_01", Direction: store.DirectionInbound,
		Kind: "text/plain", Body: []byte("hi"), ReceivedAt: 42, Seq: 1,
	}))

	var msgs []localMessage
	require.NoError(t, rc.Call(ctx, "local_list_messages", localListMessagesParams{Peer: "@alice_01"}, &msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, "text/plain", msgs[0].Mime)
	require.Equal(t, []byte("hi"), msgs[0].Body)
	require.Equal(t, uint64(1), msgs[0].Seq)
}
