// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

func newTestDirectoryServer(t *testing.T, p *Primary) *httptest.Server {
	t.Helper()
	s := rpc.NewServer("directory-test", 16)
	RegisterRPC(s, p, nil)
	return httptest.NewServer(rpc.ServeHTTP(s))
}

func publishUserDescriptor(t *testing.T, p *Primary, directorySigning *keys.SigningSecret, username string, desc *wire.UserDescriptor) {
	t.Helper()
	require.NoError(t, latticecrypto.SignStruct(desc, directorySigning))
	recordBytes := wire.EncodeSignedRecord(desc)
	upd := &wire.DirectoryUpdate{KeyKind: wire.DirectoryKeyUser, Key: username, RecordBytes: recordBytes, Counter: 1}
	require.NoError(t, submitWithFreshPow(t, p, upd))
	require.NoError(t, p.PublishCycle(context.Background()))
}

func TestClient_GetVerifiedRecordRoundTrip(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	serverName, err := wire.ParseServerName("@home01")
	require.NoError(t, err)
	var rootHash latticecrypto.Hash
	rootHash[0] = 0x77
	desc := &wire.UserDescriptor{ServerName: serverName, RootCertHash: rootHash}
	publishUserDescriptor(t, primary, directorySigning, "@alice_01", desc)

	client, err := NewClient(ts.URL, directorySigning.Public())
	require.NoError(t, err)

	recordBytes, found, err := client.GetVerifiedRecord(context.Background(), "@alice_01")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, recordBytes)
}

func TestClient_ResolveUser(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	serverName, err := wire.ParseServerName("@home01")
	require.NoError(t, err)
	desc := &wire.UserDescriptor{ServerName: serverName}
	publishUserDescriptor(t, primary, directorySigning, "@alice_01", desc)

	client, err := NewClient(ts.URL, directorySigning.Public())
	require.NoError(t, err)

	username, err := wire.ParseUserName("@alice_01")
	require.NoError(t, err)
	resolved, err := client.ResolveUser(context.Background(), username)
	require.NoError(t, err)
	require.Equal(t, serverName, resolved.ServerName)
}

func TestClient_ResolveUserNotFound(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	client, err := NewClient(ts.URL, directorySigning.Public())
	require.NoError(t, err)

	username, err := wire.ParseUserName("@nobody1")
	require.NoError(t, err)
	_, err = client.ResolveUser(context.Background(), username)
	require.ErrorIs(t, err, wire.ErrNotFound)
}

func TestClient_GetVerifiedRecordFailsOnWrongDirectoryKey(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)
	defer ts.Close()

	desc := &wire.UserDescriptor{}
	publishUserDescriptor(t, primary, directorySigning, "@alice_01", desc)

	wrongKey, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	client, err := NewClient(ts.URL, wrongKey.Public())
	require.NoError(t, err)

	_, _, err = client.GetVerifiedRecord(context.Background(), "@alice_01")
	require.Error(t, err)
}

func TestCache_ResolveUserServesFromCacheWithinTTL(t *testing.T) {
	primary, directorySigning := newTestPrimary(t)
	ts := newTestDirectoryServer(t, primary)

	serverName, _ := wire.ParseServerName("@home01")
	desc := &wire.UserDescriptor{ServerName: serverName}
	publishUserDescriptor(t, primary, directorySigning, "@alice_01", desc)

	client, err := NewClient(ts.URL, directorySigning.Public())
	require.NoError(t, err)
	cache := NewCache(client, 0)

	username, _ := wire.ParseUserName("@alice_01")
	first, err := cache.ResolveUser(context.Background(), username)
	require.NoError(t, err)

	ts.Close() // server is gone; a cache hit must not need it
	second, err := cache.ResolveUser(context.Background(), username)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
