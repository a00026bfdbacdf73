// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/wire"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	st, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustUserName(t *testing.T, s string) wire.UserName {
	t.Helper()
	u, err := wire.ParseUserName(s)
	require.NoError(t, err)
	return u
}

func mustServerName(t *testing.T, s string) wire.ServerName {
	t.Helper()
	n, err := wire.ParseServerName(s)
	require.NoError(t, err)
	return n
}

func TestProvision_RoundTripsThroughStore(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	username := mustUserName(t, "@bob_02")
	home := mustServerName(t, "@home01")

	provisioned, chain, err := Provision(ctx, st, username, home)
	require.NoError(t, err)
	require.NotNil(t, chain)
	require.Equal(t, store.StateProvisioning, provisioned.State)

	loaded, err := LoadIdentity(ctx, st)
	require.NoError(t, err)
	require.Equal(t, username, loaded.Username)
	require.Equal(t, home, loaded.HomeServer)
	require.Equal(t, store.StateProvisioning, loaded.State)
	require.Nil(t, loaded.MediumSkCurrent)

	// The reconstructed device must be the same keypair, not a fresh one.
	require.Equal(t, provisioned.Device.Public().Hash(), loaded.Device.Public().Hash())
	require.Equal(t, provisioned.RootCertHash(), loaded.RootCertHash())

	// The provisioned chain holds the self-signed root certificate and
	// verifies against the hash the directory will pin.
	valid, err := chain.Verify(provisioned.Device.Public().Hash(), wire.Now())
	require.NoError(t, err)
	require.Contains(t, valid, provisioned.Device.Public().Hash())
}

func TestSelfCertChain_VerifiesAgainstOwnRoot(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	li, _, err := Provision(ctx, st, mustUserName(t, "@bob_02"), mustServerName(t, "@home01"))
	require.NoError(t, err)

	chain, err := SelfCertChain(li.Device)
	require.NoError(t, err)
	require.Equal(t, 1, chain.Len())

	valid, err := chain.Verify(li.Device.Public().Hash(), wire.Now())
	require.NoError(t, err)
	require.Len(t, valid, 1)

	// A foreign root hash must not verify.
	var wrong [32]byte
	wrong[0] = 0xFF
	_, err = chain.Verify(wrong, wire.Now())
	require.Error(t, err)
}

func TestIdentity_ReadyAfterFirstMediumKey(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, _, err := Provision(ctx, st, mustUserName(t, "@bob_02"), mustServerName(t, "@home01"))
	require.NoError(t, err)

	li, err := LoadIdentity(ctx, st)
	require.NoError(t, err)
	require.Equal(t, store.StateProvisioning, li.State)

	// Simulate the medium key loop's post-registration persist.
	require.NoError(t, st.SetMediumKeys(ctx, make([]byte, 32), nil, time.Now().Unix()))

	li, err = LoadIdentity(ctx, st)
	require.NoError(t, err)
	require.Equal(t, store.StateReady, li.State)
	require.NotNil(t, li.MediumSkCurrent)
	require.Nil(t, li.MediumSkPrev)
}

func TestAwaitIdentity_BlocksUntilProvisioned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := openTestStore(t)

	c := New(Deps{Store: st})

	got := make(chan *LoadedIdentity, 1)
	errCh := make(chan error, 1)
	go func() {
		li, err := c.awaitIdentity(ctx)
		if err != nil {
			errCh <- err
			return
		}
		got <- li
	}()

	// Still Absent: awaitIdentity must be parked on the notifier.
	select {
	case <-got:
		t.Fatal("awaitIdentity returned before any identity existed")
	case <-errCh:
		t.Fatal("awaitIdentity errored before any identity existed")
	case <-time.After(100 * time.Millisecond):
	}

	_, _, err := Provision(ctx, st, mustUserName(t, "@bob_02"), mustServerName(t, "@home01"))
	require.NoError(t, err)

	select {
	case li := <-got:
		require.Equal(t, "@bob_02", li.Username.String())
	case err := <-errCh:
		t.Fatalf("awaitIdentity errored: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("awaitIdentity did not wake after Provision")
	}
}

func TestAwaitIdentity_CancellationUnblocks(t *testing.T) {
	st := openTestStore(t)
	c := New(Deps{Store: st})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.awaitIdentity(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("awaitIdentity did not unblock on cancellation")
	}
}
