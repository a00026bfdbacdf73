// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// openTestStore opens a Store against LATTICE_TEST_DATABASE_URL, the
// home server's integration test DSN convention. These tests need a
// real PostgreSQL instance (the store is pgx-backed,
// which carries no in-memory fake) and are skipped when that isn't
// available, the way a dependency on an external service is normally
// gated in this ecosystem.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LATTICE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LATTICE_TEST_DATABASE_URL not set; skipping PostgreSQL-backed test")
	}
	s, err := OpenDSN(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestMailboxStore_SeqIsStrictlyMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var mbox wire.MailboxId
	mbox[0] = 1

	seq1, err := s.Mailbox.Send(ctx, mbox, []byte("m1"), 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq1)

	seq2, err := s.Mailbox.Send(ctx, mbox, []byte("m2"), 200)
	require.NoError(t, err)
	require.EqualValues(t, 2, seq2)

	entries, err := s.Mailbox.Since(ctx, mbox, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 1, entries[0].Seq)
	require.EqualValues(t, 2, entries[1].Seq)

	require.NoError(t, s.Mailbox.AckUpTo(ctx, mbox, 1))
	entries, err = s.Mailbox.Since(ctx, mbox, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].Seq)
}

func TestCertStore_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	username, err := wire.ParseUserName("@bob_02")
	require.NoError(t, err)

	chain, err := s.Cert.Load(ctx, username)
	require.NoError(t, err)
	require.Nil(t, chain)

	issuer, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	subject, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	cert := &wire.DeviceCertificate{
		Issuer:    issuer.Public(),
		Subject:   subject.Public(),
		NotBefore: wire.Now(),
		NotAfter:  wire.Now() + 3600,
	}
	require.NoError(t, latticecrypto.SignStruct(cert, issuer.Signing))

	built := wire.NewCertificateChain()
	built.Insert(cert)

	require.NoError(t, s.Cert.Store(ctx, username, built))
	loaded, err := s.Cert.Load(ctx, username)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Certs(), 1)
}

func TestMediumPkStore_RetainsOnePreviousGeneration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	hash := device.Public().Hash()

	dh1, err := keys.GenerateDhSecret()
	require.NoError(t, err)
	pk1 := wire.SignedMediumPk{Created: wire.Now()}
	copy(pk1.MediumPk[:], dh1.Public().Bytes())
	require.NoError(t, latticecrypto.SignStruct(&pk1, device.Signing))
	require.NoError(t, s.MediumPk.Add(ctx, hash, pk1))

	row, err := s.MediumPk.Load(ctx, hash)
	require.NoError(t, err)
	require.Nil(t, row.Prev)

	dh2, err := keys.GenerateDhSecret()
	require.NoError(t, err)
	pk2 := wire.SignedMediumPk{Created: wire.Now()}
	copy(pk2.MediumPk[:], dh2.Public().Bytes())
	require.NoError(t, latticecrypto.SignStruct(&pk2, device.Signing))
	require.NoError(t, s.MediumPk.Add(ctx, hash, pk2))

	row, err = s.MediumPk.Load(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, row.Prev)
	require.Equal(t, pk1.MediumPk, row.Prev.MediumPk)
	require.Equal(t, pk2.MediumPk, row.Current.MediumPk)
}

func TestProfileStore_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	username, err := wire.ParseUserName("@carol_03")
	require.NoError(t, err)

	got, err := s.Profile.Load(ctx, username)
	require.NoError(t, err)
	require.Nil(t, got)

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	profile := &wire.UserProfile{
		Username:    username,
		DisplayName: "Carol",
		UpdatedAt:   wire.Now(),
	}
	require.NoError(t, latticecrypto.SignStruct(profile, device.Signing))

	require.NoError(t, s.Profile.Store(ctx, username, profile))
	got, err = s.Profile.Load(ctx, username)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Carol", got.DisplayName)
	require.Equal(t, profile.Signature, got.Signature)

	// Store again with an update; upsert replaces in place.
	profile.DisplayName = "Carol B."
	require.NoError(t, latticecrypto.SignStruct(profile, device.Signing))
	require.NoError(t, s.Profile.Store(ctx, username, profile))
	got, err = s.Profile.Load(ctx, username)
	require.NoError(t, err)
	require.Equal(t, "Carol B.", got.DisplayName)
}

func TestAclStore_ReplaceIsIdempotentAndVersioned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var mbox wire.MailboxId
	mbox[0] = 2

	owner := mustDevicePublic(t)
	reader := mustDevicePublic(t)
	acl := &Acl{Owner: owner, Readers: map[string]keys.DevicePublic{reader.Hash().String(): reader}}

	require.NoError(t, s.Acl.Replace(ctx, mbox, acl))
	loaded, err := s.Acl.Load(ctx, mbox)
	require.NoError(t, err)
	require.EqualValues(t, 1, loaded.Version)
	require.True(t, loaded.Permits(reader))

	// Re-applying the same roster is idempotent in membership, bumps version.
	require.NoError(t, s.Acl.Replace(ctx, mbox, acl))
	loaded, err = s.Acl.Load(ctx, mbox)
	require.NoError(t, err)
	require.EqualValues(t, 2, loaded.Version)
	require.True(t, loaded.Permits(reader))
}
