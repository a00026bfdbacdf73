// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

func TestAuthIssuer_MintThenVerifyRoundTrips(t *testing.T) {
	secret, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	issuer := NewAuthIssuer(secret)

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	devicePub := device.Public()

	username, err := wire.ParseUserName("@bob_02")
	require.NoError(t, err)

	token, err := issuer.Mint(username, devicePub)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, devicePub.Hash().String(), claims.Subject)
	require.Equal(t, "@bob_02", claims.Username)
	require.Equal(t, devicePub.Signing.Bytes(), claims.DevicePk)
}

func TestAuthClaims_SigningPublicVerifiesDeviceSignature(t *testing.T) {
	secret, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	issuer := NewAuthIssuer(secret)

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	username, err := wire.ParseUserName("@bob_02")
	require.NoError(t, err)

	token, err := issuer.Mint(username, device.Public())
	require.NoError(t, err)
	claims, err := issuer.Verify(token)
	require.NoError(t, err)

	// A signed medium-pk registration verifies against the key carried
	// in the claims, and a flipped signature bit does not.
	signed := wire.SignedMediumPk{Created: wire.Now()}
	h := latticecrypto.SignableHash(&signed)
	sig, err := device.Sign(h[:])
	require.NoError(t, err)
	require.NoError(t, signed.SetSignature(sig))

	pub, err := claims.SigningPublic()
	require.NoError(t, err)
	require.NoError(t, pub.Verify(h[:], signed.Signature[:]))

	signed.Signature[0] ^= 0x01
	require.Error(t, pub.Verify(h[:], signed.Signature[:]))
}

func TestAuthIssuer_VerifyRejectsForeignSigner(t *testing.T) {
	secret, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	issuer := NewAuthIssuer(secret)

	other, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	otherIssuer := NewAuthIssuer(other)

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	username, err := wire.ParseUserName("@bob_02")
	require.NoError(t, err)

	token, err := otherIssuer.Mint(username, device.Public())
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestAuthIssuer_RefreshPreservesIdentity(t *testing.T) {
	secret, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	issuer := NewAuthIssuer(secret)

	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	username, err := wire.ParseUserName("@bob_02")
	require.NoError(t, err)

	token, err := issuer.Mint(username, device.Public())
	require.NoError(t, err)
	claims, err := issuer.Verify(token)
	require.NoError(t, err)

	refreshed, err := issuer.Refresh(claims)
	require.NoError(t, err)
	require.NotEqual(t, token, refreshed)

	newClaims, err := issuer.Verify(refreshed)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, newClaims.Subject)
	require.Equal(t, claims.Username, newClaims.Username)
	require.Equal(t, claims.DevicePk, newClaims.DevicePk)
}
