package keys

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDhSecret_DeriveSharedSecret(t *testing.T) {
	a, err := GenerateDhSecret()
	require.NoError(t, err)
	b, err := GenerateDhSecret()
	require.NoError(t, err)

	s1, err := a.DeriveSharedSecret(b.Public().Bytes())
	require.NoError(t, err)
	s2, err := b.DeriveSharedSecret(a.Public().Bytes())
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}

func TestDhSecret_RoundTripBytes(t *testing.T) {
	a, err := GenerateDhSecret()
	require.NoError(t, err)

	b, err := DhSecretFromBytes(a.Bytes())
	require.NoError(t, err)

	assert.Equal(t, a.Public().Bytes(), b.Public().Bytes())
}

func TestDhSecret_SignUnsupported(t *testing.T) {
	a, err := GenerateDhSecret()
	require.NoError(t, err)

	_, err = a.Sign([]byte("hi"))
	assert.Error(t, err)
	assert.Error(t, a.Verify([]byte("hi"), []byte("sig")))
}

func TestEd25519ToX25519Conversion(t *testing.T) {
	sk, err := GenerateSigningSecret()
	require.NoError(t, err)

	edPub := sk.PublicKey().(ed25519.PublicKey)
	xPub, err := Ed25519PublicToX25519(edPub)
	require.NoError(t, err)
	assert.Len(t, xPub, 32)

	edPriv := sk.PrivateKey().(ed25519.PrivateKey)
	xPriv, err := Ed25519PrivateToX25519(edPriv)
	require.NoError(t, err)
	assert.Len(t, xPriv, 32)
}
