// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAeadKey_RoundTrip(t *testing.T) {
	key, err := RandomAeadKey()
	require.NoError(t, err)

	nonce := make([]byte, AeadNonceSize)
	pt := []byte("direct message payload")
	aad := []byte("mailbox-id")

	ct, err := key.Encrypt(nonce, pt, aad)
	require.NoError(t, err)

	got, err := key.Decrypt(nonce, ct, aad)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestAeadKey_FailsClosedOnTagMismatch(t *testing.T) {
	key, err := RandomAeadKey()
	require.NoError(t, err)
	nonce := make([]byte, AeadNonceSize)

	ct, err := key.Encrypt(nonce, []byte("secret"), nil)
	require.NoError(t, err)
	ct[0] ^= 0xFF // flip a ciphertext byte

	_, err = key.Decrypt(nonce, ct, nil)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestAeadKey_WrongAadFails(t *testing.T) {
	key, err := RandomAeadKey()
	require.NoError(t, err)
	nonce := make([]byte, AeadNonceSize)

	ct, err := key.Encrypt(nonce, []byte("secret"), []byte("aad-1"))
	require.NoError(t, err)

	_, err = key.Decrypt(nonce, ct, []byte("aad-2"))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestAeadKey_RejectsShortNonce(t *testing.T) {
	key, err := RandomAeadKey()
	require.NoError(t, err)
	_, err = key.Encrypt([]byte("short"), []byte("pt"), nil)
	require.ErrorIs(t, err, ErrBadKeyLength)
}

func TestStreamKey_XORIsInvolution(t *testing.T) {
	key, err := RandomStreamKey()
	require.NoError(t, err)
	nonce := make([]byte, AeadNonceSize)

	pt := []byte("padding bytes for a bulk envelope")
	ct, err := key.XOR(nonce, pt)
	require.NoError(t, err)
	require.NotEqual(t, pt, ct)

	back, err := key.XOR(nonce, ct)
	require.NoError(t, err)
	require.Equal(t, pt, back)
}

func TestKeys_RedactDebugOutput(t *testing.T) {
	k, _ := RandomAeadKey()
	require.Equal(t, "AeadKey(redacted)", k.String())
	s, _ := RandomStreamKey()
	require.Equal(t, "StreamKey(redacted)", s.String())
}
