// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// AeadKeySize is the key length for AeadKey and StreamKey (256 bits).
const AeadKeySize = 32

// AeadNonceSize is the 24-byte extended nonce used by XChaCha20-Poly1305.
const AeadNonceSize = chacha20poly1305.NonceSizeX

// AeadKey is an opaque XChaCha20-Poly1305 key.
type AeadKey [AeadKeySize]byte

// RandomAeadKey generates a fresh random AeadKey.
func RandomAeadKey() (AeadKey, error) {
	var k AeadKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return AeadKey{}, err
	}
	return k, nil
}

// Encrypt seals plaintext under nonce (24 bytes) with aad as associated data.
func (k AeadKey) Encrypt(nonce []byte, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AeadNonceSize {
		return nil, ErrBadKeyLength
	}
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext sealed by Encrypt. It fails closed: any tag
// mismatch returns ErrDecryptFailed without leaking partial plaintext.
func (k AeadKey) Decrypt(nonce []byte, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AeadNonceSize {
		return nil, ErrBadKeyLength
	}
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}

// String never reveals key material.
func (k AeadKey) String() string {
	return "AeadKey(redacted)"
}

// StreamKey is an opaque XChaCha20 stream-cipher key, used where no
// authentication tag is wanted (e.g. bulk envelope padding).
type StreamKey [AeadKeySize]byte

// RandomStreamKey generates a fresh random StreamKey.
func RandomStreamKey() (StreamKey, error) {
	var k StreamKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return StreamKey{}, err
	}
	return k, nil
}

// XOR applies the XChaCha20 keystream under nonce (24 bytes) to src, writing
// into a freshly allocated buffer of the same length.
func (k StreamKey) XOR(nonce []byte, src []byte) ([]byte, error) {
	if len(nonce) != AeadNonceSize {
		return nil, ErrBadKeyLength
	}
	c, err := chacha20.NewUnauthenticatedCipher(k[:], nonce)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	c.XORKeyStream(dst, src)
	return dst, nil
}

// String never reveals key material.
func (k StreamKey) String() string {
	return "StreamKey(redacted)"
}
