// SPDX-License-Identifier: LGPL-3.0-or-later

// Package client implements the end-user client's cooperative task
// set: identity bootstrap, directory resolution, per-server RPC
// client pooling, the send queue, DM/group receive loops, group rekey,
// and medium-key rotation, all driven against the local durable store
// in client/store.
package client

import (
	"crypto/rand"
	"fmt"
	"io"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// Envelope is the wire payload carried inside a Message's Inner bytes
// for both direct and group messages: an ephemeral X25519 public key,
// a 24-byte AEAD nonce, and the sealed ciphertext. Only a holder of the
// matching long-term or medium-term DH secret can derive the key that
// opens it.
type Envelope struct {
	EphemeralPk [32]byte
	Nonce       [24]byte
	Ciphertext  []byte
}

// Encode returns e's canonical bytes for storage as a Message's Inner.
func (e Envelope) Encode() []byte {
	enc := wire.NewEncoder()
	enc.Bytes32(e.EphemeralPk[:]).Blob(e.Nonce[:]).Blob(e.Ciphertext)
	return enc.Bytes()
}

// DecodeEnvelope parses bytes produced by Envelope.Encode.
func DecodeEnvelope(b []byte) (Envelope, error) {
	d := wire.NewDecoder(b)
	ephemeralPk, err := d.Bytes32()
	if err != nil {
		return Envelope{}, err
	}
	nonce, err := d.Blob()
	if err != nil {
		return Envelope{}, err
	}
	if len(nonce) != 24 {
		return Envelope{}, fmt.Errorf("client: envelope nonce is %d bytes, want 24", len(nonce))
	}
	ciphertext, err := d.Blob()
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	copy(e.EphemeralPk[:], ephemeralPk)
	copy(e.Nonce[:], nonce)
	e.Ciphertext = ciphertext
	return e, nil
}

// envelopeAeadKey derives the symmetric key both sides of an envelope
// agree on from a raw X25519 ECDH shared secret: a single BLAKE3 digest
// of the shared secret under a domain-separated label, playing the
// same "derive a symmetric key from a DH output" role as an HKDF
// extract-and-expand but with the one primitive this pack exercises
// (BLAKE3) rather than pulling in a dedicated HKDF dependency for a
// single-key derivation.
func envelopeAeadKey(shared []byte) latticecrypto.AeadKey {
	h := latticecrypto.KeyedDigest([]byte("lattice/envelope-key@v1"), shared)
	return latticecrypto.AeadKey(h)
}

// SealEnvelope encrypts plaintext to recipientDhPub, generating a fresh
// ephemeral DH keypair so the sender's own static DH key is never
// reused across envelopes (forward secrecy per-message, independent of
// medium-key rotation cadence).
func SealEnvelope(recipientDhPub keys.DhPublic, plaintext, aad []byte) (Envelope, error) {
	ephemeral, err := keys.GenerateDhSecret()
	if err != nil {
		return Envelope{}, fmt.Errorf("client: seal envelope: generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.DeriveSharedSecret(recipientDhPub.Bytes())
	if err != nil {
		return Envelope{}, fmt.Errorf("client: seal envelope: ecdh: %w", err)
	}
	key := envelopeAeadKey(shared)

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("client: seal envelope: nonce: %w", err)
	}
	ciphertext, err := key.Encrypt(nonce[:], plaintext, aad)
	if err != nil {
		return Envelope{}, fmt.Errorf("client: seal envelope: encrypt: %w", err)
	}

	var e Envelope
	copy(e.EphemeralPk[:], ephemeral.Public().Bytes())
	e.Nonce = nonce
	e.Ciphertext = ciphertext
	return e, nil
}

// OpenEnvelope decrypts env using mySecret's DH key. Callers try each
// of a device's currently-known DH secrets (long-term-derived and
// medium-term current/previous, trying both medium_sk_current
// and medium_sk_prev") until one succeeds or all fail.
func OpenEnvelope(mySecret *keys.DhSecret, env Envelope, aad []byte) ([]byte, error) {
	shared, err := mySecret.DeriveSharedSecret(env.EphemeralPk[:])
	if err != nil {
		return nil, fmt.Errorf("client: open envelope: ecdh: %w", err)
	}
	key := envelopeAeadKey(shared)
	pt, err := key.Decrypt(env.Nonce[:], env.Ciphertext, aad)
	if err != nil {
		return nil, latticecrypto.ErrDecryptFailed
	}
	return pt, nil
}
