// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	stdcrypto "crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// DhSecret holds an X25519 private key.
type DhSecret struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// DhPublic is the public half of a DhSecret. PublicKey is deterministic:
// the same DhSecret always yields the same DhPublic bytes.
type DhPublic struct {
	key *ecdh.PublicKey
}

// GenerateDhSecret generates a new X25519 key pair.
func GenerateDhSecret() (*DhSecret, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate X25519 key: %w", err)
	}
	publicKey := privateKey.PublicKey()

	hash := sha256.Sum256(publicKey.Bytes())
	id := hex.EncodeToString(hash[:8])

	return &DhSecret{privateKey: privateKey, publicKey: publicKey, id: id}, nil
}

// DhSecretFromBytes reconstructs a DhSecret from its 32-byte scalar, as
// stored in the client identity row.
func DhSecretFromBytes(b []byte) (*DhSecret, error) {
	privateKey, err := ecdh.X25519().NewPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid X25519 private key bytes: %w", err)
	}
	publicKey := privateKey.PublicKey()
	hash := sha256.Sum256(publicKey.Bytes())
	id := hex.EncodeToString(hash[:8])
	return &DhSecret{privateKey: privateKey, publicKey: publicKey, id: id}, nil
}

// Bytes returns the raw 32-byte private scalar, for durable storage.
func (kp *DhSecret) Bytes() []byte {
	return kp.privateKey.Bytes()
}

// PublicKey returns the deterministic public key for this secret.
func (kp *DhSecret) PublicKey() stdcrypto.PublicKey {
	return kp.publicKey
}

// Public returns the DhPublic wrapper for this secret's public half.
func (kp *DhSecret) Public() DhPublic {
	return DhPublic{key: kp.publicKey}
}

// PrivateKey returns the private key.
func (kp *DhSecret) PrivateKey() stdcrypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *DhSecret) Type() latticecrypto.KeyType {
	return latticecrypto.KeyTypeX25519
}

// ID returns a unique identifier for this key pair.
func (kp *DhSecret) ID() string {
	return kp.id
}

// Sign is unsupported: X25519 is a key-agreement algorithm only.
func (kp *DhSecret) Sign(message []byte) ([]byte, error) {
	return nil, latticecrypto.ErrSignNotSupported
}

// Verify is unsupported: X25519 is a key-agreement algorithm only.
func (kp *DhSecret) Verify(message, signature []byte) error {
	return latticecrypto.ErrVerifyNotSupported
}

// DeriveSharedSecret computes the raw X25519 ECDH output against a peer's
// public key bytes. Callers derive session/envelope keys from this via
// HKDF; it is never used as a key directly.
func (kp *DhSecret) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	peerPub, err := ecdh.X25519().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer public key: %w", err)
	}
	shared, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return shared, nil
}

// Bytes returns the raw 32-byte public key.
func (p DhPublic) Bytes() []byte {
	if p.key == nil {
		return nil
	}
	return p.key.Bytes()
}

// DhPublicFromBytes parses a wire-format X25519 public key.
func DhPublicFromBytes(b []byte) (DhPublic, error) {
	key, err := ecdh.X25519().NewPublicKey(b)
	if err != nil {
		return DhPublic{}, fmt.Errorf("invalid X25519 public key bytes: %w", err)
	}
	return DhPublic{key: key}, nil
}

// Ed25519PublicToX25519 converts an Ed25519 verification key into the
// X25519 public key on the birationally equivalent Montgomery curve,
// used when the envelope layer must derive a DH key from a device's
// long-term signing identity rather than its own medium-term DH key.
func Ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad Ed25519 pub length: %d", l)
	}
	P, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 pub: %w", err)
	}
	return P.BytesMontgomery(), nil
}

// Ed25519PrivateToX25519 converts an Ed25519 signing key into the X25519
// scalar on the birationally equivalent curve (RFC 8032 §5.1.5 clamping).
func Ed25519PrivateToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if l := len(priv); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad Ed25519 priv length: %d", l)
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var xPriv [32]byte
	copy(xPriv[:], h[:32])
	return xPriv[:], nil
}
