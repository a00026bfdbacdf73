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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// SigningSecret holds an Ed25519 signing key.
type SigningSecret struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// SigningPublic is the public half of a SigningSecret, reconstructible
// from wire bytes alone.
type SigningPublic struct {
	key ed25519.PublicKey
}

// GenerateSigningSecret generates a new Ed25519 key pair.
func GenerateSigningSecret() (*SigningSecret, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(publicKey)
	id := hex.EncodeToString(hash[:8])
	return &SigningSecret{privateKey: privateKey, publicKey: publicKey, id: id}, nil
}

// SigningSecretFromSeed reconstructs a SigningSecret from its 32-byte
// seed, as stored in the client identity row.
func SigningSecretFromSeed(seed []byte) (*SigningSecret, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("bad ed25519 seed length: %d", len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	hash := sha256.Sum256(publicKey)
	id := hex.EncodeToString(hash[:8])
	return &SigningSecret{privateKey: privateKey, publicKey: publicKey, id: id}, nil
}

// Seed returns the 32-byte seed, for durable storage.
func (kp *SigningSecret) Seed() []byte {
	return append([]byte(nil), kp.privateKey.Seed()...)
}

// PublicKey returns the public key.
func (kp *SigningSecret) PublicKey() stdcrypto.PublicKey {
	return kp.publicKey
}

// Public returns the SigningPublic wrapper for this secret's public half.
func (kp *SigningSecret) Public() SigningPublic {
	return SigningPublic{key: kp.publicKey}
}

// PrivateKey returns the private key.
func (kp *SigningSecret) PrivateKey() stdcrypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *SigningSecret) Type() latticecrypto.KeyType {
	return latticecrypto.KeyTypeEd25519
}

// ID returns a unique identifier for this key pair.
func (kp *SigningSecret) ID() string {
	return kp.id
}

// Sign signs the given message.
func (kp *SigningSecret) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

// Verify verifies a signature produced by this key's own Sign.
func (kp *SigningSecret) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return latticecrypto.ErrInvalidSignature
	}
	return nil
}

// Bytes returns the raw 32-byte public key.
func (p SigningPublic) Bytes() []byte {
	return append([]byte(nil), p.key...)
}

// Hash returns the BLAKE3 hash of the public key bytes, used as the
// device-public-hash anchor in certificate chains and directory records.
func (p SigningPublic) Hash() latticecrypto.Hash {
	return latticecrypto.Digest(p.key)
}

// Verify verifies a signature made by the matching SigningSecret.
func (p SigningPublic) Verify(message, signature []byte) error {
	if !ed25519.Verify(p.key, message, signature) {
		return latticecrypto.ErrInvalidSignature
	}
	return nil
}

// SigningPublicFromBytes parses a wire-format Ed25519 public key.
func SigningPublicFromBytes(b []byte) (SigningPublic, error) {
	if len(b) != ed25519.PublicKeySize {
		return SigningPublic{}, fmt.Errorf("bad ed25519 public key length: %d", len(b))
	}
	return SigningPublic{key: ed25519.PublicKey(b)}, nil
}
