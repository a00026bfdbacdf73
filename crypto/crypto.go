// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package crypto provides the cryptographic primitives lattice signs,
// hashes and encrypts everything else with.
package crypto

// This file is intentionally minimal to avoid circular dependencies.
// The actual implementations are in:
// - crypto/keys: Ed25519 signing keys and X25519 DH keys
// - hash.go: BLAKE3 hashing and keyed digests
// - aead.go: XChaCha20-Poly1305 AEAD and XChaCha20 stream keys
// - codec.go: base64url/hex/base58 codecs
// - signable.go: domain-separated signable structs
// - keys/device.go: DeviceSecret/DevicePublic (signing+DH key bundles)

import "errors"

var (
	// ErrInvalidSignature is returned when a signature fails verification.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	// ErrSignNotSupported is returned by key types that cannot sign (e.g. X25519).
	ErrSignNotSupported = errors.New("crypto: signing not supported by this key type")
	// ErrVerifyNotSupported is returned by key types that cannot verify signatures.
	ErrVerifyNotSupported = errors.New("crypto: verification not supported by this key type")
	// ErrDecryptFailed is returned on any AEAD tag mismatch; callers must fail closed.
	ErrDecryptFailed = errors.New("crypto: decryption failed")
	// ErrBadKeyLength is returned when a key or nonce does not match its expected size.
	ErrBadKeyLength = errors.New("crypto: incorrect key or nonce length")
)
