// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"github.com/zeebo/blake3"
)

// HashSize is the length in bytes of a Hash value.
const HashSize = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// Digest returns the BLAKE3-256 digest of msg.
func Digest(msg []byte) Hash {
	var h Hash
	sum := blake3.Sum256(msg)
	copy(h[:], sum[:])
	return h
}

// KeyedDigest returns the BLAKE3-256 keyed hash of msg under key.
//
// BLAKE3's keyed mode requires an exact 32-byte key; key is first
// prehashed with plain Digest so that callers may pass a key of any
// length.
func KeyedDigest(key, msg []byte) Hash {
	canonKey := Digest(key)
	keyed, err := blake3.NewKeyed(canonKey[:])
	if err != nil {
		// canonKey is always exactly 32 bytes, so NewKeyed cannot fail.
		panic("crypto: NewKeyed rejected a 32-byte key: " + err.Error())
	}
	_, _ = keyed.Write(msg)
	var out Hash
	copy(out[:], keyed.Sum(nil))
	return out
}
