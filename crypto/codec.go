// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"encoding/base64"
	"encoding/hex"

	"github.com/mr-tron/base58"
)

// EncodeHex returns the lowercase hex encoding of b.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a lowercase hex string.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// EncodeBase64URL returns the unpadded base64url encoding of b, the wire
// format used throughout the directory and RPC layers.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes an unpadded base64url string.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// EncodeBase58 returns a base58 rendering of b, used only for human-facing
// display (CLI tables, log lines), never as a wire format.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// String renders h as hex, matching the debug/display convention used for
// all other fixed-size identifiers in this codebase.
func (h Hash) String() string {
	return EncodeHex(h[:])
}

// Base58 renders h as base58, for human-facing output.
func (h Hash) Base58() string {
	return EncodeBase58(h[:])
}
