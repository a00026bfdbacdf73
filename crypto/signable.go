// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import "fmt"

// Verifier is satisfied by any public key that can check a signature
// without needing the rest of the KeyPair interface (e.g. a bare
// SigningPublic reconstructed from wire bytes with no local private key).
type Verifier interface {
	Verify(message, signature []byte) error
}

// Signable is implemented by wire types whose bytes are signed and
// verified through a domain-separated keyed hash. CanonicalBytes MUST
// exclude the signature field itself so that signing is well-defined.
type Signable interface {
	// CanonicalBytes returns the deterministic canonical encoding of the
	// struct's signed fields.
	CanonicalBytes() []byte
	// DomainTag returns this type's unique domain-separation string, used
	// to prevent cross-type signature replay.
	DomainTag() string
	// SetSignature installs a freshly computed signature.
	SetSignature(sig []byte) error
	// GetSignature returns the currently installed signature, or nil.
	GetSignature() []byte
}

// SignableHash returns the domain-separated hash that Sign and Verify
// operate over: a keyed BLAKE3 digest of the canonical bytes under the
// type's domain tag.
func SignableHash(s Signable) Hash {
	return KeyedDigest([]byte(s.DomainTag()), s.CanonicalBytes())
}

// SignStruct signs s with sk and installs the result, so that a later
// VerifyStruct(s, sk.PublicKey-equivalent) succeeds iff s is unchanged.
func SignStruct(s Signable, sk KeyPair) error {
	h := SignableHash(s)
	sig, err := sk.Sign(h[:])
	if err != nil {
		return fmt.Errorf("crypto: sign signable: %w", err)
	}
	return s.SetSignature(sig)
}

// VerifyStruct reports whether s's installed signature verifies against pk.
func VerifyStruct(s Signable, pk Verifier) error {
	sig := s.GetSignature()
	if sig == nil {
		return ErrInvalidSignature
	}
	h := SignableHash(s)
	return pk.Verify(h[:], sig)
}
