package crypto

import (
	"crypto"
)

// KeyType represents the type of cryptographic key.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeX25519  KeyType = "X25519"
)

// KeyPair represents a cryptographic key pair (signing or DH).
type KeyPair interface {
	// PublicKey returns the public key.
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key.
	PrivateKey() crypto.PrivateKey

	// Type returns the key type.
	Type() KeyType

	// Sign signs the given message. X25519 keys return ErrSignNotSupported.
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature. X25519 keys return ErrVerifyNotSupported.
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair.
	ID() string
}
