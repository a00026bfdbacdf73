// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// AuthTokenTTL is how long a session token remains valid after Mint or
// Refresh issues it. No RPC handler calls Refresh, so a token expires
// AuthTokenTTL after issue whether or not it is used.
const AuthTokenTTL = time.Hour

// AuthClaims is the session token's payload: Subject carries the
// authenticated device's public-key hash (hex), Username the identity
// it authenticated as, and DevicePk the device's raw Ed25519 signing
// public key, so a later RPC can both check the caller's device
// against a mailbox ACL and verify device-signed payloads (medium-pk
// registrations) without re-running the handshake.
type AuthClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	DevicePk []byte `json:"device_pk"`
}

// SigningPublic reconstructs the authenticated device's signing public
// key from the claims.
func (c *AuthClaims) SigningPublic() (keys.SigningPublic, error) {
	return keys.SigningPublicFromBytes(c.DevicePk)
}

// AuthIssuer mints and verifies device session tokens, signed with the
// home server's own Ed25519 key rather than the device's — the token
// asserts the server's judgment that the device authenticated, not the
// device's own claim.
type AuthIssuer struct {
	secret *keys.SigningSecret
}

// NewAuthIssuer returns an AuthIssuer backed by secret.
func NewAuthIssuer(secret *keys.SigningSecret) *AuthIssuer {
	return &AuthIssuer{secret: secret}
}

// Mint returns a signed session token for device, scoped to username.
func (a *AuthIssuer) Mint(username wire.UserName, device keys.DevicePublic) (string, error) {
	priv, ok := a.secret.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return "", fmt.Errorf("server: auth issuer key is not ed25519")
	}
	now := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   device.Hash().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AuthTokenTTL)),
		},
		Username: username.String(),
		DevicePk: device.Signing.Bytes(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// Refresh mints a fresh token carrying claims' identity with a new
// expiry, implementing idleness-expiry-by-reissue rather than
// extending the original token's lifetime.
func (a *AuthIssuer) Refresh(claims *AuthClaims) (string, error) {
	priv, ok := a.secret.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return "", fmt.Errorf("server: auth issuer key is not ed25519")
	}
	now := time.Now()
	fresh := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AuthTokenTTL)),
		},
		Username: claims.Username,
		DevicePk: claims.DevicePk,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, fresh)
	return token.SignedString(priv)
}

// Verify parses and validates a token minted by Mint, returning its
// claims.
func (a *AuthIssuer) Verify(tokenString string) (*AuthClaims, error) {
	pub, ok := a.secret.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("server: auth issuer key is not ed25519")
	}
	claims := &AuthClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("server: unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("server: verify auth token: %w", err)
	}
	return claims, nil
}
