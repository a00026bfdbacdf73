// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// authTokenSkew is how long before a cached session token's nominal
// 1h server-side lifetime (server.AuthTokenTTL) this cache proactively
// re-authenticates, so an in-flight call never races an expiry on the
// server.
const authTokenSkew = 5 * time.Minute

type authCacheEntry struct {
	token   string
	expires time.Time
}

// AuthCache holds one session token per home server, authenticating
// fresh (or re-authenticating on expiry) on demand. A provisioned
// identity is its own certificate-chain root, so the chain it
// presents is its self-signed root certificate, rebuilt from the
// device secret — no cert store is needed beyond the identity itself.
type AuthCache struct {
	identity *LoadedIdentity

	mu      sync.Mutex
	entries map[wire.ServerName]authCacheEntry
}

// NewAuthCache returns an AuthCache for identity.
func NewAuthCache(identity *LoadedIdentity) *AuthCache {
	return &AuthCache{identity: identity, entries: make(map[wire.ServerName]authCacheEntry)}
}

// Token returns a valid session token for rc (the home server serving
// serverName), authenticating or re-authenticating as needed.
func (a *AuthCache) Token(ctx context.Context, serverName wire.ServerName, rc *rpc.Client) (string, error) {
	a.mu.Lock()
	if e, ok := a.entries[serverName]; ok && time.Now().Before(e.expires) {
		a.mu.Unlock()
		return e.token, nil
	}
	a.mu.Unlock()

	chain, err := SelfCertChain(a.identity.Device)
	if err != nil {
		return "", err
	}
	token, err := deviceAuth(ctx, rc, a.identity.Username, chain)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.entries[serverName] = authCacheEntry{token: token, expires: time.Now().Add(time.Hour - authTokenSkew)}
	a.mu.Unlock()
	return token, nil
}

// Invalidate drops any cached token for serverName, forcing the next
// Token call to re-authenticate (used after a v1_* call comes back
// AccessDenied on a token the cache believed was still fresh).
func (a *AuthCache) Invalidate(serverName wire.ServerName) {
	a.mu.Lock()
	delete(a.entries, serverName)
	a.mu.Unlock()
}

type deviceAuthParams struct {
	Username       string `json:"username"`
	CertChainBytes []byte `json:"cert_chain_bytes"`
}

type deviceAuthResult struct {
	Token string `json:"token"`
}

func deviceAuth(ctx context.Context, rc *rpc.Client, username wire.UserName, chain *wire.CertificateChain) (string, error) {
	var res deviceAuthResult
	err := rc.Call(ctx, "v1_device_auth", deviceAuthParams{
		Username:       username.String(),
		CertChainBytes: wire.EncodeCertificateChain(chain),
	}, &res)
	if err != nil {
		return "", fmt.Errorf("client: device auth: %w", err)
	}
	return res.Token, nil
}
