// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/lattice-chat/lattice/wire"
)

// SeedCache mints and tracks proof-of-work seeds with a 120s
// TTL. Seeds are opaque to the client; the cache's only job is to
// remember which seeds it minted and reject stale or unknown ones.
type SeedCache struct {
	mu    sync.Mutex
	seeds map[[32]byte]wire.Timestamp // seed -> use-before
}

// NewSeedCache returns an empty SeedCache.
func NewSeedCache() *SeedCache {
	return &SeedCache{seeds: make(map[[32]byte]wire.Timestamp)}
}

// Mint creates and remembers a fresh PowSeed, freshened (evicting
// expired entries) on every call so the cache never grows unbounded.
func (c *SeedCache) Mint() (wire.PowSeed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := wire.Now()
	for s, useBefore := range c.seeds {
		if useBefore.Before(now) {
			delete(c.seeds, s)
		}
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return wire.PowSeed{}, fmt.Errorf("directory: mint pow seed: %w", err)
	}
	useBefore := wire.Timestamp(int64(now) + int64(wire.PowSeedTTL)*1e9)
	c.seeds[seed] = useBefore

	return wire.PowSeed{Algo: "blake3-keyed-v1", Seed: seed, UseBefore: useBefore}, nil
}

// Validate checks that seed was minted by this cache and has not
// expired, consuming nothing (a seed may back multiple submissions
// until its TTL elapses, matching "monotonically freshened seeds with
// TTL" rather than single-use admission tickets).
func (c *SeedCache) Validate(seed [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	useBefore, ok := c.seeds[seed]
	if !ok {
		return wire.NewUpdateRejected("seed mismatch")
	}
	if useBefore.Before(wire.Now()) {
		delete(c.seeds, seed)
		return wire.NewUpdateRejected("seed mismatch")
	}
	return nil
}
