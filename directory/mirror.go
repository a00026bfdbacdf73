// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// PrimaryReader is the subset of Primary (or an RPC client proxy to a
// remote primary) a Mirror needs to follow.
type PrimaryReader interface {
	GetHead(ctx context.Context) (*wire.DirectoryHead, error)
	Walk(ctx context.Context, afterKeyHash latticecrypto.Hash, limit int) ([]WalkEntry, error)
}

// DefaultMirrorPollInterval is how often a Mirror checks the primary's
// head for a new epoch.
const DefaultMirrorPollInterval = 2 * time.Second

// DefaultWalkPageSize bounds one Walk page during mirror sync.
const DefaultWalkPageSize = 256

// Mirror is the read-only follower directory role: it polls a
// Primary's head, and on a new (verified) root streams pages via Walk
// into its own NodeStore/SMT. Mirrors never mint seeds or accept
// writes. If a newly observed head fails to verify, the mirror stays
// on its previous head and reports the failure rather than applying
// anything — "stale follow is preferred to wrong follow."
type Mirror struct {
	primary     PrimaryReader
	directoryPk keys.SigningPublic
	store       *NodeStore

	pollInterval time.Duration

	mu   sync.Mutex
	smt  *SMT
	head *wire.DirectoryHead
}

// NewMirror constructs a Mirror following primary, pinned to
// directoryPk for head-signature verification.
func NewMirror(primary PrimaryReader, directoryPk keys.SigningPublic, store *NodeStore, pollInterval time.Duration) *Mirror {
	if pollInterval <= 0 {
		pollInterval = DefaultMirrorPollInterval
	}
	smt := NewSMT()
	for _, key := range store.Keys() {
		recordBytes, _ := store.Get(key)
		smt.Put(key, recordBytes)
	}
	return &Mirror{
		primary:      primary,
		directoryPk:  directoryPk,
		store:        store,
		pollInterval: pollInterval,
		smt:          smt,
	}
}

// PollOnce fetches the primary's head; if its epoch is newer than the
// mirror's current one, verifies the head signature, streams every page
// of records via Walk and applies each one, then adopts the new head
// only if the resulting root equals the head's root hash. Individual
// records' inclusion proofs are not checked, and records applied before
// a root mismatch stay in the local store.
func (m *Mirror) PollOnce(ctx context.Context) error {
	newHead, err := m.primary.GetHead(ctx)
	if err != nil {
		return fmt.Errorf("directory: mirror get head: %w", err)
	}

	m.mu.Lock()
	curHead := m.head
	m.mu.Unlock()

	if curHead != nil && newHead.Epoch <= curHead.Epoch {
		return nil
	}

	if err := latticecrypto.VerifyStruct(newHead, m.directoryPk); err != nil {
		return fmt.Errorf("directory: mirror head signature invalid, staying on previous head: %w", err)
	}

	var after latticecrypto.Hash
	if curHead != nil {
		// Resuming sync from scratch every poll is simplest and correct
		// (idempotent Puts), at the cost of re-walking known keys; the
		// protocol does not require incremental-only application.
		after = latticecrypto.Hash{}
	}

	for {
		page, err := m.primary.Walk(ctx, after, DefaultWalkPageSize)
		if err != nil {
			return fmt.Errorf("directory: mirror walk: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			if err := m.store.Append(entry.KeyHash, entry.RecordBytes); err != nil {
				return fmt.Errorf("directory: mirror apply entry: %w", err)
			}
			m.mu.Lock()
			m.smt.Put(entry.KeyHash, entry.RecordBytes)
			m.mu.Unlock()
			after = entry.KeyHash
		}
		if len(page) < DefaultWalkPageSize {
			break
		}
	}

	m.mu.Lock()
	root := m.smt.Root()
	if root != newHead.RootHash {
		m.mu.Unlock()
		return fmt.Errorf("directory: mirror root mismatch after sync, staying on previous head")
	}
	m.head = newHead
	m.mu.Unlock()
	return nil
}

// Run polls on the configured cadence until ctx or an errgroup sibling
// cancels. Poll failures are non-fatal: PollOnce's error is discarded
// here, unlogged, so a single bad cycle does not tear down the follower
// loop.
func (m *Mirror) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				_ = m.PollOnce(gctx)
			}
		}
	})
	return g.Wait()
}

// GetHead returns the mirror's currently adopted head.
func (m *Mirror) GetHead(ctx context.Context) (*wire.DirectoryHead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

// GetRecord serves a read-only lookup against the mirror's local copy.
func (m *Mirror) GetRecord(ctx context.Context, key string) (recordBytes []byte, proof InclusionProof, found bool, err error) {
	keyHash := KeyHash(key)
	recordBytes, found = m.store.Get(keyHash)
	m.mu.Lock()
	proof = m.smt.Prove(keyHash)
	m.mu.Unlock()
	return recordBytes, proof, found, nil
}
