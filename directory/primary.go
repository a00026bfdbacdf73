// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// DefaultPublishInterval is the primary's publish-cycle cadence.
const DefaultPublishInterval = 2 * time.Second

// Primary is the authoritative directory role: it holds the signing
// secret, gates writes with proof-of-work, stages accepted updates, and
// runs a serialized publish cycle that produces one signed
// DirectoryHead per cycle.
type Primary struct {
	signingSecret *keys.SigningSecret
	store         *NodeStore
	seeds         *SeedCache

	publishInterval time.Duration

	mu       sync.Mutex // guards everything below
	smt      *SMT
	head     *wire.DirectoryHead
	staging  map[string][]*wire.DirectoryUpdate
	counters map[string]uint64 // last-accepted counter per key, for stale-counter rejection

	stop   chan struct{}
	closed chan struct{}
}

// NewPrimary constructs a Primary over an already-open NodeStore,
// replaying it to build the initial SMT and minting a first head if
// none exists yet.
func NewPrimary(signingSecret *keys.SigningSecret, store *NodeStore, publishInterval time.Duration) (*Primary, error) {
	if publishInterval <= 0 {
		publishInterval = DefaultPublishInterval
	}
	smt := NewSMT()
	for _, key := range store.Keys() {
		recordBytes, _ := store.Get(key)
		smt.Put(key, recordBytes)
	}

	p := &Primary{
		signingSecret:   signingSecret,
		store:           store,
		seeds:           NewSeedCache(),
		publishInterval: publishInterval,
		smt:             smt,
		staging:         make(map[string][]*wire.DirectoryUpdate),
		counters:        make(map[string]uint64),
		stop:            make(chan struct{}),
		closed:          make(chan struct{}),
	}
	if err := p.signAndSetHead(smt.Root(), 0); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Primary) signAndSetHead(root [32]byte, epoch uint64) error {
	head := &wire.DirectoryHead{RootHash: root, Epoch: epoch, PublishedAt: wire.Now()}
	if err := latticecrypto.SignStruct(head, p.signingSecret); err != nil {
		return fmt.Errorf("directory: sign initial head: %w", err)
	}
	p.head = head
	return nil
}

// RequestPow mints a fresh PowSeed for a client about to submit a write.
func (p *Primary) RequestPow(ctx context.Context) (wire.PowSeed, error) {
	return p.seeds.Mint()
}

// SubmitUpdate validates and stages upd: the
// PoW solution must verify against an unexpired seed this primary
// minted, and the counter must exceed the key's current one.
// SubmitUpdate enforces only the PoW gate and monotonic-counter
// ordering; the update's own signature is not verified, neither here
// nor by the v1_submit_update handler in rpcserver.go.
func (p *Primary) SubmitUpdate(ctx context.Context, upd *wire.DirectoryUpdate) error {
	if err := wire.ValidateSolution(upd.Solution.Seed, upd.Solution.Nonce, upd.Solution.Solution, wire.DefaultPowEffort); err != nil {
		return err
	}
	if err := p.seeds.Validate(upd.Solution.Seed); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.counters[upd.Key]; ok && upd.Counter <= last {
		return wire.NewUpdateRejected("stale counter")
	}
	p.staging[upd.Key] = append(p.staging[upd.Key], upd)
	return nil
}

// PublishCycle runs one instance of the publish cycle: drain
// staging, apply last-write-wins per key in lexicographic order to the
// SMT and node store, then sign and install a new head. No partially
// signed head is ever visible: the new head is set only after every
// SMT mutation in this cycle has been appended to the node store.
func (p *Primary) PublishCycle(ctx context.Context) error {
	p.mu.Lock()
	snapshot := p.staging
	p.staging = make(map[string][]*wire.DirectoryUpdate)
	p.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type applied struct {
		keyHash     [32]byte
		recordBytes []byte
	}
	var toApply []applied

	p.mu.Lock()
	for _, key := range keys {
		upds := snapshot[key]
		sort.Slice(upds, func(i, j int) bool { return upds[i].Counter < upds[j].Counter })
		winner := upds[len(upds)-1]
		if last, ok := p.counters[key]; ok && winner.Counter <= last {
			continue
		}
		p.counters[key] = winner.Counter
		toApply = append(toApply, applied{keyHash: KeyHash(key), recordBytes: winner.RecordBytes})
	}
	p.mu.Unlock()

	for _, a := range toApply {
		if err := p.store.Append(a.keyHash, a.recordBytes); err != nil {
			return fmt.Errorf("directory: publish cycle append: %w", err)
		}
	}

	p.mu.Lock()
	for _, a := range toApply {
		p.smt.Put(a.keyHash, a.recordBytes)
	}
	root := p.smt.Root()
	epoch := p.head.Epoch + 1
	p.mu.Unlock()

	head := &wire.DirectoryHead{RootHash: root, Epoch: epoch, PublishedAt: wire.Now()}
	if err := latticecrypto.SignStruct(head, p.signingSecret); err != nil {
		return fmt.Errorf("directory: sign head: %w", err)
	}

	p.mu.Lock()
	p.head = head
	p.mu.Unlock()
	return nil
}

// Run drives PublishCycle on the configured cadence until ctx is
// cancelled or Stop is called.
func (p *Primary) Run(ctx context.Context) {
	defer close(p.closed)
	ticker := time.NewTicker(p.publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			_ = p.PublishCycle(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (p *Primary) Stop() {
	close(p.stop)
	<-p.closed
}

// GetHead returns the latest signed head.
func (p *Primary) GetHead(ctx context.Context) (*wire.DirectoryHead, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head, nil
}

// GetRecord returns key's current record bytes and an inclusion proof
// against the current head.
func (p *Primary) GetRecord(ctx context.Context, key string) (recordBytes []byte, proof InclusionProof, found bool, err error) {
	keyHash := KeyHash(key)
	recordBytes, found = p.store.Get(keyHash)
	p.mu.Lock()
	proof = p.smt.Prove(keyHash)
	p.mu.Unlock()
	return recordBytes, proof, found, nil
}

// WalkEntry is one page entry returned by Walk: a key hash (the mirror
// applies by hash, never learning the original username/server-name
// string) and its current record bytes.
type WalkEntry struct {
	KeyHash     latticecrypto.Hash
	RecordBytes []byte
}

// Walk returns up to limit entries for mirror sync/diagnostics,
// ordered by key hash, starting strictly after afterKeyHash.
func (p *Primary) Walk(ctx context.Context, afterKeyHash latticecrypto.Hash, limit int) ([]WalkEntry, error) {
	keys := p.store.Keys()
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })

	out := make([]WalkEntry, 0, limit)
	for _, k := range keys {
		if string(k[:]) <= string(afterKeyHash[:]) {
			continue
		}
		recordBytes, _ := p.store.Get(k)
		out = append(out, WalkEntry{KeyHash: k, RecordBytes: recordBytes})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
