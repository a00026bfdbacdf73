// SPDX-License-Identifier: LGPL-3.0-or-later

// Package directory implements the signed, Merkle-anchored federation
// registry: an authoritative primary that gates writes with
// proof-of-work and batches them into periodic signed publishes, a
// read-only mirror that follows the primary, and the client-side
// verification helpers both the server and the client link against.
package directory

import (
	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// treeHeight is the sparse Merkle tree's depth: one bit of the 32-byte
// (256-bit) key hash per level, root at height 0.
const treeHeight = 256

// emptySubtreeHash[h] is the hash of an entirely-empty subtree of
// height h (h==treeHeight meaning an empty leaf). Computed once and
// shared by every node that has no data under it, the same way a
// Merkle log's empty-range hash is reused instead of materialized.
var emptySubtreeHash [treeHeight + 1]latticecrypto.Hash

func init() {
	emptySubtreeHash[treeHeight] = latticecrypto.Digest(nil)
	for h := treeHeight - 1; h >= 0; h-- {
		emptySubtreeHash[h] = nodeHash(emptySubtreeHash[h+1], emptySubtreeHash[h+1])
	}
}

// nodeHash combines two child hashes into their parent's hash:
// hash(left || right), the conventional binary Merkle node rule.
func nodeHash(left, right latticecrypto.Hash) latticecrypto.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return latticecrypto.Digest(buf)
}

// leafHash returns the hash of a populated leaf's record bytes, or the
// height-256 empty hash if recordBytes is nil (the key is absent/tombstoned).
func leafHash(recordBytes []byte) latticecrypto.Hash {
	if recordBytes == nil {
		return emptySubtreeHash[treeHeight]
	}
	return latticecrypto.Digest(recordBytes)
}

// bitAt reports the h-th bit (0 = most significant) of a 32-byte key hash.
func bitAt(key latticecrypto.Hash, h int) bool {
	byteIdx := h / 8
	bitIdx := 7 - (h % 8)
	return key[byteIdx]&(1<<uint(bitIdx)) != 0
}

// InclusionProof is the ordered sibling-hash list along a key's path:
// Siblings[0] is the sibling just below the root and Siblings[255] is
// the leaf's own sibling.
type InclusionProof struct {
	Siblings [treeHeight]latticecrypto.Hash
}

// SMT is an in-memory sparse Merkle tree overlay keyed by 32-byte hash.
// Internal nodes that are entirely empty are never materialized; only
// the set of non-default nodes along populated root-to-leaf paths is
// stored, keeping memory proportional to the number of keys rather
// than 2^256.
type SMT struct {
	// nodes[h] maps a height-h node's path prefix (the key's top h bits,
	// packed into a Hash with trailing bits zeroed) to its hash, for
	// every non-default node at that height.
	nodes [treeHeight + 1]map[latticecrypto.Hash]latticecrypto.Hash
}

// NewSMT returns an empty tree whose root is emptySubtreeHash[0].
func NewSMT() *SMT {
	s := &SMT{}
	for h := range s.nodes {
		s.nodes[h] = make(map[latticecrypto.Hash]latticecrypto.Hash)
	}
	return s
}

// prefix returns the height-h path-prefix key for a leaf's key hash:
// the top h bits, remaining bits zeroed, so all keys sharing a subtree
// hash to the same map key.
func prefix(key latticecrypto.Hash, h int) latticecrypto.Hash {
	var out latticecrypto.Hash
	fullBytes := h / 8
	copy(out[:fullBytes], key[:fullBytes])
	if rem := h % 8; rem != 0 {
		mask := byte(0xFF << uint(8-rem))
		out[fullBytes] = key[fullBytes] & mask
	}
	return out
}

func (s *SMT) hashAt(h int, p latticecrypto.Hash) latticecrypto.Hash {
	if v, ok := s.nodes[h][p]; ok {
		return v
	}
	return emptySubtreeHash[h]
}

// Root returns the tree's current root hash.
func (s *SMT) Root() latticecrypto.Hash {
	return s.hashAt(0, latticecrypto.Hash{})
}

// Put sets key's leaf to recordBytes (nil deletes/tombstones it) and
// recomputes every node hash on the path from the leaf to the root.
func (s *SMT) Put(key latticecrypto.Hash, recordBytes []byte) {
	cur := leafHash(recordBytes)
	s.nodes[treeHeight][key] = cur

	for h := treeHeight - 1; h >= 0; h-- {
		p := prefix(key, h)
		leftPrefix := prefix(key, h+1)
		var siblingPrefix latticecrypto.Hash
		siblingPrefix = leftPrefix
		flipBit(&siblingPrefix, h)

		left, right := cur, s.hashAt(h+1, siblingPrefix)
		if bitAt(key, h) {
			left, right = right, cur
		}
		cur = nodeHash(left, right)
		if cur == emptySubtreeHash[h] {
			delete(s.nodes[h], p)
		} else {
			s.nodes[h][p] = cur
		}
	}
}

// flipBit toggles the h-th bit of p in place, used to find a node's
// sibling prefix from its own prefix.
func flipBit(p *latticecrypto.Hash, h int) {
	byteIdx := h / 8
	bitIdx := 7 - (h % 8)
	p[byteIdx] ^= 1 << uint(bitIdx)
}

// Prove returns the inclusion proof for key: the sibling hash at every
// height from the leaf up to (but not including) the root.
func (s *SMT) Prove(key latticecrypto.Hash) InclusionProof {
	var proof InclusionProof
	for h := treeHeight; h > 0; h-- {
		siblingPrefix := prefix(key, h)
		flipBit(&siblingPrefix, h-1)
		proof.Siblings[h-1] = s.hashAt(h, siblingPrefix)
	}
	return proof
}

// VerifyInclusion recomputes the root from key, recordBytes (nil for a
// proof of absence), and proof's sibling hashes, reporting whether it
// matches root.
func VerifyInclusion(root latticecrypto.Hash, key latticecrypto.Hash, recordBytes []byte, proof InclusionProof) bool {
	cur := leafHash(recordBytes)
	for h := treeHeight - 1; h >= 0; h-- {
		sibling := proof.Siblings[h]
		left, right := cur, sibling
		if bitAt(key, h) {
			left, right = sibling, cur
		}
		cur = nodeHash(left, right)
	}
	return cur == root
}
