// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/wire"
)

// NodeStore is the directory's append-only key-value log: every
// published record (and tombstone) is appended once and never
// rewritten in place; after the file grows, the memory-mapped read view
// is refreshed by unmapping and mapping the whole file again. The in-memory
// index gives O(1) lookup by key hash without scanning the file.
//
// The layout is one growable mapped log file plus an in-memory
// offset index rebuilt on open.
type NodeStore struct {
	mu    sync.RWMutex
	file  *os.File
	mm    mmap.MMap
	index map[latticecrypto.Hash]record
	size  int64
}

type record struct {
	offset int64
	length uint32
}

// OpenNodeStore opens (creating if absent) the append-only log at path
// and rebuilds the in-memory index by scanning it once.
func OpenNodeStore(path string) (*NodeStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("directory: open node store %s: %w", path, err)
	}
	s := &NodeStore{file: f, index: make(map[latticecrypto.Hash]record)}
	if err := s.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// rebuildIndex scans the log file from offset 0, populating s.index.
// Each entry is [32B key][4B big-endian length][length bytes value].
func (s *NodeStore) rebuildIndex() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	s.size = size
	if size == 0 {
		return nil
	}

	mm, err := mmap.Map(s.file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("directory: mmap node store: %w", err)
	}
	s.mm = mm

	var off int64
	for off < size {
		if off+36 > size {
			break // truncated trailing entry, ignore
		}
		var key latticecrypto.Hash
		copy(key[:], mm[off:off+32])
		length := binary.BigEndian.Uint32(mm[off+32 : off+36])
		valStart := off + 36
		valEnd := valStart + int64(length)
		if valEnd > size {
			break
		}
		s.index[key] = record{offset: valStart, length: length}
		off = valEnd
	}
	return nil
}

// Append writes a new entry for key (recordBytes may be nil, encoded as
// a zero-length value to represent a tombstone) and remaps the file so
// subsequent Get calls see it.
func (s *NodeStore) Append(key latticecrypto.Hash, recordBytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var header [36]byte
	copy(header[:32], key[:])
	binary.BigEndian.PutUint32(header[32:36], uint32(len(recordBytes)))

	if _, err := s.file.WriteAt(header[:], s.size); err != nil {
		return fmt.Errorf("directory: append header: %w", err)
	}
	if len(recordBytes) > 0 {
		if _, err := s.file.WriteAt(recordBytes, s.size+36); err != nil {
			return fmt.Errorf("directory: append value: %w", err)
		}
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("directory: sync node store: %w", err)
	}

	valStart := s.size + 36
	s.index[key] = record{offset: valStart, length: uint32(len(recordBytes))}
	s.size = valStart + int64(len(recordBytes))

	return s.remapLocked()
}

func (s *NodeStore) remapLocked() error {
	if s.mm != nil {
		if err := s.mm.Unmap(); err != nil {
			return fmt.Errorf("directory: unmap node store: %w", err)
		}
		s.mm = nil
	}
	if s.size == 0 {
		return nil
	}
	mm, err := mmap.Map(s.file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("directory: remap node store: %w", err)
	}
	s.mm = mm
	return nil
}

// Get returns the record bytes for key (nil, false for an absent key;
// nil, true for a tombstoned one).
func (s *NodeStore) Get(key latticecrypto.Hash) (recordBytes []byte, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.index[key]
	if !ok {
		return nil, false
	}
	if r.length == 0 {
		return nil, true
	}
	out := make([]byte, r.length)
	copy(out, s.mm[r.offset:r.offset+int64(r.length)])
	return out, true
}

// Keys returns every key currently in the index, in no particular order.
func (s *NodeStore) Keys() []latticecrypto.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]latticecrypto.Hash, 0, len(s.index))
	for k := range s.index {
		out = append(out, k)
	}
	return out
}

// Close unmaps and closes the underlying file.
func (s *NodeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm != nil {
		_ = s.mm.Unmap()
	}
	return s.file.Close()
}

// KeyHash derives a NodeStore/SMT key from a directory key string
// (a username or server-name), matching wire's canonical string
// encoding so the same hash is computed wherever a key is referenced.
func KeyHash(key string) latticecrypto.Hash {
	e := wire.NewEncoder()
	e.Str(key)
	return latticecrypto.Digest(e.Bytes())
}
