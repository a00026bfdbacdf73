// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

const (
	userDescriptorDomainTag   = "lattice.user_descriptor.v1"
	serverDescriptorDomainTag = "lattice.server_descriptor.v1"
	directoryUpdateDomainTag  = "lattice.directory_update.v1"
	directoryHeadDomainTag    = "lattice.directory_head.v1"
)

// UserDescriptor is the directory's published record for a username:
// which server hosts it, and the root hash its device chain must
// verify against.
type UserDescriptor struct {
	ServerName   ServerName
	RootCertHash latticecrypto.Hash
	DirectorySig [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (u *UserDescriptor) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Str(u.ServerName.String()).Bytes32(u.RootCertHash.Bytes())
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (u *UserDescriptor) DomainTag() string { return userDescriptorDomainTag }

// SetSignature implements crypto.Signable.
func (u *UserDescriptor) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: user descriptor signature must be 64 bytes, got %d", len(sig))
	}
	copy(u.DirectorySig[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (u *UserDescriptor) GetSignature() []byte {
	if u.DirectorySig == ([64]byte{}) {
		return nil
	}
	return u.DirectorySig[:]
}

// ServerDescriptor is the directory's published record for a
// federation member server.
type ServerDescriptor struct {
	ServerName   ServerName
	PublicUrls   []string
	SigningPk    latticecrypto.Hash
	DirectorySig [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (s *ServerDescriptor) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Str(s.ServerName.String())
	e.U64(uint64(len(s.PublicUrls)))
	for _, u := range s.PublicUrls {
		e.Str(u)
	}
	e.Bytes32(s.SigningPk.Bytes())
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (s *ServerDescriptor) DomainTag() string { return serverDescriptorDomainTag }

// SetSignature implements crypto.Signable.
func (s *ServerDescriptor) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: server descriptor signature must be 64 bytes, got %d", len(sig))
	}
	copy(s.DirectorySig[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (s *ServerDescriptor) GetSignature() []byte {
	if s.DirectorySig == ([64]byte{}) {
		return nil
	}
	return s.DirectorySig[:]
}

// DirectoryKeyKind distinguishes the two namespaces a DirectoryUpdate
// can target.
type DirectoryKeyKind uint8

const (
	DirectoryKeyUser DirectoryKeyKind = iota
	DirectoryKeyServer
)

// DirectoryUpdate is a signed write intent addressed at a key
// (username or server-name), carrying either new record bytes or a
// tombstone, plus the PoW solution that admits it. Ordering is by
// (Key, Counter): last-write-wins on the monotonic counter.
type DirectoryUpdate struct {
	KeyKind     DirectoryKeyKind
	Key         string
	RecordBytes []byte // nil means tombstone
	Counter     uint64
	Solution    PowSolution
	Signature   [64]byte
}

// CanonicalBytes implements crypto.Signable. The PoW solution is
// intentionally excluded: it authenticates admission, not content, and
// is verified separately by the directory's write path.
func (d *DirectoryUpdate) CanonicalBytes() []byte {
	e := NewEncoder()
	e.U8(uint8(d.KeyKind)).Str(d.Key).U64(d.Counter)
	if d.RecordBytes == nil {
		e.U8(0)
	} else {
		e.U8(1).Blob(d.RecordBytes)
	}
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (d *DirectoryUpdate) DomainTag() string { return directoryUpdateDomainTag }

// SetSignature implements crypto.Signable.
func (d *DirectoryUpdate) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: directory update signature must be 64 bytes, got %d", len(sig))
	}
	copy(d.Signature[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (d *DirectoryUpdate) GetSignature() []byte {
	if d.Signature == ([64]byte{}) {
		return nil
	}
	return d.Signature[:]
}

// IsTombstone reports whether this update deletes its key.
func (d *DirectoryUpdate) IsTombstone() bool {
	return d.RecordBytes == nil
}

// DirectoryHead is the signed snapshot descriptor fixing a directory's
// state at a point in time.
type DirectoryHead struct {
	RootHash    latticecrypto.Hash
	Epoch       uint64
	PublishedAt Timestamp
	Signature   [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (h *DirectoryHead) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Bytes32(h.RootHash.Bytes()).U64(h.Epoch).I64(int64(h.PublishedAt))
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (h *DirectoryHead) DomainTag() string { return directoryHeadDomainTag }

// SetSignature implements crypto.Signable.
func (h *DirectoryHead) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: directory head signature must be 64 bytes, got %d", len(sig))
	}
	copy(h.Signature[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (h *DirectoryHead) GetSignature() []byte {
	if h.Signature == ([64]byte{}) {
		return nil
	}
	return h.Signature[:]
}

// EncodeSignedRecord serializes a signed Signable the way the
// directory stores and serves it: canonical bytes followed by the
// signature, so a client can decode the fields and re-derive the
// signed hash from the same bytes without a side channel.
func EncodeSignedRecord(s interface {
	CanonicalBytes() []byte
	GetSignature() []byte
}) []byte {
	out := append([]byte{}, s.CanonicalBytes()...)
	return append(out, s.GetSignature()...)
}
