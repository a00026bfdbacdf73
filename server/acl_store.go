// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// Acl is the in-memory shape of a MailboxAcl: one owner device and
// a reader set, versioned so late edits can be ordered. An edit
// replaces the whole reader set rather than applying a delta, which
// keeps edits idempotent without an op log.
type Acl struct {
	Owner   keys.DevicePublic
	Readers map[string]keys.DevicePublic // keyed by the device's Hash().String() for set semantics
	Version uint64
}

// AclStore persists one Acl per mailbox.
type AclStore struct {
	db *pgxpool.Pool
}

// Load returns mailboxID's Acl, or nil if none has been set yet.
func (a *AclStore) Load(ctx context.Context, mailboxID wire.MailboxId) (*Acl, error) {
	var version int64
	var b []byte
	err := a.db.QueryRow(ctx, `SELECT version, bytes FROM mailbox_acl WHERE mailbox_id = $1`, mailboxID[:]).Scan(&version, &b)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("server: load acl: %w", err)
	}
	acl, err := decodeAcl(b)
	if err != nil {
		return nil, err
	}
	acl.Version = uint64(version)
	return acl, nil
}

// Replace persists newAcl as mailboxID's Acl with the next version,
// whole-set replace semantics: every Readers entry present in newAcl
// survives, every absent one is gone.
func (a *AclStore) Replace(ctx context.Context, mailboxID wire.MailboxId, newAcl *Acl) error {
	current, err := a.Load(ctx, mailboxID)
	if err != nil {
		return err
	}
	version := uint64(1)
	if current != nil {
		version = current.Version + 1
	}
	newAcl.Version = version

	_, err = a.db.Exec(ctx, `
		INSERT INTO mailbox_acl (mailbox_id, version, bytes) VALUES ($1, $2, $3)
		ON CONFLICT (mailbox_id) DO UPDATE SET version = EXCLUDED.version, bytes = EXCLUDED.bytes
	`, mailboxID[:], int64(version), encodeAcl(newAcl))
	if err != nil {
		return fmt.Errorf("server: replace acl: %w", err)
	}
	return nil
}

func encodeAcl(a *Acl) []byte {
	e := wire.NewEncoder()
	e.Bytes32(a.Owner.Signing.Bytes()).Bytes32(a.Owner.Dh.Bytes())
	e.U64(uint64(len(a.Readers)))
	for _, r := range a.Readers {
		e.Bytes32(r.Signing.Bytes()).Bytes32(r.Dh.Bytes())
	}
	return e.Bytes()
}

func decodeAcl(b []byte) (*Acl, error) {
	d := wire.NewDecoder(b)
	ownerSigning, err := d.Bytes32()
	if err != nil {
		return nil, err
	}
	ownerDh, err := d.Bytes32()
	if err != nil {
		return nil, err
	}
	ownerSigningPub, err := keys.SigningPublicFromBytes(ownerSigning)
	if err != nil {
		return nil, err
	}
	ownerDhPub, err := keys.DhPublicFromBytes(ownerDh)
	if err != nil {
		return nil, err
	}

	n, err := d.U64()
	if err != nil {
		return nil, err
	}
	readers := make(map[string]keys.DevicePublic, n)
	for i := uint64(0); i < n; i++ {
		signingBytes, err := d.Bytes32()
		if err != nil {
			return nil, err
		}
		dhBytes, err := d.Bytes32()
		if err != nil {
			return nil, err
		}
		signingPub, err := keys.SigningPublicFromBytes(signingBytes)
		if err != nil {
			return nil, err
		}
		dhPub, err := keys.DhPublicFromBytes(dhBytes)
		if err != nil {
			return nil, err
		}
		dp := keys.DevicePublic{Signing: signingPub, Dh: dhPub}
		readers[dp.Hash().String()] = dp
	}

	return &Acl{
		Owner:   keys.DevicePublic{Signing: ownerSigningPub, Dh: ownerDhPub},
		Readers: readers,
	}, nil
}

// Permits reports whether device is the owner or a reader of acl.
func (a *Acl) Permits(device keys.DevicePublic) bool {
	if a == nil {
		return false
	}
	if a.Owner.Equal(device) {
		return true
	}
	_, ok := a.Readers[device.Hash().String()]
	return ok
}

// IsOwner reports whether device is acl's owner.
func (a *Acl) IsOwner(device keys.DevicePublic) bool {
	return a != nil && a.Owner.Equal(device)
}

// PermitsHash reports whether the device whose Hash().String() is
// deviceHashHex is the owner or a reader, without needing the full
// DevicePublic — the shape an AuthClaims.Subject arrives in.
func (a *Acl) PermitsHash(deviceHashHex string) bool {
	if a == nil {
		return false
	}
	if a.Owner.Hash().String() == deviceHashHex {
		return true
	}
	_, ok := a.Readers[deviceHashHex]
	return ok
}

// IsOwnerHash reports whether deviceHashHex names acl's owner.
func (a *Acl) IsOwnerHash(deviceHashHex string) bool {
	return a != nil && a.Owner.Hash().String() == deviceHashHex
}
