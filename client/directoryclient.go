// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"time"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/directory"
	"github.com/lattice-chat/lattice/wire"
)

// DirectoryClient wraps a verified-read directory.Client plus its
// in-memory descriptor cache (directory.Cache), and exposes the
// write-path calls (RequestPow/SubmitUpdate) that provisioning and
// rekey need directly, bypassing the read-side cache.
type DirectoryClient struct {
	raw   *directory.Client
	cache *directory.Cache
}

// NewDirectoryClient constructs a DirectoryClient against directoryURL,
// pinned to directoryPk.
func NewDirectoryClient(directoryURL string, directoryPk keys.SigningPublic, ttl time.Duration) (*DirectoryClient, error) {
	c, err := directory.NewClient(directoryURL, directoryPk)
	if err != nil {
		return nil, err
	}
	return &DirectoryClient{raw: c, cache: directory.NewCache(c, ttl)}, nil
}

// ResolveUser resolves and verifies @username's UserDescriptor.
func (d *DirectoryClient) ResolveUser(ctx context.Context, username wire.UserName) (*wire.UserDescriptor, error) {
	return d.cache.ResolveUser(ctx, username)
}

// ResolveServer resolves and verifies a server's ServerDescriptor.
func (d *DirectoryClient) ResolveServer(ctx context.Context, serverName wire.ServerName) (*wire.ServerDescriptor, error) {
	return d.cache.ResolveServer(ctx, serverName)
}

// RegisterUser submits a freshly PoW-solved, signed UserDescriptor
// update for username, used both by first-time provisioning and by
// later rekeys (a new root_cert_hash after a device chain change).
// signer signs the DirectoryUpdate itself; for first-time
// registration PoW alone admits the write, so callers pass the new
// device's own signing secret.
func (d *DirectoryClient) RegisterUser(ctx context.Context, username wire.UserName, desc *wire.UserDescriptor, counter uint64, signer interface {
	Sign(message []byte) ([]byte, error)
}) error {
	recordBytes := wire.EncodeSignedRecord(desc)
	return d.submit(ctx, wire.DirectoryKeyUser, username.String(), recordBytes, counter, signer)
}

// RegisterServer submits a freshly PoW-solved, signed ServerDescriptor
// update for serverName.
func (d *DirectoryClient) RegisterServer(ctx context.Context, serverName wire.ServerName, desc *wire.ServerDescriptor, counter uint64, signer interface {
	Sign(message []byte) ([]byte, error)
}) error {
	recordBytes := wire.EncodeSignedRecord(desc)
	return d.submit(ctx, wire.DirectoryKeyServer, serverName.String(), recordBytes, counter, signer)
}

func (d *DirectoryClient) submit(ctx context.Context, keyKind wire.DirectoryKeyKind, key string, recordBytes []byte, counter uint64, signer interface {
	Sign(message []byte) ([]byte, error)
}) error {
	seed, err := d.raw.RequestPow(ctx)
	if err != nil {
		return fmt.Errorf("client: directory: request pow: %w", err)
	}

	solution := solvePow(seed.Seed, wire.DefaultPowEffort)

	upd := &wire.DirectoryUpdate{
		KeyKind:     keyKind,
		Key:         key,
		RecordBytes: recordBytes,
		Counter:     counter,
		Solution:    solution,
	}
	h := latticecrypto.SignableHash(upd)
	sig, err := signer.Sign(h[:])
	if err != nil {
		return fmt.Errorf("client: directory: sign update: %w", err)
	}
	if err := upd.SetSignature(sig); err != nil {
		return err
	}

	if err := d.raw.SubmitUpdate(ctx, upd); err != nil {
		return fmt.Errorf("client: directory: submit update: %w", err)
	}
	return nil
}

// solvePow searches for a nonce whose PowSolution satisfies effort
// against seed, starting from 0. The admission rule requires
// first_8_be(blake3(solution)) * effort to fit in a uint64, i.e. the
// leading 64 bits of the solution hash must fall below 2^64/effort,
// so roughly one nonce in effort passes and the expected search cost
// is effort hash evaluations (1000 at the default).
func solvePow(seed [32]byte, effort uint64) wire.PowSolution {
	for nonce := uint64(0); ; nonce++ {
		sol := wire.Solve(seed, nonce)
		if wire.ValidateSolution(seed, nonce, sol.Solution, effort) == nil {
			return sol
		}
	}
}
