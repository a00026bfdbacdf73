// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-chat/lattice/wire"
)

// CertStore persists each user's merged device certificate chain,
// encoded with the canonical wire codec so the stored bytes are the
// same ones that were verified against the directory's root hash.
type CertStore struct {
	db *pgxpool.Pool
}

// Load returns username's stored chain, or nil if none exists yet.
func (c *CertStore) Load(ctx context.Context, username wire.UserName) (*wire.CertificateChain, error) {
	var chainBytes []byte
	err := c.db.QueryRow(ctx, `SELECT cert_chain_bytes FROM device_certificates WHERE username = $1`, username.String()).Scan(&chainBytes)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("server: load cert chain: %w", err)
	}
	return wire.DecodeCertificateChain(chainBytes)
}

// Store upserts username's merged chain.
func (c *CertStore) Store(ctx context.Context, username wire.UserName, chain *wire.CertificateChain) error {
	encoded := wire.EncodeCertificateChain(chain)
	_, err := c.db.Exec(ctx, `
		INSERT INTO device_certificates (username, cert_chain_bytes) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET cert_chain_bytes = EXCLUDED.cert_chain_bytes
	`, username.String(), encoded)
	if err != nil {
		return fmt.Errorf("server: store cert chain: %w", err)
	}
	return nil
}
