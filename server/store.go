// SPDX-License-Identifier: LGPL-3.0-or-later

// Package server implements the federated home-server message
// plane: device authentication against the directory, mailbox
// storage with pub/sub wake-up and the long-poll multi-receive
// contract, certificate-chain merge/verify, and medium-term public-key
// lifecycle.
package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the home server's PostgreSQL-backed sub-stores: one
// shared *pgxpool.Pool split by purpose into Mailbox, Cert, Acl,
// MediumPk and Profile stores.
type Store struct {
	pool *pgxpool.Pool

	Mailbox  *MailboxStore
	Cert     *CertStore
	Acl      *AclStore
	MediumPk *MediumPkStore
	Profile  *ProfileStore
}

// Config holds PostgreSQL connection configuration for the home server.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// connString builds a libpq-style DSN from cfg.
func (cfg Config) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// Open connects to PostgreSQL, runs the schema migration, and wires up
// the sub-stores.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	return OpenDSN(ctx, cfg.connString())
}

// OpenDSN is Open's dsn-based entry point, for callers (tests, or a
// DATABASE_URL-style deployment) that already have a libpq connection
// string rather than a Config to build one from.
func OpenDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("server: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("server: ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("server: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		Mailbox:  &MailboxStore{db: pool},
		Cert:     &CertStore{db: pool},
		Acl:      &AclStore{db: pool},
		MediumPk: &MediumPkStore{db: pool},
		Profile:  &ProfileStore{db: pool},
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// migrate creates the on-disk tables if they do not already exist.
// Schema setup is owned by the store package itself rather than an
// external migrations tool.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS device_certificates (
	username        TEXT PRIMARY KEY,
	cert_chain_bytes BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS mailbox (
	mailbox_id     BYTEA NOT NULL,
	seq            BIGINT NOT NULL,
	received_at_ns BIGINT NOT NULL,
	payload        BYTEA NOT NULL,
	PRIMARY KEY (mailbox_id, seq)
);

CREATE TABLE IF NOT EXISTS mailbox_acl (
	mailbox_id BYTEA PRIMARY KEY,
	version    BIGINT NOT NULL,
	bytes      BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS medium_pks (
	device_pk    BYTEA PRIMARY KEY,
	signed_bytes BYTEA NOT NULL,
	prev_bytes   BYTEA,
	created      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_profiles (
	username TEXT PRIMARY KEY,
	bytes    BYTEA NOT NULL
);
`
	_, err := pool.Exec(ctx, schema)
	return err
}
