// SPDX-License-Identifier: LGPL-3.0-or-later

// Package store is the client's local SQLite-backed state: identity,
// conversation history, the outbound send queue, group key state, and
// the directory proof cache. Schema setup is owned by the package
// itself and run at Open rather than by an external migrations tool.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against dbPath with its operating
// pragmas set (WAL, busy_timeout, synchronous=NORMAL, foreign_keys=ON)
// and a process-wide change notifier.
type Store struct {
	db       *sql.DB
	Notifier *Notifier
}

// Open opens (creating if absent) the SQLite database at dbPath, sets
// its pragmas, and runs the schema migration.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("client/store: open: %w", err)
	}
	// A single connection serializes every query, reads included, which
	// avoids SQLITE_BUSY under WAL's one-writer-many-readers model; reads
	// do not run concurrently with each other or with writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("client/store: set pragma %q: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("client/store: migrate: %w", err)
	}

	return &Store{db: db, Notifier: NewNotifier()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS client_identity (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	username         TEXT NOT NULL,
	server_name      TEXT,
	signing_seed     BLOB NOT NULL,
	dh_seed          BLOB NOT NULL,
	medium_sk_current BLOB,
	medium_pk_current_created INTEGER,
	medium_sk_prev   BLOB,
	state            TEXT NOT NULL DEFAULT 'absent'
);

CREATE TABLE IF NOT EXISTS convo_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	peer         TEXT NOT NULL,
	direction    TEXT NOT NULL,
	kind         TEXT NOT NULL,
	body         BLOB NOT NULL,
	received_at  INTEGER NOT NULL,
	seq          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_convo_messages_peer ON convo_messages(peer, seq);

CREATE TABLE IF NOT EXISTS send_queue (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient      TEXT NOT NULL,
	mailbox_id     BLOB NOT NULL,
	kind           TEXT NOT NULL,
	body           BLOB NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	attempts       INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	send_error     TEXT
);

CREATE TABLE IF NOT EXISTS group_state (
	group_id       BLOB PRIMARY KEY,
	current_key    BLOB NOT NULL,
	prev_key       BLOB,
	epoch          INTEGER NOT NULL,
	members        BLOB NOT NULL,
	rekeyed_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS group_cursors (
	group_id  BLOB PRIMARY KEY,
	since_seq INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS directory_cache (
	key           TEXT PRIMARY KEY,
	record_bytes  BLOB NOT NULL,
	cached_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dm_cursors (
	peer      TEXT PRIMARY KEY,
	since_seq INTEGER NOT NULL DEFAULT 0
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}
