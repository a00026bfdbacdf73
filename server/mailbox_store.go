// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-chat/lattice/wire"
)

// MailboxStore is the durable ordered inbox store: one row per
// (mailbox_id, seq), with seq assigned atomically and strictly
// increasing per mailbox.
type MailboxStore struct {
	db *pgxpool.Pool
}

// Send assigns the next seq for mailboxID and persists the entry,
// inside a transaction so the max(seq)+1 read and the insert are
// atomic even under concurrent senders: "assign seq =
// max(seq in mailbox) + 1 atomically."
func (m *MailboxStore) Send(ctx context.Context, mailboxID wire.MailboxId, payload []byte, receivedAtNs int64) (seq uint64, err error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("server: begin send tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxSeq *int64
	err = tx.QueryRow(ctx, `SELECT max(seq) FROM mailbox WHERE mailbox_id = $1`, mailboxID[:]).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("server: read max seq: %w", err)
	}
	next := uint64(1)
	if maxSeq != nil {
		next = uint64(*maxSeq) + 1
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO mailbox (mailbox_id, seq, received_at_ns, payload) VALUES ($1, $2, $3, $4)`,
		mailboxID[:], int64(next), receivedAtNs, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("server: insert mailbox entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("server: commit send tx: %w", err)
	}
	return next, nil
}

// Entry is one mailbox row.
type Entry struct {
	Seq        uint64
	ReceivedAt int64
	Payload    []byte
}

// Since returns every entry in mailboxID with seq > sinceSeq, ordered
// by seq.
func (m *MailboxStore) Since(ctx context.Context, mailboxID wire.MailboxId, sinceSeq uint64) ([]Entry, error) {
	rows, err := m.db.Query(ctx,
		`SELECT seq, received_at_ns, payload FROM mailbox WHERE mailbox_id = $1 AND seq > $2 ORDER BY seq`,
		mailboxID[:], int64(sinceSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("server: query mailbox entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var seq int64
		if err := rows.Scan(&seq, &e.ReceivedAt, &e.Payload); err != nil {
			return nil, fmt.Errorf("server: scan mailbox entry: %w", err)
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AckUpTo deletes every entry in mailboxID with seq <= seq, implementing
// the owner-ACK deletion lifecycle.
func (m *MailboxStore) AckUpTo(ctx context.Context, mailboxID wire.MailboxId, seq uint64) error {
	_, err := m.db.Exec(ctx, `DELETE FROM mailbox WHERE mailbox_id = $1 AND seq <= $2`, mailboxID[:], int64(seq))
	if err != nil {
		return fmt.Errorf("server: ack mailbox: %w", err)
	}
	return nil
}

// MaxSeq returns mailboxID's current highest seq, or 0 if empty.
func (m *MailboxStore) MaxSeq(ctx context.Context, mailboxID wire.MailboxId) (uint64, error) {
	var maxSeq *int64
	err := m.db.QueryRow(ctx, `SELECT max(seq) FROM mailbox WHERE mailbox_id = $1`, mailboxID[:]).Scan(&maxSeq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("server: read max seq: %w", err)
	}
	if maxSeq == nil {
		return 0, nil
	}
	return uint64(*maxSeq), nil
}
