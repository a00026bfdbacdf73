// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
)

// ConvoDirection distinguishes a message's origin.
type ConvoDirection string

const (
	DirectionInbound  ConvoDirection = "in"
	DirectionOutbound ConvoDirection = "out"
)

// ConvoMessage is one decrypted, persisted conversation entry.
type ConvoMessage struct {
	ID         int64
	Peer       string
	Direction  ConvoDirection
	Kind       string
	Body       []byte
	ReceivedAt int64
	Seq        uint64
}

// AppendConvoMessage records a decrypted message and wakes change
// waiters.
func (s *Store) AppendConvoMessage(ctx context.Context, m ConvoMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO convo_messages (peer, direction, kind, body, received_at, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Peer, string(m.Direction), m.Kind, m.Body, m.ReceivedAt, int64(m.Seq))
	if err != nil {
		return fmt.Errorf("client/store: append convo message: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// DmCursor returns peer's since_seq cursor for v1_mailbox_multirecv,
// 0 if the peer has never been polled.
func (s *Store) DmCursor(ctx context.Context, peer string) (uint64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT since_seq FROM dm_cursors WHERE peer = ?`, peer).Scan(&seq)
	if err != nil {
		return 0, nil
	}
	return uint64(seq), nil
}

// SetDmCursor persists peer's since_seq cursor.
func (s *Store) SetDmCursor(ctx context.Context, peer string, seq uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_cursors (peer, since_seq) VALUES (?, ?)
		ON CONFLICT (peer) DO UPDATE SET since_seq = excluded.since_seq
	`, peer, int64(seq))
	if err != nil {
		return fmt.Errorf("client/store: set dm cursor: %w", err)
	}
	return nil
}

// ListConvoMessages returns up to limit of peer's most recent messages
// in ascending local-id order (the order they were recorded).
func (s *Store) ListConvoMessages(ctx context.Context, peer string, limit int) ([]ConvoMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, peer, direction, kind, body, received_at, seq
		FROM (
			SELECT id, peer, direction, kind, body, received_at, seq
			FROM convo_messages WHERE peer = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, peer, limit)
	if err != nil {
		return nil, fmt.Errorf("client/store: list convo messages: %w", err)
	}
	defer rows.Close()
	var out []ConvoMessage
	for rows.Next() {
		var m ConvoMessage
		var direction string
		var seq int64
		if err := rows.Scan(&m.ID, &m.Peer, &direction, &m.Kind, &m.Body, &m.ReceivedAt, &seq); err != nil {
			return nil, err
		}
		m.Direction = ConvoDirection(direction)
		m.Seq = uint64(seq)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TrackedPeers returns every peer with a known cursor, the watch set
// for the DM receive loop's v1_mailbox_multirecv call.
func (s *Store) TrackedPeers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT peer FROM dm_cursors`)
	if err != nil {
		return nil, fmt.Errorf("client/store: tracked peers: %w", err)
	}
	defer rows.Close()
	var peers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
