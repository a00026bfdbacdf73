// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GroupState is one group's current AEAD key material, retaining the
// previous epoch's key for one epoch of overlap.
type GroupState struct {
	GroupID    []byte
	CurrentKey []byte
	PrevKey    []byte
	Epoch      uint64
	Members    []byte // canonical-encoded member list, opaque here
	RekeyedAt  int64
}

// LoadGroupState returns groupID's state, or nil if unknown.
func (s *Store) LoadGroupState(ctx context.Context, groupID []byte) (*GroupState, error) {
	var g GroupState
	var prev sql.NullString
	var epoch int64
	err := s.db.QueryRowContext(ctx, `
		SELECT group_id, current_key, prev_key, epoch, members, rekeyed_at FROM group_state WHERE group_id = ?
	`, groupID).Scan(&g.GroupID, &g.CurrentKey, &prev, &epoch, &g.Members, &g.RekeyedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("client/store: load group state: %w", err)
	}
	g.PrevKey = []byte(prev.String)
	g.Epoch = uint64(epoch)
	return &g, nil
}

// SaveGroupState upserts groupID's state.
func (s *Store) SaveGroupState(ctx context.Context, g GroupState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_state (group_id, current_key, prev_key, epoch, members, rekeyed_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (group_id) DO UPDATE SET current_key = excluded.current_key, prev_key = excluded.prev_key,
			epoch = excluded.epoch, members = excluded.members, rekeyed_at = excluded.rekeyed_at
	`, g.GroupID, g.CurrentKey, g.PrevKey, int64(g.Epoch), g.Members, g.RekeyedAt)
	if err != nil {
		return fmt.Errorf("client/store: save group state: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// ListGroupIDs returns every group this client currently tracks state
// for, the watch set for the group receive loop's v1_mailbox_multirecv
// call.
func (s *Store) ListGroupIDs(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_state`)
	if err != nil {
		return nil, fmt.Errorf("client/store: list group ids: %w", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GroupCursor returns groupID's since_seq cursor for
// v1_mailbox_multirecv, 0 if never polled.
func (s *Store) GroupCursor(ctx context.Context, groupID []byte) (uint64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT since_seq FROM group_cursors WHERE group_id = ?`, groupID).Scan(&seq)
	if err != nil {
		return 0, nil
	}
	return uint64(seq), nil
}

// SetGroupCursor persists groupID's since_seq cursor.
func (s *Store) SetGroupCursor(ctx context.Context, groupID []byte, seq uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_cursors (group_id, since_seq) VALUES (?, ?)
		ON CONFLICT (group_id) DO UPDATE SET since_seq = excluded.since_seq
	`, groupID, int64(seq))
	if err != nil {
		return fmt.Errorf("client/store: set group cursor: %w", err)
	}
	return nil
}
