// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IdentityState mirrors the bootstrap state machine's three states:
// Absent → Provisioning → Ready.
type IdentityState string

const (
	StateAbsent       IdentityState = "absent"
	StateProvisioning IdentityState = "provisioning"
	StateReady        IdentityState = "ready"
)

// Identity is the client's singleton identity row. ServerName is the
// cached home-server name recorded at provisioning; the directory
// remains the source of truth and resolution never trusts the cache
// alone.
type Identity struct {
	Username               string
	ServerName             string
	SigningSeed            []byte
	DhSeed                 []byte
	MediumSkCurrent        []byte
	MediumPkCurrentCreated int64
	MediumSkPrev           []byte
	State                  IdentityState
}

// ErrNoIdentity is returned by LoadIdentity when no identity row has
// been written yet (state Absent).
var ErrNoIdentity = errors.New("client/store: no identity")

// LoadIdentity returns the singleton identity row, or ErrNoIdentity if
// absent.
func (s *Store) LoadIdentity(ctx context.Context) (*Identity, error) {
	var id Identity
	var serverName, mediumSk, mediumPrev sql.NullString
	var mediumCreated sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT username, server_name, signing_seed, dh_seed, medium_sk_current, medium_pk_current_created, medium_sk_prev, state
		FROM client_identity WHERE id = 1
	`).Scan(&id.Username, &serverName, &id.SigningSeed, &id.DhSeed, &mediumSk, &mediumCreated, &mediumPrev, &id.State)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("client/store: load identity: %w", err)
	}
	id.ServerName = serverName.String
	id.MediumSkCurrent = []byte(mediumSk.String)
	id.MediumPkCurrentCreated = mediumCreated.Int64
	id.MediumSkPrev = []byte(mediumPrev.String)
	return &id, nil
}

// CreateIdentity writes the singleton identity row in Provisioning
// state, transitioning Absent → Provisioning.
func (s *Store) CreateIdentity(ctx context.Context, username, serverName string, signingSeed, dhSeed []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_identity (id, username, server_name, signing_seed, dh_seed, state) VALUES (1, ?, ?, ?, ?, ?)
	`, username, serverName, signingSeed, dhSeed, string(StateProvisioning))
	if err != nil {
		return fmt.Errorf("client/store: create identity: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// SetMediumKeys atomically updates the current/previous medium-term
// DH secrets, transitioning Provisioning → Ready the first time it's
// called (Ready means the first medium-pk has been registered with
// the home server).
func (s *Store) SetMediumKeys(ctx context.Context, current, prev []byte, createdAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_identity
		SET medium_sk_current = ?, medium_pk_current_created = ?, medium_sk_prev = ?,
		    state = CASE WHEN state = ? THEN ? ELSE state END
		WHERE id = 1
	`, current, createdAt, prev, string(StateProvisioning), string(StateReady))
	if err != nil {
		return fmt.Errorf("client/store: set medium keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("client/store: set medium keys: %w", err)
	}
	if n == 0 {
		return ErrNoIdentity
	}
	s.Notifier.Bump()
	return nil
}
