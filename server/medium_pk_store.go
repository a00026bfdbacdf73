// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-chat/lattice/wire"
)

// MediumPkStore persists each device's current and immediately
// previous medium-term DH public key ("replace any previous
// medium pk for that device; retain the immediately previous one for
// overlap").
type MediumPkStore struct {
	db *pgxpool.Pool
}

// MediumPkRow is one device's stored medium-key state.
type MediumPkRow struct {
	Current wire.SignedMediumPk
	Prev    *wire.SignedMediumPk
}

// Add installs newPk as devicePkHash's current medium key, demoting
// the previous current key to prev and discarding anything older: the
// retention window is exactly one generation of overlap.
func (s *MediumPkStore) Add(ctx context.Context, devicePkHash [32]byte, newPk wire.SignedMediumPk) error {
	existing, err := s.Load(ctx, devicePkHash)
	if err != nil {
		return err
	}

	var prevBytes []byte
	if existing != nil {
		prevBytes = wire.EncodeSignedMediumPk(existing.Current)
	}
	curBytes := wire.EncodeSignedMediumPk(newPk)

	_, err = s.db.Exec(ctx, `
		INSERT INTO medium_pks (device_pk, signed_bytes, prev_bytes, created) VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_pk) DO UPDATE SET signed_bytes = EXCLUDED.signed_bytes, prev_bytes = EXCLUDED.prev_bytes, created = EXCLUDED.created
	`, devicePkHash[:], curBytes, prevBytes, int64(newPk.Created))
	if err != nil {
		return fmt.Errorf("server: add medium pk: %w", err)
	}
	return nil
}

// Load returns devicePkHash's current/previous medium-key row, or nil
// if the device has never registered one.
func (s *MediumPkStore) Load(ctx context.Context, devicePkHash [32]byte) (*MediumPkRow, error) {
	var curBytes, prevBytes []byte
	err := s.db.QueryRow(ctx, `SELECT signed_bytes, prev_bytes FROM medium_pks WHERE device_pk = $1`, devicePkHash[:]).Scan(&curBytes, &prevBytes)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("server: load medium pk: %w", err)
	}

	cur, err := wire.DecodeSignedMediumPk(curBytes)
	if err != nil {
		return nil, err
	}
	row := &MediumPkRow{Current: cur}
	if len(prevBytes) > 0 {
		prev, err := wire.DecodeSignedMediumPk(prevBytes)
		if err != nil {
			return nil, err
		}
		row.Prev = &prev
	}
	return row, nil
}
