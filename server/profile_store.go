// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-chat/lattice/wire"
)

// ProfileStore persists the server's cached signed UserProfile per
// username, published by one of the user's own devices and served
// to anyone calling v1_profile.
type ProfileStore struct {
	db *pgxpool.Pool
}

// Load returns username's stored profile, or nil if none was ever
// published.
func (p *ProfileStore) Load(ctx context.Context, username wire.UserName) (*wire.UserProfile, error) {
	var b []byte
	err := p.db.QueryRow(ctx, `SELECT bytes FROM user_profiles WHERE username = $1`, username.String()).Scan(&b)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("server: load profile: %w", err)
	}
	return decodeUserProfile(b)
}

// Store upserts username's profile.
func (p *ProfileStore) Store(ctx context.Context, username wire.UserName, profile *wire.UserProfile) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO user_profiles (username, bytes) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET bytes = EXCLUDED.bytes
	`, username.String(), wire.EncodeSignedRecord(profile))
	if err != nil {
		return fmt.Errorf("server: store profile: %w", err)
	}
	return nil
}

func decodeUserProfile(b []byte) (*wire.UserProfile, error) {
	if len(b) < 64 {
		return nil, fmt.Errorf("server: profile record too short")
	}
	d := wire.NewDecoder(b[:len(b)-64])
	username, err := d.Str()
	if err != nil {
		return nil, err
	}
	displayName, err := d.Str()
	if err != nil {
		return nil, err
	}
	avatarHash, err := d.Bytes32()
	if err != nil {
		return nil, err
	}
	updatedAt, err := d.I64()
	if err != nil {
		return nil, err
	}
	out := &wire.UserProfile{
		Username:    wire.UserName(username),
		DisplayName: displayName,
		UpdatedAt:   wire.Timestamp(updatedAt),
	}
	copy(out.AvatarHash[:], avatarHash)
	copy(out.Signature[:], b[len(b)-64:])
	return out, nil
}
