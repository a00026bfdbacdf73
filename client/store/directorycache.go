// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
)

// DirectoryCacheEntry is one persisted verified-descriptor cache row.
type DirectoryCacheEntry struct {
	RecordBytes []byte
	CachedAt    int64
}

// LoadDirectoryCache returns key's cached entry, or (zero, false) if
// absent.
func (s *Store) LoadDirectoryCache(ctx context.Context, key string) (DirectoryCacheEntry, bool) {
	var e DirectoryCacheEntry
	err := s.db.QueryRowContext(ctx, `SELECT record_bytes, cached_at FROM directory_cache WHERE key = ?`, key).
		Scan(&e.RecordBytes, &e.CachedAt)
	if err != nil {
		return DirectoryCacheEntry{}, false
	}
	return e, true
}

// SaveDirectoryCache upserts key's cached descriptor bytes.
func (s *Store) SaveDirectoryCache(ctx context.Context, key string, recordBytes []byte, cachedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO directory_cache (key, record_bytes, cached_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET record_bytes = excluded.record_bytes, cached_at = excluded.cached_at
	`, key, recordBytes, cachedAt)
	if err != nil {
		return fmt.Errorf("client/store: save directory cache: %w", err)
	}
	return nil
}
