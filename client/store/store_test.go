// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_IdentityBootstrap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.LoadIdentity(ctx)
	require.ErrorIs(t, err, ErrNoIdentity)

	require.NoError(t, s.CreateIdentity(ctx, "@bob_02", "@home01", []byte("signing-seed"), []byte("dh-seed")))

	id, err := s.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, "@bob_02", id.Username)
	require.Equal(t, "@home01", id.ServerName)
	require.Equal(t, StateProvisioning, id.State)

	require.NoError(t, s.SetMediumKeys(ctx, []byte("medium-current"), nil, 1000))

	id, err = s.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, id.State)
	require.Equal(t, []byte("medium-current"), id.MediumSkCurrent)

	// A second rotation keeps the state Ready and rolls current->prev.
	require.NoError(t, s.SetMediumKeys(ctx, []byte("medium-next"), []byte("medium-current"), 2000))
	id, err = s.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, id.State)
	require.Equal(t, []byte("medium-next"), id.MediumSkCurrent)
	require.Equal(t, []byte("medium-current"), id.MediumSkPrev)
}

func TestStore_SetMediumKeysWithoutIdentity(t *testing.T) {
	s := openTestStore(t)
	err := s.SetMediumKeys(context.Background(), []byte("k"), nil, 1)
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestStore_ConvoMessagesAndCursors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	seq, err := s.DmCursor(ctx, "@alice_01")
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, s.AppendConvoMessage(ctx, ConvoMessage{
		Peer:       "@alice_01",
		Direction:  DirectionInbound,
		Kind:       "v1.direct_message",
		Body:       []byte("hi"),
		ReceivedAt: 100,
		Seq:        1,
	}))

	require.NoError(t, s.SetDmCursor(ctx, "@alice_01", 1))
	seq, err = s.DmCursor(ctx, "@alice_01")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	peers, err := s.TrackedPeers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"@alice_01"}, peers)
}

func TestStore_SendQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Enqueue(ctx, "@alice_01", []byte("mbox"), "v1.direct_message", []byte("hi"), "idem-1"))
	// Re-enqueueing the same idempotency key is a no-op, not a duplicate.
	require.NoError(t, s.Enqueue(ctx, "@alice_01", []byte("mbox"), "v1.direct_message", []byte("hi"), "idem-1"))

	rows, err := s.DueSendQueueRows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "@alice_01", rows[0].Recipient)

	require.NoError(t, s.ScheduleRetry(ctx, rows[0].ID, 500))
	due, err := s.DueSendQueueRows(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = s.DueSendQueueRows(ctx, 500)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, 1, due[0].Attempts)

	require.NoError(t, s.MarkFailed(ctx, rows[0].ID, "access denied"))
	due, err = s.DueSendQueueRows(ctx, 500)
	require.NoError(t, err)
	require.Empty(t, due, "failed rows are never retried")

	require.NoError(t, s.Enqueue(ctx, "@carol_03", []byte("mbox2"), "v1.direct_message", []byte("yo"), "idem-2"))
	rows, err = s.DueSendQueueRows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, s.MarkSent(ctx, rows[0].ID))
	rows, err = s.DueSendQueueRows(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_GroupStateAndCursors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	groupID := []byte("group-1")

	g, err := s.LoadGroupState(ctx, groupID)
	require.NoError(t, err)
	require.Nil(t, g)

	require.NoError(t, s.SaveGroupState(ctx, GroupState{
		GroupID:    groupID,
		CurrentKey: []byte("key-v1"),
		Epoch:      1,
		Members:    []byte("roster-v1"),
	}))

	g, err = s.LoadGroupState(ctx, groupID)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Equal(t, []byte("key-v1"), g.CurrentKey)
	require.EqualValues(t, 1, g.Epoch)

	require.NoError(t, s.SaveGroupState(ctx, GroupState{
		GroupID:    groupID,
		CurrentKey: []byte("key-v2"),
		PrevKey:    []byte("key-v1"),
		Epoch:      2,
		Members:    []byte("roster-v1"),
	}))
	g, err = s.LoadGroupState(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, []byte("key-v2"), g.CurrentKey)
	require.Equal(t, []byte("key-v1"), g.PrevKey)

	ids, err := s.ListGroupIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, s.SetGroupCursor(ctx, groupID, 7))
	seq, err := s.GroupCursor(ctx, groupID)
	require.NoError(t, err)
	require.EqualValues(t, 7, seq)
}

func TestStore_DirectoryCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok := s.LoadDirectoryCache(ctx, "@alice_01")
	require.False(t, ok)

	require.NoError(t, s.SaveDirectoryCache(ctx, "@alice_01", []byte("record-bytes"), 42))
	entry, ok := s.LoadDirectoryCache(ctx, "@alice_01")
	require.True(t, ok)
	require.Equal(t, []byte("record-bytes"), entry.RecordBytes)
	require.EqualValues(t, 42, entry.CachedAt)
}

func TestStore_WritesBumpNotifier(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	gen0 := s.Notifier.Generation()
	require.NoError(t, s.CreateIdentity(ctx, "@bob_02", "@home01", []byte("s"), []byte("d")))
	require.Greater(t, s.Notifier.Generation(), gen0)
}
