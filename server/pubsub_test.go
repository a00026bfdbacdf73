// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/wire"
)

func TestPubSub_WaitForReturnsImmediatelyWhenAlreadyAdvanced(t *testing.T) {
	p := NewPubSub(DefaultIdleTTL)
	defer p.Close()

	var mbox wire.MailboxId
	mbox[0] = 1
	p.Announce(mbox, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seq, advanced := p.WaitFor(ctx, mbox, 3)
	require.True(t, advanced)
	require.EqualValues(t, 5, seq)
}

func TestPubSub_WaitForWakesOnAnnounce(t *testing.T) {
	p := NewPubSub(DefaultIdleTTL)
	defer p.Close()

	var mbox wire.MailboxId
	mbox[0] = 2

	done := make(chan uint64, 1)
	go func() {
		seq, advanced := p.WaitFor(context.Background(), mbox, 0)
		require.True(t, advanced)
		done <- seq
	}()

	time.Sleep(10 * time.Millisecond)
	p.Announce(mbox, 1)

	select {
	case seq := <-done:
		require.EqualValues(t, 1, seq)
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not wake on Announce")
	}
}

func TestPubSub_WaitForRespectsContextCancellation(t *testing.T) {
	p := NewPubSub(DefaultIdleTTL)
	defer p.Close()

	var mbox wire.MailboxId
	mbox[0] = 3

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	seq, advanced := p.WaitFor(ctx, mbox, 0)
	require.False(t, advanced)
	require.Zero(t, seq)
}

func TestPubSub_StaleAnnounceIsNoop(t *testing.T) {
	p := NewPubSub(DefaultIdleTTL)
	defer p.Close()

	var mbox wire.MailboxId
	mbox[0] = 4
	p.Announce(mbox, 10)
	p.Announce(mbox, 3) // stale, must not regress

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seq, advanced := p.WaitFor(ctx, mbox, 9)
	require.True(t, advanced)
	require.EqualValues(t, 10, seq)
}
