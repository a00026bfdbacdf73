// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvents_DeliveryOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := NewEvents(8)
	go ev.RunEventLoop(ctx)

	ev.Publish(Event{Kind: EventMessage, Peer: "@alice_01", Seq: 1})
	ev.Publish(Event{Kind: EventMessage, Peer: "@alice_01", Seq: 2})

	first := <-ev.Out()
	second := <-ev.Out()
	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
}

func TestEvents_PublishNeverBlocks(t *testing.T) {
	ev := NewEvents(4)
	// No event loop running and no consumer: publishing far past the
	// buffer must still return promptly, dropping the oldest.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			ev.Publish(Event{Kind: EventMessage, Seq: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestEvents_NilSinkIsSafe(t *testing.T) {
	var ev *Events
	require.NotPanics(t, func() {
		ev.Publish(Event{Kind: EventIdentity})
	})
}
