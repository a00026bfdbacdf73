// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"

	"github.com/lattice-chat/lattice/wire"
)

// EventKind tags a UI-facing event.
type EventKind string

const (
	// EventMessage fires when a decrypted message lands in
	// convo_messages.
	EventMessage EventKind = "message"
	// EventIdentity fires when local_provision has provisioned the
	// identity (Detail carries the new state). Medium-key rotation
	// publishes no event.
	EventIdentity EventKind = "identity"
	// EventSendFailed fires when a send_queue row reaches a terminal
	// failure.
	EventSendFailed EventKind = "send_failed"
)

// Event is one UI-facing notification. Peer is set for EventMessage and
// EventSendFailed; Detail carries the human-readable tail (send_error
// text, new identity state).
type Event struct {
	Kind   EventKind
	Peer   string
	Seq    uint64
	Detail string
}

// Events is the bounded UI delivery channel the event loop drains
// into: worker loops publish without blocking (a slow or absent UI
// drops the oldest pending event, never stalls a receive loop), and
// the UI consumes from Out.
type Events struct {
	feed chan Event
	out  chan Event
}

// DefaultEventBuffer bounds how many undelivered events are held before
// the oldest is dropped.
const DefaultEventBuffer = 256

// NewEvents returns an Events with the given Out buffer size
// (DefaultEventBuffer if <= 0).
func NewEvents(buffer int) *Events {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Events{
		feed: make(chan Event, buffer),
		out:  make(chan Event, buffer),
	}
}

// Publish enqueues ev for the event loop without ever blocking the
// caller: when the feed is full the oldest pending event is discarded
// to make room. Safe on a nil receiver so worker code can publish
// unconditionally.
func (e *Events) Publish(ev Event) {
	if e == nil {
		return
	}
	for {
		select {
		case e.feed <- ev:
			return
		default:
		}
		select {
		case <-e.feed:
		default:
		}
	}
}

// Out is the channel the UI consumes delivered events from.
func (e *Events) Out() <-chan Event {
	return e.out
}

// RunEventLoop moves published events onto Out until ctx is cancelled,
// applying the same drop-oldest policy when the UI falls behind.
func (e *Events) RunEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.feed:
			for {
				select {
				case e.out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				default:
					select {
					case <-e.out:
					default:
					}
					continue
				}
				break
			}
		}
	}
}

// publishMessage is the worker loops' shorthand for an inbound-message
// event.
func (e *Events) publishMessage(peer wire.UserName, seq uint64) {
	e.Publish(Event{Kind: EventMessage, Peer: peer.String(), Seq: seq})
}
