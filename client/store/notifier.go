// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// Notifier is the client's single process-wide change generation
// counter: every write of user-visible state (client_identity,
// convo_messages, send_queue) bumps it and wakes all waiters, letting
// UI/worker code replace polling with "wait until changed since my
// last-seen generation".
type Notifier struct {
	mu   sync.Mutex
	gen  uint64
	wake chan struct{}
}

// NewNotifier returns a Notifier starting at generation 0.
func NewNotifier() *Notifier {
	return &Notifier{wake: make(chan struct{})}
}

// Bump advances the generation counter and wakes every current waiter.
func (n *Notifier) Bump() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	close(n.wake)
	n.wake = make(chan struct{})
}

// Generation returns the current generation.
func (n *Notifier) Generation() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// WaitChanged blocks until the generation counter exceeds lastSeen or
// ctx is done, returning the observed generation.
func (n *Notifier) WaitChanged(ctx context.Context, lastSeen uint64) uint64 {
	for {
		n.mu.Lock()
		if n.gen > lastSeen {
			gen := n.gen
			n.mu.Unlock()
			return gen
		}
		wake := n.wake
		n.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return lastSeen
		}
	}
}
