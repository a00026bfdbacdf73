// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-chat/lattice/wire"
)

// mailboxWaiters tracks the latest known seq for one mailbox and a
// broadcast channel that's closed and replaced every time a new
// message arrives, so any number of long-poll waiters can block on it
// without a per-waiter goroutine.
type mailboxWaiters struct {
	mu      sync.Mutex
	seq     uint64
	wake    chan struct{}
	touched time.Time
}

// PubSub lets mailbox senders announce new seqs and lets long-poll
// receivers block until one of their watched mailboxes advances: a
// TTL map of per-mailbox waiter state, swept of idle entries by a
// background GC loop.
type PubSub struct {
	idleTTL time.Duration
	mu      sync.Mutex
	boxes   map[wire.MailboxId]*mailboxWaiters
	stop    chan struct{}
}

// DefaultIdleTTL is how long a mailbox's waiter state is kept after
// its last touch before the GC loop reclaims it.
const DefaultIdleTTL = time.Hour

// NewPubSub returns a PubSub and starts its background GC loop.
func NewPubSub(idleTTL time.Duration) *PubSub {
	p := &PubSub{
		idleTTL: idleTTL,
		boxes:   make(map[wire.MailboxId]*mailboxWaiters),
		stop:    make(chan struct{}),
	}
	go p.gcLoop()
	return p
}

func (p *PubSub) entry(mailboxID wire.MailboxId) *mailboxWaiters {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.boxes[mailboxID]
	if !ok {
		e = &mailboxWaiters{wake: make(chan struct{}), touched: time.Now()}
		p.boxes[mailboxID] = e
	}
	return e
}

// Announce records that mailboxID has advanced to seq and wakes any
// waiter blocked below it. A stale announcement (seq <= current) is a
// no-op.
func (p *PubSub) Announce(mailboxID wire.MailboxId, seq uint64) {
	e := p.entry(mailboxID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = time.Now()
	if seq <= e.seq {
		return
	}
	e.seq = seq
	close(e.wake)
	e.wake = make(chan struct{})
}

// WaitFor blocks until mailboxID's seq exceeds afterSeq, ctx is
// canceled, or deadline elapses, returning the observed seq and
// whether it advanced.
func (p *PubSub) WaitFor(ctx context.Context, mailboxID wire.MailboxId, afterSeq uint64) (uint64, bool) {
	for {
		e := p.entry(mailboxID)
		e.mu.Lock()
		if e.seq > afterSeq {
			seq := e.seq
			e.mu.Unlock()
			return seq, true
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return afterSeq, false
		}
	}
}

// Close stops the background GC loop.
func (p *PubSub) Close() {
	close(p.stop)
}

func (p *PubSub) gcLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for id, e := range p.boxes {
				e.mu.Lock()
				idle := e.touched.Before(cutoff)
				e.mu.Unlock()
				if idle {
					delete(p.boxes, id)
				}
			}
			p.mu.Unlock()
		case <-p.stop:
			return
		}
	}
}
