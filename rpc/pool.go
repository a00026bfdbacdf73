// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"sync"
	"sync/atomic"
)

// DefaultServerMaxConcurrency is the server-side pool's default bound
// on total in-flight dispatched requests.
const DefaultServerMaxConcurrency = 1024

// DefaultClientMaxConcurrency is the client-side pool's default bound
// on total in-flight outbound calls.
const DefaultClientMaxConcurrency = 1

// Pool bounds total in-flight work to MaxConcurrency, admitting callers
// via a buffered channel used as a counting semaphore (Go schedules
// blocked channel sends in roughly arrival order, giving FIFO-ish
// admission), and tracks a per-endpoint inflight counter purely for
// observability (it is not itself a limit).
type Pool struct {
	sem chan struct{}

	mu       sync.Mutex
	inflight map[string]*int64
}

// NewPool constructs a Pool admitting at most maxConcurrency concurrent
// callers.
func NewPool(maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Pool{
		sem:      make(chan struct{}, maxConcurrency),
		inflight: make(map[string]*int64),
	}
}

// counter returns (creating if needed) the inflight counter for endpoint.
func (p *Pool) counter(endpoint string) *int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.inflight[endpoint]
	if !ok {
		c = new(int64)
		p.inflight[endpoint] = c
	}
	return c
}

// Acquire blocks (FIFO via the channel's internal ordering guarantee is
// not strict, but admission is still bounded) until a slot is free,
// then increments endpoint's advisory inflight counter. The returned
// release func must be called exactly once.
func (p *Pool) Acquire(endpoint string) (release func()) {
	p.sem <- struct{}{}
	c := p.counter(endpoint)
	atomic.AddInt64(c, 1)
	return func() {
		atomic.AddInt64(c, -1)
		<-p.sem
	}
}

// Inflight returns the current advisory inflight count for endpoint.
func (p *Pool) Inflight(endpoint string) int64 {
	p.mu.Lock()
	c, ok := p.inflight[endpoint]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(c)
}
