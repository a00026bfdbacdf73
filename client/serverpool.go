// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// DefaultServerClientIdleTTL is how long an unused per-server RPC
// client is kept before the pool's GC loop closes and evicts it.
const DefaultServerClientIdleTTL = 12 * time.Hour

type serverPoolEntry struct {
	client  *rpc.Client
	touched time.Time
}

// ServerPool caches one rpc.Client per home server the client has
// recently talked to, so repeated sends/polls to the same peer's
// server reuse a connection instead of dialing fresh each time: a
// TTL map swept by a background GC loop, same shape as the server's
// mailbox PubSub eviction.
type ServerPool struct {
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[wire.ServerName]*serverPoolEntry

	stop chan struct{}
}

// NewServerPool returns a ServerPool and starts its background GC loop.
func NewServerPool(idleTTL time.Duration) *ServerPool {
	if idleTTL <= 0 {
		idleTTL = DefaultServerClientIdleTTL
	}
	p := &ServerPool{
		idleTTL: idleTTL,
		clients: make(map[wire.ServerName]*serverPoolEntry),
		stop:    make(chan struct{}),
	}
	go p.gcLoop()
	return p
}

// Get returns the cached client for desc.ServerName, dialing a fresh
// one against desc's first public URL if none is cached or the cached
// one has been evicted.
func (p *ServerPool) Get(desc *wire.ServerDescriptor) (*rpc.Client, error) {
	if len(desc.PublicUrls) == 0 {
		return nil, fmt.Errorf("client: server pool: %s has no public urls", desc.ServerName)
	}

	p.mu.Lock()
	if e, ok := p.clients[desc.ServerName]; ok {
		e.touched = time.Now()
		p.mu.Unlock()
		return e.client, nil
	}
	p.mu.Unlock()

	rc, err := rpc.NewClient(desc.PublicUrls[0], 1)
	if err != nil {
		return nil, fmt.Errorf("client: server pool: dial %s: %w", desc.ServerName, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.clients[desc.ServerName]; ok {
		// Lost the race to a concurrent Get; keep the existing client
		// and drop the one we just dialed.
		_ = rc.Close()
		e.touched = time.Now()
		return e.client, nil
	}
	p.clients[desc.ServerName] = &serverPoolEntry{client: rc, touched: time.Now()}
	return rc, nil
}

// Close stops the GC loop and closes every cached client.
func (p *ServerPool) Close() {
	close(p.stop)
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, e := range p.clients {
		_ = e.client.Close()
		delete(p.clients, name)
	}
}

func (p *ServerPool) gcLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for name, e := range p.clients {
				if e.touched.Before(cutoff) {
					_ = e.client.Close()
					delete(p.clients, name)
				}
			}
			p.mu.Unlock()
		case <-p.stop:
			return
		}
	}
}
