// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/rpc"
)

// workerRestartDelay is how long the worker loop waits before
// rebuilding its task set after one of its loops exits with an error
// (its own error, not a cancellation).
const workerRestartDelay = time.Second

// Deps carries the typed handles a Client is built from, constructed
// once at process start and injected rather than reached for as
// process globals.
type Deps struct {
	Store     *store.Store
	Directory *DirectoryClient
	Servers   *ServerPool
	Events    *Events
	Clock     func() time.Time
}

// Client is the end-user client's cooperative task set: a local
// RPC surface for the UI/CLI, an event loop feeding the UI's bounded
// channel, and a worker loop that runs the convo loops and medium-key
// rotation once an identity exists.
type Client struct {
	deps  Deps
	local *rpc.Server
}

// New constructs a Client and registers its local RPC surface.
func New(deps Deps) *Client {
	c := &Client{
		deps:  deps,
		local: rpc.NewServer("client-local", 0),
	}
	c.registerLocalRPC()
	return c
}

// LocalRPC returns the client's local RPC dispatcher, for callers that
// serve it on a transport of their own instead of passing a listener
// to Run.
func (c *Client) LocalRPC() *rpc.Server {
	return c.local
}

// Run races the client's three top-level loops — rpc_loop, event_loop,
// worker_loop — until ctx is cancelled or one of them fails.
// ln, if non-nil, is the listener the local RPC surface is served on;
// a nil ln runs without one (tests, or an embedding UI that dispatches
// against LocalRPC directly).
func (c *Client) Run(ctx context.Context, ln net.Listener) error {
	loops := []func(context.Context) error{
		c.eventLoop,
		c.workerLoop,
	}
	if ln != nil {
		loops = append(loops, func(ctx context.Context) error {
			return c.rpcLoop(ctx, ln)
		})
	}
	return Race(ctx, loops...)
}

// rpcLoop serves the local RPC surface on ln until ctx is cancelled.
func (c *Client) rpcLoop(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: rpc.ServeHTTP(c.local)}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}
}

// eventLoop drains published worker events into the UI's bounded
// channel.
func (c *Client) eventLoop(ctx context.Context) error {
	if c.deps.Events == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.deps.Events.RunEventLoop(ctx)
}

// workerLoop only runs once an identity exists in the local store:
// in Absent it blocks on the store's change notifier, then on
// every pass it loads the identity fresh and races
// convo_loop = send ⊕ dm_recv ⊕ group_recv ⊕ group_rekey against
// medium_key_loop. When a loop exits with its own error (a home server
// outage, say) the whole set is torn down, the identity reloaded, and
// the set rebuilt after a short delay.
func (c *Client) workerLoop(ctx context.Context) error {
	for {
		li, err := c.awaitIdentity(ctx)
		if err != nil {
			return err
		}

		d := &SendDeps{
			Store:     c.deps.Store,
			Directory: c.deps.Directory,
			Servers:   c.deps.Servers,
			Auth:      NewAuthCache(li),
			Identity:  li,
			Events:    c.deps.Events,
			Clock:     c.deps.Clock,
		}

		err = Race(ctx,
			func(ctx context.Context) error { return runConvoLoop(ctx, d) },
			func(ctx context.Context) error { return RunMediumKeyLoop(ctx, d) },
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workerRestartDelay):
		}
	}
}

// runConvoLoop races the four conversation loops as siblings; the
// first to exit tears the other three down.
func runConvoLoop(ctx context.Context, d *SendDeps) error {
	return Race(ctx,
		func(ctx context.Context) error { return RunSendLoop(ctx, d) },
		func(ctx context.Context) error { return RunDmRecvLoop(ctx, d) },
		func(ctx context.Context) error { return RunGroupRecvLoop(ctx, d) },
		func(ctx context.Context) error { return RunGroupRekeyLoop(ctx, d) },
	)
}

// awaitIdentity blocks until the local store holds an identity row,
// waking on the store's change notifier rather than polling
// (Absent → Provisioning happens on the UI's identity-creation RPC,
// observed here as a store write).
func (c *Client) awaitIdentity(ctx context.Context) (*LoadedIdentity, error) {
	for {
		gen := c.deps.Store.Notifier.Generation()
		li, err := LoadIdentity(ctx, c.deps.Store)
		if err == nil {
			return li, nil
		}
		if !errors.Is(err, store.ErrNoIdentity) {
			return nil, err
		}
		c.deps.Store.Notifier.WaitChanged(ctx, gen)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}
