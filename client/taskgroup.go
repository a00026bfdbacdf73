// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Race runs every fn concurrently under one cancellation scope. As
// soon as any fn returns, the others' context is cancelled and Race
// waits for all of them to unwind before returning — the "race"
// composition used for convo_loop (send, dm_recv, group_recv,
// group_rekey) and the top-level rpc/event/worker loop set. No
// background tasks may leak on shutdown, so Race always blocks until
// every fn has actually returned, not just until the first one has.
func Race(ctx context.Context, fns ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			defer cancel()
			return fn(gctx)
		})
	}
	return g.Wait()
}
