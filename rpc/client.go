// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Client issues JSON-RPC calls against a single endpoint over whichever
// RoundTripper its scheme resolves to, bounding its own outbound
// concurrency with a Pool (DefaultClientMaxConcurrency by default, per
// "client default 1").
type Client struct {
	endpoint *url.URL
	rt       RoundTripper
	pool     *Pool
}

// NewClient resolves rawEndpoint's transport scheme and constructs a
// Client bound to it.
func NewClient(rawEndpoint string, maxConcurrency int) (*Client, error) {
	u, err := url.Parse(rawEndpoint)
	if err != nil {
		return nil, fmt.Errorf("rpc: parse endpoint %q: %w", rawEndpoint, err)
	}
	rt, err := NewRoundTripper(u)
	if err != nil {
		return nil, err
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultClientMaxConcurrency
	}
	return &Client{endpoint: u, rt: rt, pool: NewPool(maxConcurrency)}, nil
}

// Call invokes method with params and decodes the result into out (if
// non-nil). A server-side error is surfaced via ResponseToError so
// callers can match it against the wire.Err* sentinels.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	release := c.pool.Acquire(c.endpoint.String())
	defer release()

	req, err := NewRequest(method, params, "")
	if err != nil {
		return err
	}
	resp, err := c.rt.RoundTrip(ctx, c.endpoint, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.Error != nil {
		return ResponseToError(resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("rpc: unmarshal result for %s: %w", method, err)
	}
	return nil
}

// Inflight returns this client's current advisory inflight count.
func (c *Client) Inflight() int64 {
	return c.pool.Inflight(c.endpoint.String())
}

// Endpoint returns the endpoint URL this client was constructed for.
func (c *Client) Endpoint() *url.URL {
	return c.endpoint
}

// Close releases any pooled connections held by the underlying transport.
func (c *Client) Close() error {
	return c.rt.Close()
}
