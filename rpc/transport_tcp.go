// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/lattice-chat/lattice/wire"
)

// tcpRoundTripper sends each JSON-RPC request as one length-prefixed
// (or LZ4-compressed length-prefixed) frame. Connections are cached per
// host and reused across calls, avoiding a TCP handshake on every call.
type tcpRoundTripper struct {
	lz4 bool

	mu    sync.Mutex
	conns map[string]net.Conn
}

func newTCPRoundTripper(lz4 bool) RoundTripper {
	return &tcpRoundTripper{lz4: lz4, conns: make(map[string]net.Conn)}
}

func (t *tcpRoundTripper) RoundTrip(ctx context.Context, endpoint *url.URL, req *Request) (*Response, error) {
	conn, err := t.connFor(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	writeFrame := wire.WriteFrame
	readFrame := wire.ReadFrame
	if t.lz4 {
		writeFrame = wire.WriteLZ4Frame
		readFrame = wire.ReadLZ4Frame
	}

	if err := writeFrame(conn, body); err != nil {
		t.drop(endpoint)
		return nil, fmt.Errorf("rpc: write frame: %w", err)
	}
	respBytes, err := readFrame(conn)
	if err != nil {
		t.drop(endpoint)
		return nil, fmt.Errorf("rpc: read frame: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal response frame: %w", err)
	}
	return &resp, nil
}

func (t *tcpRoundTripper) connFor(ctx context.Context, endpoint *url.URL) (net.Conn, error) {
	t.mu.Lock()
	conn, ok := t.conns[endpoint.Host]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := dialTCP(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", endpoint.Host, err)
	}
	t.mu.Lock()
	t.conns[endpoint.Host] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *tcpRoundTripper) drop(endpoint *url.URL) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[endpoint.Host]; ok {
		_ = conn.Close()
		delete(t.conns, endpoint.Host)
	}
}

func (t *tcpRoundTripper) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for host, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, host)
	}
	return firstErr
}

// ServeTCP accepts connections on ln, reading one length-prefixed (or
// lz4tcp) JSON-RPC request per frame and dispatching it to s. Each
// connection is served by its own goroutine; each request on a
// connection is dispatched independently so a slow long-poll request
// does not block a later pipelined request on the same connection.
func ServeTCP(ctx context.Context, ln net.Listener, s *Server, lz4 bool) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go serveTCPConn(ctx, conn, s, lz4)
	}
}

func serveTCPConn(ctx context.Context, conn net.Conn, s *Server, lz4 bool) {
	defer conn.Close()

	readFrame := wire.ReadFrame
	writeFrame := wire.WriteFrame
	if lz4 {
		readFrame = wire.ReadLZ4Frame
		writeFrame = wire.WriteLZ4Frame
	}

	var writeMu sync.Mutex
	for {
		reqBytes, err := readFrame(conn)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(reqBytes, &req); err != nil {
			resp := NewErrorResponse("", CodeParseError, "parse error")
			respBytes, _ := json.Marshal(resp)
			writeMu.Lock()
			_ = writeFrame(conn, respBytes)
			writeMu.Unlock()
			continue
		}

		go func(req Request) {
			resp := s.dispatch(ctx, &req)
			respBytes, err := json.Marshal(resp)
			if err != nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = writeFrame(conn, respBytes)
		}(req)
	}
}
