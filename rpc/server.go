// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lattice-chat/lattice/internal/logger"
)

// Handler processes one decoded JSON-RPC call's params and returns a
// result to be marshaled back, or an error to be mapped through
// ErrorToResponse.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server dispatches incoming requests to registered method Handlers
// under a bounded Pool, downgrading any handler panic to RetryLater
// rather than letting it escape to the transport layer.
type Server struct {
	pool     *Pool
	methods  map[string]Handler
	endpoint string
}

// NewServer constructs a Server whose handlers run under a Pool bounded
// by maxConcurrency (DefaultServerMaxConcurrency if zero). endpoint
// labels the pool's advisory inflight counter for this listener.
func NewServer(endpoint string, maxConcurrency int) *Server {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultServerMaxConcurrency
	}
	return &Server{
		pool:     NewPool(maxConcurrency),
		methods:  make(map[string]Handler),
		endpoint: endpoint,
	}
}

// Register installs h as the handler for method. Registering the same
// method twice replaces the prior handler.
func (s *Server) Register(method string, h Handler) {
	s.methods[method] = h
}

// dispatch runs one request's handler under the pool, recovering any
// panic and degrading it to RetryLater: "any unexpected
// internal failure MUST be downgraded to RetryLater and logged, never
// propagated as panic."
func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	h, ok := s.methods[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	release := s.pool.Acquire(s.endpoint)
	defer release()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorMsg("rpc: handler panic", logger.String("method", req.Method), logger.String("panic", fmt.Sprint(r)))
			resp = NewErrorResponse(req.ID, CodeRetryLater, "retry later")
		}
	}()

	result, err := h(ctx, req.Params)
	if err != nil {
		return ErrorToResponse(req.ID, err)
	}
	built, merr := NewResultResponse(req.ID, result)
	if merr != nil {
		return NewErrorResponse(req.ID, CodeInternalError, "failed to marshal result")
	}
	return built
}

// Inflight returns the server pool's current advisory inflight count.
func (s *Server) Inflight() int64 {
	return s.pool.Inflight(s.endpoint)
}
