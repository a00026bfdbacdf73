// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"errors"

	"github.com/lattice-chat/lattice/internal/logger"
	"github.com/lattice-chat/lattice/wire"
)

// ErrTransport wraps any connection/timeout-level failure from a
// RoundTripper, distinguishing it from a decoded JSON-RPC error
// response. It is always retryable; callers typically treat it the
// same way as wire.ErrRetryLater.
var ErrTransport = errors.New("rpc: transport error")

// ErrorToResponse converts an internal error into the JSON-RPC error
// object a server handler should return, mapping the wire.Err* taxonomy
// to its application-level code and logging and downgrading everything
// else to RetryLater, per the "never propagate an unexpected internal
// failure" rule. Handler panics never reach here: Server.dispatch
// recovers them and builds its own RetryLater response.
func ErrorToResponse(id string, err error) *Response {
	var rejected *wire.UpdateRejected
	switch {
	case errors.As(err, &rejected):
		return NewErrorResponse(id, CodeUpdateRejected, rejected.Error())
	case errors.Is(err, wire.ErrAccessDenied):
		return NewErrorResponse(id, CodeAccessDenied, "access denied")
	case errors.Is(err, wire.ErrBadRequest):
		return NewErrorResponse(id, CodeBadRequest, err.Error())
	case errors.Is(err, wire.ErrNotFound):
		return NewErrorResponse(id, CodeNotFound, "not found")
	case errors.Is(err, wire.ErrRetryLater):
		return NewErrorResponse(id, CodeRetryLater, "retry later")
	default:
		logger.ErrorMsg("rpc: unexpected handler error", logger.Error(err))
		return NewErrorResponse(id, CodeRetryLater, "retry later")
	}
}

// ResponseToError converts a received JSON-RPC error object back into
// one of the wire.Err* sentinels so client-side callers can use
// errors.Is against the same taxonomy the server enforced.
func ResponseToError(e *Error) error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case CodeAccessDenied:
		return wire.ErrAccessDenied
	case CodeBadRequest:
		return wire.ErrBadRequest
	case CodeNotFound:
		return wire.ErrNotFound
	case CodeRetryLater:
		return wire.ErrRetryLater
	case CodeUpdateRejected:
		return wire.NewUpdateRejected(e.Message)
	default:
		return e
	}
}
