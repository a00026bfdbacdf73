// SPDX-License-Identifier: LGPL-3.0-or-later

// Package rpc implements the JSON-RPC 2.0 call envelope shared by the
// directory, server, and client over three interchangeable transports
// (http(s), raw tcp, lz4-compressed tcp), plus the inflight-bounded
// dispatch pool both RPC servers run their handlers under.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the JSON-RPC version string every request/response
// envelope carries.
const ProtocolVersion = "2.0"

// Request is a JSON-RPC 2.0 call envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// NewRequest builds a Request for method with params marshaled to JSON.
// If id is empty, a fresh UUID is minted so the caller can correlate
// the response.
func NewRequest(method string, params any, id string) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params for %s: %w", method, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Request{JSONRPC: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes for the wire taxonomy in wire/errors.go. These are
// application-level codes layered over the JSON-RPC envelope, not the
// JSON-RPC reserved -32xxx range (reserved for framing-level issues:
// parse error, invalid request, method not found, invalid params).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAccessDenied   = 1001
	CodeRetryLater     = 1002
	CodeBadRequest     = 1003
	CodeNotFound       = 1004
	CodeUpdateRejected = 1005
)

// Response is a JSON-RPC 2.0 response envelope: exactly one of Result
// or Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// NewResultResponse builds a successful Response for the given request id.
func NewResultResponse(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal result: %w", err)
	}
	return &Response{JSONRPC: ProtocolVersion, Result: raw, ID: id}, nil
}

// NewErrorResponse builds a failed Response for the given request id.
func NewErrorResponse(id string, code int, message string) *Response {
	return &Response{JSONRPC: ProtocolVersion, Error: &Error{Code: code, Message: message}, ID: id}
}
