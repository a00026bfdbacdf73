// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// httpRoundTripper sends one JSON-RPC request per HTTP POST. The
// standard library's *http.Client already reuses keep-alive connections
// per host, so no additional connection pooling is needed here.
type httpRoundTripper struct {
	client *http.Client
}

func newHTTPRoundTripper() RoundTripper {
	return &httpRoundTripper{client: &http.Client{Timeout: DefaultTimeout}}
}

func (t *httpRoundTripper) RoundTrip(ctx context.Context, endpoint *url.URL, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc: http round trip: %w", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("rpc: decode http response: %w", err)
	}
	return &resp, nil
}

func (t *httpRoundTripper) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// ServeHTTP adapts a *Server to net/http, decoding one JSON-RPC request
// per POST body and writing back the matching response, for the
// "http(s)" transport variant.
func ServeHTTP(s *Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "rpc: only POST is supported", http.StatusMethodNotAllowed)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			resp := NewErrorResponse("", CodeParseError, "parse error")
			writeJSON(w, resp)
			return
		}
		resp := s.dispatch(r.Context(), &req)
		writeJSON(w, resp)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
