// SPDX-License-Identifier: LGPL-3.0-or-later

package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/wire"
)

func TestErrorToResponse_MapsWireSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"access denied", wire.ErrAccessDenied, CodeAccessDenied},
		{"bad request", wire.ErrBadRequest, CodeBadRequest},
		{"not found", wire.ErrNotFound, CodeNotFound},
		{"retry later", wire.ErrRetryLater, CodeRetryLater},
		{"unknown error downgrades", errors.New("boom"), CodeRetryLater},
	}
	for _, c := range cases {
		resp := ErrorToResponse("id", c.err)
		require.Equal(t, c.code, resp.Error.Code, c.name)
	}
}

func TestErrorToResponse_UpdateRejectedCarriesReason(t *testing.T) {
	resp := ErrorToResponse("id", wire.NewUpdateRejected("stale counter"))
	require.Equal(t, CodeUpdateRejected, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "stale counter")
}

func TestResponseToError_RoundTripsSentinels(t *testing.T) {
	require.ErrorIs(t, ResponseToError(&Error{Code: CodeAccessDenied}), wire.ErrAccessDenied)
	require.ErrorIs(t, ResponseToError(&Error{Code: CodeBadRequest}), wire.ErrBadRequest)
	require.ErrorIs(t, ResponseToError(&Error{Code: CodeNotFound}), wire.ErrNotFound)
	require.ErrorIs(t, ResponseToError(&Error{Code: CodeRetryLater}), wire.ErrRetryLater)
}

func TestResponseToError_NilIsNil(t *testing.T) {
	require.NoError(t, ResponseToError(nil))
}

func TestResponseToError_UpdateRejectedRoundTrip(t *testing.T) {
	err := ResponseToError(&Error{Code: CodeUpdateRejected, Message: "insufficient effort"})
	var rejected *wire.UpdateRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "insufficient effort", rejected.Reason)
}

func TestResponseToError_UnknownCodeReturnsErrorItself(t *testing.T) {
	e := &Error{Code: 9999, Message: "mystery"}
	err := ResponseToError(e)
	require.Equal(t, e, err)
}
