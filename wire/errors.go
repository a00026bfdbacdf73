// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import "errors"

// The RPC error taxonomy exposed on the wire. AccessDenied and NotFound
// stay deliberately generic in their message text; callers must not
// append detail that would let a caller distinguish "wrong password"
// from "no such user".
var (
	ErrAccessDenied = errors.New("access denied")
	ErrRetryLater   = errors.New("retry later")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
)

// UpdateRejected is a directory-only, writer-facing rejection of a
// DirectoryUpdate. It never leaks whether the target key already
// exists; Reason is one of a small fixed vocabulary ("seed mismatch",
// "invalid equix solution", "insufficient effort", "signature", "stale
// counter").
type UpdateRejected struct {
	Reason string
}

func (e *UpdateRejected) Error() string {
	return "update rejected: " + e.Reason
}

// NewUpdateRejected constructs an UpdateRejected with the given reason.
func NewUpdateRejected(reason string) *UpdateRejected {
	return &UpdateRejected{Reason: reason}
}
