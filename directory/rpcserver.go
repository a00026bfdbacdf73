// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"encoding/json"
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// reader is satisfied by both Primary and Mirror for the read-only RPC
// surface (v1_get_head, v1_get_record, v1_walk).
type reader interface {
	GetHead(ctx context.Context) (*wire.DirectoryHead, error)
	GetRecord(ctx context.Context, key string) ([]byte, InclusionProof, bool, error)
}

type walker interface {
	Walk(ctx context.Context, afterKeyHash latticecrypto.Hash, limit int) ([]WalkEntry, error)
}

// writer is satisfied only by Primary: mirrors never mint seeds or
// accept writes.
type writer interface {
	RequestPow(ctx context.Context) (wire.PowSeed, error)
	SubmitUpdate(ctx context.Context, upd *wire.DirectoryUpdate) error
}

// RegisterRPC installs the directory's five RPC methods on s. p
// and m are mutually exclusive: pass the non-nil one for this
// process's role (primary or mirror); the other may be nil.
func RegisterRPC(s *rpc.Server, p *Primary, m *Mirror) {
	var rd reader
	var wk walker
	var wr writer
	if p != nil {
		rd, wk, wr = p, p, p
	} else {
		rd = m
	}

	s.Register("v1_get_head", func(ctx context.Context, _ json.RawMessage) (any, error) {
		head, err := rd.GetHead(ctx)
		if err != nil {
			return nil, err
		}
		return head, nil
	})

	s.Register("v1_get_record", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p getRecordParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
		}
		recordBytes, proof, found, err := rd.GetRecord(ctx, p.Key)
		if err != nil {
			return nil, err
		}
		head, err := rd.GetHead(ctx)
		if err != nil {
			return nil, err
		}
		return getRecordResult{
			RecordBytes: recordBytes,
			Found:       found,
			Proof:       proof.Siblings,
			Head:        *head,
		}, nil
	})

	s.Register("v1_walk", func(ctx context.Context, params json.RawMessage) (any, error) {
		if wk == nil {
			return nil, wire.ErrBadRequest
		}
		var p walkParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
		}
		limit := p.Limit
		if limit <= 0 || limit > DefaultWalkPageSize {
			limit = DefaultWalkPageSize
		}
		entries, err := wk.Walk(ctx, p.AfterKeyHash, limit)
		if err != nil {
			return nil, err
		}
		return walkResult{Entries: entries}, nil
	})

	s.Register("v1_request_pow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		if wr == nil {
			return nil, wire.ErrBadRequest
		}
		return wr.RequestPow(ctx)
	})

	s.Register("v1_submit_update", func(ctx context.Context, params json.RawMessage) (any, error) {
		if wr == nil {
			return nil, wire.ErrBadRequest
		}
		var upd wire.DirectoryUpdate
		if err := json.Unmarshal(params, &upd); err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
		}
		if err := wr.SubmitUpdate(ctx, &upd); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	})
}

type walkParams struct {
	AfterKeyHash latticecrypto.Hash `json:"after_key_hash"`
	Limit        int                `json:"limit"`
}

type walkResult struct {
	Entries []WalkEntry `json:"entries"`
}
