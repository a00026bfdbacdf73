// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// RemotePrimary adapts an rpc.Client pointed at another process's
// directory endpoint into a PrimaryReader, so a Mirror can follow a
// primary that lives in a different process instead of the same one
// (the common deployment shape: one latticed-directory configured with
// signing_sk as the primary, any number configured with mirror set to
// the primary's URL).
type RemotePrimary struct {
	rpcClient *rpc.Client
}

// NewRemotePrimary constructs a RemotePrimary calling primaryURL.
func NewRemotePrimary(primaryURL string) (*RemotePrimary, error) {
	rc, err := rpc.NewClient(primaryURL, 1)
	if err != nil {
		return nil, fmt.Errorf("directory: new remote primary: %w", err)
	}
	return &RemotePrimary{rpcClient: rc}, nil
}

// GetHead calls v1_get_head on the remote primary.
func (r *RemotePrimary) GetHead(ctx context.Context) (*wire.DirectoryHead, error) {
	var head wire.DirectoryHead
	if err := r.rpcClient.Call(ctx, "v1_get_head", struct{}{}, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

// Walk calls v1_walk on the remote primary.
func (r *RemotePrimary) Walk(ctx context.Context, afterKeyHash latticecrypto.Hash, limit int) ([]WalkEntry, error) {
	var res walkResult
	err := r.rpcClient.Call(ctx, "v1_walk", walkParams{AfterKeyHash: afterKeyHash, Limit: limit}, &res)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}
