// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/wire"
)

// The local RPC surface is what the out-of-scope UI and CLI front-ends
// drive the client core through (rpc_loop). It is local-only:
// callers are trusted, so there is no auth gate, and errors surface
// through the same taxonomy the federation RPCs use.

type localStatusResult struct {
	State      string `json:"state"`
	Username   string `json:"username,omitempty"`
	ServerName string `json:"server_name,omitempty"`
}

type localProvisionParams struct {
	Username   string `json:"username"`
	ServerName string `json:"server_name"`
}

type localProvisionResult struct {
	RootCertHash string `json:"root_cert_hash"`
}

type localSendDirectParams struct {
	Recipient string `json:"recipient"`
	Mime      string `json:"mime"`
	Body      []byte `json:"body"`
}

type localTrackPeerParams struct {
	Peer string `json:"peer"`
}

type localListMessagesParams struct {
	Peer  string `json:"peer"`
	Limit int    `json:"limit"`
}

type localMessage struct {
	ID         int64  `json:"id"`
	Peer       string `json:"peer"`
	Direction  string `json:"direction"`
	Mime       string `json:"mime"`
	Body       []byte `json:"body"`
	ReceivedAt int64  `json:"received_at_ns,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
}

func (c *Client) registerLocalRPC() {
	c.local.Register("local_status", c.handleLocalStatus)
	c.local.Register("local_provision", c.handleLocalProvision)
	c.local.Register("local_send_direct", c.handleLocalSendDirect)
	c.local.Register("local_track_peer", c.handleLocalTrackPeer)
	c.local.Register("local_list_messages", c.handleLocalListMessages)
}

func (c *Client) handleLocalStatus(ctx context.Context, params json.RawMessage) (any, error) {
	li, err := LoadIdentity(ctx, c.deps.Store)
	if err != nil {
		if errors.Is(err, store.ErrNoIdentity) {
			return localStatusResult{State: string(store.StateAbsent)}, nil
		}
		return nil, err
	}
	return localStatusResult{
		State:      string(li.State),
		Username:   li.Username.String(),
		ServerName: li.HomeServer.String(),
	}, nil
}

// handleLocalProvision drives the Absent → Provisioning transition: it
// writes the identity row, then submits the new user's descriptor to
// the directory under a fresh PoW solution, signed by the new device
// itself (first-time registration is admitted by PoW alone).
// Provisioning → Ready happens later, when the worker loop's medium
// key loop registers the first medium pk with the home server.
func (c *Client) handleLocalProvision(ctx context.Context, params json.RawMessage) (any, error) {
	var p localProvisionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	username, err := wire.ParseUserName(p.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	serverName, err := wire.ParseServerName(p.ServerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}

	li, _, err := Provision(ctx, c.deps.Store, username, serverName)
	if err != nil {
		return nil, err
	}

	desc := &wire.UserDescriptor{ServerName: serverName}
	rootHash := li.RootCertHash()
	copy(desc.RootCertHash[:], rootHash[:])
	if err := c.deps.Directory.RegisterUser(ctx, username, desc, 1, li.Device.Signing); err != nil {
		return nil, err
	}

	c.deps.Events.Publish(Event{Kind: EventIdentity, Detail: string(store.StateProvisioning)})
	return localProvisionResult{RootCertHash: desc.RootCertHash.String()}, nil
}

func (c *Client) handleLocalSendDirect(ctx context.Context, params json.RawMessage) (any, error) {
	var p localSendDirectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	recipient, err := wire.ParseUserName(p.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	if p.Mime == "" {
		return nil, fmt.Errorf("%w: mime is required", wire.ErrBadRequest)
	}

	li, err := LoadIdentity(ctx, c.deps.Store)
	if err != nil {
		return nil, fmt.Errorf("%w: no identity provisioned", wire.ErrBadRequest)
	}
	d := &SendDeps{
		Store:     c.deps.Store,
		Directory: c.deps.Directory,
		Servers:   c.deps.Servers,
		Auth:      NewAuthCache(li),
		Identity:  li,
		Events:    c.deps.Events,
		Clock:     c.deps.Clock,
	}
	if err := SendDirect(ctx, d, recipient, p.Mime, p.Body); err != nil {
		return nil, err
	}
	// Track the peer so the DM receive loop starts polling their
	// replies.
	cursor, err := c.deps.Store.DmCursor(ctx, recipient.String())
	if err != nil {
		return nil, err
	}
	if err := c.deps.Store.SetDmCursor(ctx, recipient.String(), cursor); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *Client) handleLocalTrackPeer(ctx context.Context, params json.RawMessage) (any, error) {
	var p localTrackPeerParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	peer, err := wire.ParseUserName(p.Peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	cursor, err := c.deps.Store.DmCursor(ctx, peer.String())
	if err != nil {
		return nil, err
	}
	if err := c.deps.Store.SetDmCursor(ctx, peer.String(), cursor); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *Client) handleLocalListMessages(ctx context.Context, params json.RawMessage) (any, error) {
	var p localListMessagesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	rows, err := c.deps.Store.ListConvoMessages(ctx, p.Peer, p.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]localMessage, 0, len(rows))
	for _, m := range rows {
		out = append(out, localMessage{
			ID:         m.ID,
			Peer:       m.Peer,
			Direction:  string(m.Direction),
			Mime:       m.Kind,
			Body:       m.Body,
			ReceivedAt: m.ReceivedAt,
			Seq:        m.Seq,
		})
	}
	return out, nil
}
