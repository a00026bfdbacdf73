// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"

	"github.com/lattice-chat/lattice/client/store"
	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// SendDirect encrypts a direct message to peer and enqueues it for the
// send loop to deliver, returning once the row is durably queued (not
// once it is actually delivered — callers watch send_queue through the
// store's Notifier for terminal state). It resolves peer's currently
// valid root device itself (the device its directory root_cert_hash
// names) and addresses the envelope to that device's current medium
// key; a recipient with multiple linked devices other than its root
// receives the message only once that device relays or re-links,
// which this client does not implement.
func SendDirect(ctx context.Context, d *SendDeps, peer wire.UserName, mime string, body []byte) error {
	userDesc, err := d.Directory.ResolveUser(ctx, peer)
	if err != nil {
		return fmt.Errorf("client: send direct: resolve %s: %w", peer, err)
	}
	serverDesc, err := d.Directory.ResolveServer(ctx, userDesc.ServerName)
	if err != nil {
		return fmt.Errorf("client: send direct: resolve %s's server: %w", peer, err)
	}
	rc, err := d.Servers.Get(serverDesc)
	if err != nil {
		return fmt.Errorf("client: send direct: %w", err)
	}

	device, err := resolveRootDevice(ctx, rc, peer, userDesc.RootCertHash)
	if err != nil {
		return fmt.Errorf("client: send direct: resolve %s's device: %w", peer, err)
	}
	mediumPk, err := fetchCurrentMediumPk(ctx, rc, device)
	if err != nil {
		return fmt.Errorf("client: send direct: %w", err)
	}

	content := wire.PlainContent{Mime: mime, Body: body}.Encode()
	mailboxID := wire.MailboxIdForConversation(peer, d.Identity.Username)
	env, err := SealEnvelope(mediumPk, content, mailboxID[:])
	if err != nil {
		return fmt.Errorf("client: send direct: %w", err)
	}

	idempotencyKey := latticecrypto.Digest(append(append([]byte{}, mailboxID[:]...), env.Ciphertext...)).String()
	if err := d.Store.Enqueue(ctx, peer.String(), mailboxID[:], wire.MessageKindDirect, env.Encode(), idempotencyKey); err != nil {
		return fmt.Errorf("client: send direct: enqueue: %w", err)
	}

	return d.Store.AppendConvoMessage(ctx, store.ConvoMessage{
		Peer:      peer.String(),
		Direction: store.DirectionOutbound,
		Kind:      mime,
		Body:      body,
	})
}

type deviceCertsParams struct {
	Username string `json:"username"`
}

type deviceCertsResult struct {
	CertChainBytes []byte `json:"cert_chain_bytes"`
}

// resolveRootDevice fetches peer's certificate chain from rc and
// verifies it against rootHash, returning the root device itself — the
// device every valid chain is guaranteed to contain, whether or not it
// has since delegated to others.
func resolveRootDevice(ctx context.Context, rc *rpc.Client, peer wire.UserName, rootHash latticecrypto.Hash) (keys.DevicePublic, error) {
	var res deviceCertsResult
	if err := rc.Call(ctx, "v1_device_certs", deviceCertsParams{Username: peer.String()}, &res); err != nil {
		return keys.DevicePublic{}, err
	}
	chain, err := wire.DecodeCertificateChain(res.CertChainBytes)
	if err != nil {
		return keys.DevicePublic{}, fmt.Errorf("decode cert chain: %w", err)
	}
	valid, err := chain.Verify(rootHash, wire.Now())
	if err != nil {
		return keys.DevicePublic{}, fmt.Errorf("verify cert chain: %w", err)
	}
	device, ok := valid[rootHash]
	if !ok {
		return keys.DevicePublic{}, fmt.Errorf("root device %s not present in its own verified chain", rootHash)
	}
	return device, nil
}

type deviceMediumPksParams struct {
	DevicePkHash string `json:"device_pk_hash"`
}

type deviceMediumPksResult struct {
	Current []byte `json:"current"`
	Prev    []byte `json:"prev,omitempty"`
}

// fetchCurrentMediumPk fetches and verifies device's current medium DH
// public key.
func fetchCurrentMediumPk(ctx context.Context, rc *rpc.Client, device keys.DevicePublic) (keys.DhPublic, error) {
	var res deviceMediumPksResult
	err := rc.Call(ctx, "v1_device_medium_pks", deviceMediumPksParams{DevicePkHash: device.Hash().String()}, &res)
	if err != nil {
		return keys.DhPublic{}, err
	}
	if len(res.Current) == 0 {
		return keys.DhPublic{}, fmt.Errorf("device has not registered a medium key")
	}
	signed, err := wire.DecodeSignedMediumPk(res.Current)
	if err != nil {
		return keys.DhPublic{}, fmt.Errorf("decode signed medium pk: %w", err)
	}
	h := latticecrypto.SignableHash(&signed)
	if err := device.Verify(h[:], signed.Signature[:]); err != nil {
		return keys.DhPublic{}, fmt.Errorf("signed medium pk signature invalid: %w", err)
	}
	return keys.DhPublicFromBytes(signed.MediumPk[:])
}
