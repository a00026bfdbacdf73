// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/lattice-chat/lattice/client/store"
	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// GroupRekeyInterval is the default cadence a group's AEAD key is
// rotated on even with no membership change. This client only
// implements the time-based trigger, since it has no group membership
// management API to notice a change against.
const GroupRekeyInterval = 24 * time.Hour

// groupRekeyCheckInterval is how often RunGroupRekeyLoop wakes to check
// whether any tracked group is due.
const groupRekeyCheckInterval = 10 * time.Minute

// RunGroupRecvLoop long-polls every tracked group's shared mailbox
// (hosted on this client's own home server; cross-server group
// federation is not implemented) and applies whatever arrives: group
// messages are decrypted with the group's current or previous AEAD
// key, rekey messages install a new current key the first time this
// device can open one of its envelopes.
func RunGroupRecvLoop(ctx context.Context, d *SendDeps) error {
	ownDesc, err := resolveOwnServer(ctx, d)
	if err != nil {
		return fmt.Errorf("client: group recv loop: %w", err)
	}
	rc, err := d.Servers.Get(ownDesc)
	if err != nil {
		return fmt.Errorf("client: group recv loop: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.pollGroupsOnce(ctx, ownDesc.ServerName, rc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (d *SendDeps) pollGroupsOnce(ctx context.Context, ownServer wire.ServerName, rc *rpc.Client) error {
	groupIDs, err := d.Store.ListGroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("list group ids: %w", err)
	}
	if len(groupIDs) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	token, err := d.Auth.Token(ctx, ownServer, rc)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	args := make([]multirecvArg, 0, len(groupIDs))
	idxByMailbox := make(map[wire.MailboxId][]byte, len(groupIDs))
	for _, gid := range groupIDs {
		var groupID wire.GroupId
		copy(groupID[:], gid)
		cursor, err := d.Store.GroupCursor(ctx, gid)
		if err != nil {
			return fmt.Errorf("group cursor: %w", err)
		}
		mailboxID := wire.MailboxIdForGroup(groupID)
		args = append(args, multirecvArg{MailboxId: mailboxID, Auth: token, SinceSeq: cursor})
		idxByMailbox[mailboxID] = gid
	}

	var result map[string][]multirecvEntry
	if err := rc.Call(ctx, "v1_mailbox_multirecv", multirecvParams{Args: args, TimeoutMs: dmMultirecvTimeoutMs}, &result); err != nil {
		return fmt.Errorf("multirecv: %w", err)
	}

	for _, arg := range args {
		entries := result[arg.MailboxId.String()]
		if len(entries) == 0 {
			continue
		}
		if err := d.applyGroupEntries(ctx, idxByMailbox[arg.MailboxId], entries); err != nil {
			return err
		}
	}
	return nil
}

func (d *SendDeps) applyGroupEntries(ctx context.Context, groupID []byte, entries []multirecvEntry) error {
	maxSeq := uint64(0)
	for _, e := range entries {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		msg, err := wire.DecodeMessage(e.Payload)
		if err != nil {
			continue
		}
		switch msg.Kind {
		case wire.MessageKindGroupRekey:
			if err := d.applyGroupRekey(ctx, groupID, msg.Inner); err != nil {
				continue
			}
		case wire.MessageKindGroup:
			if err := d.applyGroupMessage(ctx, groupID, msg.Inner, e); err != nil {
				continue
			}
		}
	}
	if maxSeq > 0 {
		if err := d.Store.SetGroupCursor(ctx, groupID, maxSeq); err != nil {
			return fmt.Errorf("set group cursor: %w", err)
		}
	}
	return nil
}

func (d *SendDeps) applyGroupMessage(ctx context.Context, groupID []byte, inner []byte, e multirecvEntry) error {
	gs, err := d.Store.LoadGroupState(ctx, groupID)
	if err != nil || gs == nil {
		return fmt.Errorf("client: group message for unknown group")
	}
	payload, err := decodeGroupPayload(inner)
	if err != nil {
		return err
	}
	plaintext, err := openGroupPayload(gs, payload, groupID)
	if err != nil {
		return err
	}
	content, err := wire.DecodePlainContent(plaintext)
	if err != nil {
		return err
	}
	var gid wire.GroupId
	copy(gid[:], groupID)
	if err := d.Store.AppendConvoMessage(ctx, store.ConvoMessage{
		Peer:       "group:" + gid.String(),
		Direction:  store.DirectionInbound,
		Kind:       content.Mime,
		Body:       content.Body,
		ReceivedAt: e.ReceivedAt,
		Seq:        e.Seq,
	}); err != nil {
		return err
	}
	d.Events.Publish(Event{Kind: EventMessage, Peer: "group:" + gid.String(), Seq: e.Seq})
	return nil
}

func (d *SendDeps) applyGroupRekey(ctx context.Context, groupID []byte, inner []byte) error {
	var gid wire.GroupId
	copy(gid[:], groupID)
	mailboxID := wire.MailboxIdForGroup(gid)

	envs, err := decodeGroupRekeyEnvelopes(inner)
	if err != nil {
		return err
	}
	for _, env := range envs {
		newKey, err := d.openWithKnownKeys(env, mailboxID[:])
		if err != nil {
			continue
		}
		gs, err := d.Store.LoadGroupState(ctx, groupID)
		if err != nil {
			return err
		}
		var prev []byte
		var members []byte
		epoch := uint64(1)
		if gs != nil {
			prev = gs.CurrentKey
			members = gs.Members
			epoch = gs.Epoch + 1
		}
		return d.Store.SaveGroupState(ctx, store.GroupState{
			GroupID:    groupID,
			CurrentKey: newKey,
			PrevKey:    prev,
			Epoch:      epoch,
			Members:    members,
			RekeyedAt:  time.Now().Unix(),
		})
	}
	return fmt.Errorf("client: no envelope in rekey message could be opened")
}

// groupAeadKey copies raw into an AeadKey, for a group's current or
// previous key; the bytes are used as they are, with no derivation.
func groupAeadKey(raw []byte) latticecrypto.AeadKey {
	var k latticecrypto.AeadKey
	copy(k[:], raw)
	return k
}

// groupPayload is a group message's on-wire Inner: nonce plus
// ciphertext sealed under the group's shared AEAD key (no per-message
// ephemeral DH, unlike Envelope, since every member already holds the
// same symmetric key).
type groupPayload struct {
	Nonce      [24]byte
	Ciphertext []byte
}

func (p groupPayload) encode() []byte {
	e := wire.NewEncoder()
	e.Blob(p.Nonce[:]).Blob(p.Ciphertext)
	return e.Bytes()
}

func decodeGroupPayload(b []byte) (groupPayload, error) {
	d := wire.NewDecoder(b)
	nonce, err := d.Blob()
	if err != nil {
		return groupPayload{}, err
	}
	if len(nonce) != 24 {
		return groupPayload{}, fmt.Errorf("client: group payload nonce is %d bytes, want 24", len(nonce))
	}
	ciphertext, err := d.Blob()
	if err != nil {
		return groupPayload{}, err
	}
	var p groupPayload
	copy(p.Nonce[:], nonce)
	p.Ciphertext = ciphertext
	return p, nil
}

func sealGroupPayload(key latticecrypto.AeadKey, plaintext, aad []byte) (groupPayload, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return groupPayload{}, err
	}
	ciphertext, err := key.Encrypt(nonce[:], plaintext, aad)
	if err != nil {
		return groupPayload{}, err
	}
	return groupPayload{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// openGroupPayload tries gs's current key, then its previous one (the
// one epoch of overlap granted to a message sealed just before a
// rekey propagated).
func openGroupPayload(gs *store.GroupState, p groupPayload, aad []byte) ([]byte, error) {
	if gs.CurrentKey != nil {
		if pt, err := groupAeadKey(gs.CurrentKey).Decrypt(p.Nonce[:], p.Ciphertext, aad); err == nil {
			return pt, nil
		}
	}
	if gs.PrevKey != nil {
		if pt, err := groupAeadKey(gs.PrevKey).Decrypt(p.Nonce[:], p.Ciphertext, aad); err == nil {
			return pt, nil
		}
	}
	return nil, latticecrypto.ErrDecryptFailed
}

func decodeGroupRekeyEnvelopes(b []byte) ([]Envelope, error) {
	d := wire.NewDecoder(b)
	n, err := d.U64()
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, n)
	for i := uint64(0); i < n; i++ {
		envBytes, err := d.Blob()
		if err != nil {
			return nil, err
		}
		env, err := DecodeEnvelope(envBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func encodeGroupRekeyEnvelopes(envs []Envelope) []byte {
	e := wire.NewEncoder()
	e.U64(uint64(len(envs)))
	for _, env := range envs {
		e.Blob(env.Encode())
	}
	return e.Bytes()
}

func decodeMembers(b []byte) ([]wire.UserName, error) {
	d := wire.NewDecoder(b)
	n, err := d.U64()
	if err != nil {
		return nil, err
	}
	out := make([]wire.UserName, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		u, err := wire.ParseUserName(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeMembers(members []wire.UserName) []byte {
	e := wire.NewEncoder()
	e.U64(uint64(len(members)))
	for _, m := range members {
		e.Str(m.String())
	}
	return e.Bytes()
}

// RunGroupRekeyLoop periodically checks every tracked group against
// GroupRekeyInterval and rotates its key when due, distributing the new
// key to every member's currently valid root device via a fresh
// envelope each, bundled into one v1.group_rekey message.
func RunGroupRekeyLoop(ctx context.Context, d *SendDeps) error {
	ticker := time.NewTicker(groupRekeyCheckInterval)
	defer ticker.Stop()
	for {
		if err := d.rekeyDueGroups(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *SendDeps) rekeyDueGroups(ctx context.Context) error {
	groupIDs, err := d.Store.ListGroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("client: group rekey loop: %w", err)
	}
	now := time.Now()
	for _, gid := range groupIDs {
		gs, err := d.Store.LoadGroupState(ctx, gid)
		if err != nil || gs == nil {
			continue
		}
		if now.Sub(time.Unix(gs.RekeyedAt, 0)) < GroupRekeyInterval {
			continue
		}
		if err := d.rekeyGroup(ctx, gid, gs); err != nil {
			continue
		}
	}
	return nil
}

func (d *SendDeps) rekeyGroup(ctx context.Context, groupID []byte, gs *store.GroupState) error {
	members, err := decodeMembers(gs.Members)
	if err != nil {
		return fmt.Errorf("decode members: %w", err)
	}

	newKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, newKey); err != nil {
		return err
	}

	var gid wire.GroupId
	copy(gid[:], groupID)
	mailboxID := wire.MailboxIdForGroup(gid)

	envs := make([]Envelope, 0, len(members))
	for _, member := range members {
		userDesc, err := d.Directory.ResolveUser(ctx, member)
		if err != nil {
			continue
		}
		serverDesc, err := d.Directory.ResolveServer(ctx, userDesc.ServerName)
		if err != nil {
			continue
		}
		rc, err := d.Servers.Get(serverDesc)
		if err != nil {
			continue
		}
		device, err := resolveRootDevice(ctx, rc, member, userDesc.RootCertHash)
		if err != nil {
			continue
		}
		mediumPk, err := fetchCurrentMediumPk(ctx, rc, device)
		if err != nil {
			continue
		}
		env, err := SealEnvelope(mediumPk, newKey, mailboxID[:])
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	if len(envs) == 0 {
		return fmt.Errorf("client: rekey group %x: no member reachable", groupID)
	}

	ownDesc, err := resolveOwnServer(ctx, d)
	if err != nil {
		return err
	}
	rc, err := d.Servers.Get(ownDesc)
	if err != nil {
		return err
	}
	token, err := d.Auth.Token(ctx, ownDesc.ServerName, rc)
	if err != nil {
		return err
	}
	if _, err := postMailboxSend(ctx, rc, token, mailboxID, wire.MessageKindGroupRekey, encodeGroupRekeyEnvelopes(envs)); err != nil {
		return fmt.Errorf("post rekey: %w", err)
	}

	return d.Store.SaveGroupState(ctx, store.GroupState{
		GroupID:    groupID,
		CurrentKey: newKey,
		PrevKey:    gs.CurrentKey,
		Epoch:      gs.Epoch + 1,
		Members:    gs.Members,
		RekeyedAt:  time.Now().Unix(),
	})
}
