// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// dmMultirecvTimeoutMs is the long-poll budget, kept just
// under the transport's 600s timeout (rpc.DefaultTimeout).
const dmMultirecvTimeoutMs = 550_000

// RunDmRecvLoop long-polls every tracked peer's inbox on the user's own
// home server, decrypts whatever arrives, and appends it to
// convo_messages, looping until ctx is cancelled.
func RunDmRecvLoop(ctx context.Context, d *SendDeps) error {
	ownDesc, err := resolveOwnServer(ctx, d)
	if err != nil {
		return fmt.Errorf("client: dm recv loop: %w", err)
	}
	rc, err := d.Servers.Get(ownDesc)
	if err != nil {
		return fmt.Errorf("client: dm recv loop: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.pollOnce(ctx, ownDesc.ServerName, rc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transport hiccup or a stale token; back off briefly and
			// let the next pass re-authenticate/re-resolve.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func resolveOwnServer(ctx context.Context, d *SendDeps) (*wire.ServerDescriptor, error) {
	ownDesc, err := d.Directory.ResolveUser(ctx, d.Identity.Username)
	if err != nil {
		return nil, fmt.Errorf("resolve own user: %w", err)
	}
	serverDesc, err := d.Directory.ResolveServer(ctx, ownDesc.ServerName)
	if err != nil {
		return nil, fmt.Errorf("resolve own server: %w", err)
	}
	return serverDesc, nil
}

type multirecvArg struct {
	MailboxId wire.MailboxId `json:"mailbox_id"`
	Auth      string         `json:"auth"`
	SinceSeq  uint64         `json:"since_seq"`
}

type multirecvParams struct {
	Args      []multirecvArg `json:"args"`
	TimeoutMs int            `json:"timeout_ms"`
}

type multirecvEntry struct {
	Seq        uint64 `json:"seq"`
	ReceivedAt int64  `json:"received_at_ns"`
	Payload    []byte `json:"payload"`
}

func (d *SendDeps) pollOnce(ctx context.Context, ownServer wire.ServerName, rc *rpc.Client) error {
	peers, err := d.Store.TrackedPeers(ctx)
	if err != nil {
		return fmt.Errorf("tracked peers: %w", err)
	}
	if len(peers) == 0 {
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

	args := make([]multirecvArg, 0, len(peers))
	peerByMailbox := make(map[wire.MailboxId]wire.UserName, len(peers))
	for _, p := range peers {
		peer, err := wire.ParseUserName(p)
		if err != nil {
			continue
		}
		cursor, err := d.Store.DmCursor(ctx, p)
		if err != nil {
			return fmt.Errorf("dm cursor for %s: %w", p, err)
		}
		mailboxID := wire.MailboxIdForConversation(d.Identity.Username, peer)
		args = append(args, multirecvArg{MailboxId: mailboxID, Auth: token, SinceSeq: cursor})
		peerByMailbox[mailboxID] = peer
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
		peer := peerByMailbox[arg.MailboxId]
		if err := d.applyDmEntries(ctx, peer, entries); err != nil {
			return err
		}
	}
	return nil
}

// applyDmEntries decrypts and persists entries received for peer,
// advancing the cursor even past an entry this device cannot decrypt
// (addressed to one of peer's other linked devices), since that entry
// will never become decryptable by waiting longer.
func (d *SendDeps) applyDmEntries(ctx context.Context, peer wire.UserName, entries []multirecvEntry) error {
	mailboxID := wire.MailboxIdForConversation(d.Identity.Username, peer)
	maxSeq := uint64(0)
	for _, e := range entries {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		msg, err := wire.DecodeMessage(e.Payload)
		if err != nil {
			continue
		}
		if msg.Kind != wire.MessageKindDirect {
			continue
		}
		env, err := DecodeEnvelope(msg.Inner)
		if err != nil {
			continue
		}
		plaintext, err := d.openWithKnownKeys(env, mailboxID[:])
		if err != nil {
			continue
		}
		content, err := wire.DecodePlainContent(plaintext)
		if err != nil {
			continue
		}
		if err := d.Store.AppendConvoMessage(ctx, store.ConvoMessage{
			Peer:       peer.String(),
			Direction:  store.DirectionInbound,
			Kind:       content.Mime,
			Body:       content.Body,
			ReceivedAt: e.ReceivedAt,
			Seq:        e.Seq,
		}); err != nil {
			return fmt.Errorf("append convo message: %w", err)
		}
		d.Events.publishMessage(peer, e.Seq)
	}
	if maxSeq > 0 {
		if err := d.Store.SetDmCursor(ctx, peer.String(), maxSeq); err != nil {
			return fmt.Errorf("set dm cursor: %w", err)
		}
	}
	return nil
}

// openWithKnownKeys tries every DH secret this device currently knows
// for unsealing env: medium_sk_current, medium_sk_prev, then the
// device's long-term DH secret.
func (d *SendDeps) openWithKnownKeys(env Envelope, aad []byte) ([]byte, error) {
	if d.Identity.MediumSkCurrent != nil {
		if pt, err := OpenEnvelope(d.Identity.MediumSkCurrent, env, aad); err == nil {
			return pt, nil
		}
	}
	if d.Identity.MediumSkPrev != nil {
		if pt, err := OpenEnvelope(d.Identity.MediumSkPrev, env, aad); err == nil {
			return pt, nil
		}
	}
	if d.Identity.Device != nil && d.Identity.Device.Dh != nil {
		if pt, err := OpenEnvelope(d.Identity.Device.Dh, env, aad); err == nil {
			return pt, nil
		}
	}
	return nil, fmt.Errorf("client: no known key could open envelope")
}
