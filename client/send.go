// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// Backoff parameters for a failed send that is worth retrying
// (RetryLater from the server, or a transport-level failure): start at
// 1s, double each attempt, cap at 60s, jittered ±20% so many clients
// retrying the same outage don't all wake in lockstep.
const (
	sendBackoffInitial = time.Second
	sendBackoffFactor  = 2
	sendBackoffMax     = 60 * time.Second
	sendBackoffJitter  = 0.20
)

// sendLoopPollInterval is the fallback tick the send loop wakes on
// even with no Notifier bump, so a row whose next_attempt_at has
// simply elapsed (no store write happened to wake it) is still picked
// up promptly.
const sendLoopPollInterval = time.Second

// SendDeps bundles what the worker loops need: the local store, the
// verified directory client, the per-server RPC pool, the auth token
// cache, the loaded identity, and an optional Events sink (nil-safe)
// for UI notifications.
type SendDeps struct {
	Store     *store.Store
	Directory *DirectoryClient
	Servers   *ServerPool
	Auth      *AuthCache
	Identity  *LoadedIdentity
	Events    *Events
	Clock     func() time.Time
}

func (d *SendDeps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// RunSendLoop drains due send_queue rows until ctx is cancelled,
// sleeping between passes until either the store's Notifier wakes it
// (a new row was enqueued) or the fallback poll interval elapses.
func RunSendLoop(ctx context.Context, d *SendDeps) error {
	for {
		if err := d.drainOnce(ctx); err != nil {
			return err
		}

		gen := d.Store.Notifier.Generation()
		waitCtx, cancel := context.WithTimeout(ctx, sendLoopPollInterval)
		d.Store.Notifier.WaitChanged(waitCtx, gen)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SendDeps) drainOnce(ctx context.Context) error {
	rows, err := d.Store.DueSendQueueRows(ctx, d.now().Unix())
	if err != nil {
		return fmt.Errorf("client: send loop: %w", err)
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.attempt(ctx, row)
	}
	return nil
}

// attempt drives one send_queue row through resolution, authentication,
// and v1_mailbox_send, classifying the outcome: AccessDenied
// and BadRequest are terminal, RetryLater and transport failures are
// retried with backoff, and success deletes the row.
func (d *SendDeps) attempt(ctx context.Context, row store.SendQueueRow) {
	err := d.send(ctx, row)
	if err == nil {
		if err := d.Store.MarkSent(ctx, row.ID); err != nil {
			_ = err // best-effort; the next drain pass sends the row again and the server stores it a second time
		}
		return
	}

	switch {
	case errors.Is(err, wire.ErrAccessDenied), errors.Is(err, wire.ErrBadRequest):
		_ = d.Store.MarkFailed(ctx, row.ID, err.Error())
		d.Events.Publish(Event{Kind: EventSendFailed, Peer: row.Recipient, Detail: err.Error()})
	default:
		_ = d.Store.ScheduleRetry(ctx, row.ID, d.now().Add(nextBackoff(row.Attempts)).Unix())
	}
}

func (d *SendDeps) send(ctx context.Context, row store.SendQueueRow) error {
	recipient, err := wire.ParseUserName(row.Recipient)
	if err != nil {
		return fmt.Errorf("%w: bad recipient %q", wire.ErrBadRequest, row.Recipient)
	}

	userDesc, err := d.Directory.ResolveUser(ctx, recipient)
	if err != nil {
		return fmt.Errorf("%w: resolve recipient: %v", wire.ErrRetryLater, err)
	}
	serverDesc, err := d.Directory.ResolveServer(ctx, userDesc.ServerName)
	if err != nil {
		return fmt.Errorf("%w: resolve recipient server: %v", wire.ErrRetryLater, err)
	}

	rc, err := d.Servers.Get(serverDesc)
	if err != nil {
		return fmt.Errorf("%w: %v", wire.ErrRetryLater, err)
	}

	token, err := d.Auth.Token(ctx, serverDesc.ServerName, rc)
	if err != nil {
		return err
	}

	mailboxID := wire.MailboxIdForConversation(recipient, d.Identity.Username)
	seq, err := postMailboxSend(ctx, rc, token, mailboxID, row.Kind, row.Body)
	if errors.Is(err, wire.ErrAccessDenied) {
		// The cached token may simply be stale (device revoked, or the
		// server restarted and lost in-memory state that never
		// happens here since auth is stateless JWT, but re-auth once
		// before giving up in case the token itself expired early).
		d.Auth.Invalidate(serverDesc.ServerName)
		token, authErr := d.Auth.Token(ctx, serverDesc.ServerName, rc)
		if authErr != nil {
			return err
		}
		seq, err = postMailboxSend(ctx, rc, token, mailboxID, row.Kind, row.Body)
	}
	_ = seq
	return err
}

type mailboxSendParams struct {
	Auth      string                `json:"auth"`
	MailboxId wire.MailboxId        `json:"mailbox_id"`
	Message   mailboxSendMessageArg `json:"message"`
}

type mailboxSendMessageArg struct {
	Kind  string `json:"kind"`
	Inner []byte `json:"inner"`
}

type mailboxSendResult struct {
	Seq uint64 `json:"seq"`
}

func postMailboxSend(ctx context.Context, rc *rpc.Client, token string, mailboxID wire.MailboxId, kind string, body []byte) (uint64, error) {
	var res mailboxSendResult
	err := rc.Call(ctx, "v1_mailbox_send", mailboxSendParams{
		Auth:      token,
		MailboxId: mailboxID,
		Message:   mailboxSendMessageArg{Kind: kind, Inner: body},
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.Seq, nil
}

// nextBackoff returns the jittered delay before retrying a row that
// has already failed attempts times.
func nextBackoff(attempts int) time.Duration {
	d := sendBackoffInitial
	for i := 0; i < attempts; i++ {
		d *= sendBackoffFactor
		if d > sendBackoffMax {
			d = sendBackoffMax
			break
		}
	}
	jitter := 1 + (rand.Float64()*2-1)*sendBackoffJitter
	return time.Duration(float64(d) * jitter)
}
