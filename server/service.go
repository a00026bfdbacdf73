// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/directory"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// MaxMultirecvTimeoutMs is the long-poll clamp: a
// multirecv call never holds its connection open longer than this,
// keeping it inside the 600s transport timeout.
const MaxMultirecvTimeoutMs = 550_000

// Deps bundles everything the home server's RPC surface needs: its
// own durable store, the pub/sub wake primitive, the JWT issuer, and
// a verified directory reader for resolving peers' descriptors.
type Deps struct {
	Store      *Store
	PubSub     *PubSub
	Auth       *AuthIssuer
	Directory  *directory.Cache
	ServerName wire.ServerName
}

// RegisterRPC installs the home server's eight RPC methods on s.
func RegisterRPC(s *rpc.Server, d *Deps) {
	s.Register("v1_device_auth", d.handleDeviceAuth)
	s.Register("v1_device_certs", d.handleDeviceCerts)
	s.Register("v1_device_medium_pks", d.handleDeviceMediumPks)
	s.Register("v1_device_add_medium_pk", d.handleAddMediumPk)
	s.Register("v1_mailbox_send", d.handleMailboxSend)
	s.Register("v1_mailbox_multirecv", d.handleMultirecv)
	s.Register("v1_mailbox_acl_edit", d.handleAclEdit)
	s.Register("v1_profile", d.handleProfile)
}

type deviceAuthParams struct {
	Username       string `json:"username"`
	CertChainBytes []byte `json:"cert_chain_bytes"`
}

type deviceAuthResult struct {
	Token string `json:"token"`
}

func (d *Deps) handleDeviceAuth(ctx context.Context, raw json.RawMessage) (any, error) {
	var p deviceAuthParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	username, err := wire.ParseUserName(p.Username)
	if err != nil {
		return nil, err
	}

	desc, err := d.Directory.ResolveUser(ctx, username)
	if err != nil {
		return nil, wire.ErrAccessDenied
	}
	if desc.ServerName != d.ServerName {
		return nil, wire.ErrAccessDenied
	}

	submitted, err := wire.DecodeCertificateChain(p.CertChainBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}

	stored, err := d.Store.Cert.Load(ctx, username)
	if err != nil {
		return nil, wire.ErrRetryLater
	}

	merged := wire.Merge(stored, submitted)
	valid, err := merged.Verify(desc.RootCertHash, wire.Now())
	if err != nil {
		return nil, wire.ErrAccessDenied
	}

	leaf := newestLeaf(submitted)
	if leaf == nil {
		return nil, wire.ErrAccessDenied
	}
	device, ok := valid[leaf.Subject.Hash()]
	if !ok {
		return nil, wire.ErrAccessDenied
	}

	if err := d.Store.Cert.Store(ctx, username, merged); err != nil {
		return nil, wire.ErrRetryLater
	}

	token, err := d.Auth.Mint(username, device)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	return deviceAuthResult{Token: token}, nil
}

// newestLeaf returns submitted's last-inserted certificate, the one
// whose subject is the device that presented this chain — the
// verifying device public the fresh auth token is bound to.
func newestLeaf(chain *wire.CertificateChain) *wire.DeviceCertificate {
	certs := chain.Certs()
	if len(certs) == 0 {
		return nil
	}
	return certs[len(certs)-1]
}

type deviceCertsParams struct {
	Username string `json:"username"`
}

func (d *Deps) handleDeviceCerts(ctx context.Context, raw json.RawMessage) (any, error) {
	var p deviceCertsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	username, err := wire.ParseUserName(p.Username)
	if err != nil {
		return nil, err
	}
	chain, err := d.Store.Cert.Load(ctx, username)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	if chain == nil {
		return nil, wire.ErrNotFound
	}
	return struct {
		CertChainBytes []byte `json:"cert_chain_bytes"`
	}{wire.EncodeCertificateChain(chain)}, nil
}

type deviceMediumPksParams struct {
	DevicePkHash string `json:"device_pk_hash"`
}

func (d *Deps) handleDeviceMediumPks(ctx context.Context, raw json.RawMessage) (any, error) {
	var p deviceMediumPksParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	hashBytes, err := decodeHashHex(p.DevicePkHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	row, err := d.Store.MediumPk.Load(ctx, hashBytes)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	if row == nil {
		return nil, wire.ErrNotFound
	}
	out := struct {
		Current []byte `json:"current"`
		Prev    []byte `json:"prev,omitempty"`
	}{Current: wire.EncodeSignedMediumPk(row.Current)}
	if row.Prev != nil {
		out.Prev = wire.EncodeSignedMediumPk(*row.Prev)
	}
	return out, nil
}

type addMediumPkParams struct {
	Auth           string `json:"auth"`
	SignedMediumPk []byte `json:"signed_medium_pk"`
}

func (d *Deps) handleAddMediumPk(ctx context.Context, raw json.RawMessage) (any, error) {
	var p addMediumPkParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	claims, err := d.Auth.Verify(p.Auth)
	if err != nil {
		return nil, wire.ErrAccessDenied
	}

	signed, err := wire.DecodeSignedMediumPk(p.SignedMediumPk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}

	hashBytes, err := decodeHashHex(claims.Subject)
	if err != nil {
		return nil, wire.ErrAccessDenied
	}

	devicePk, err := claims.SigningPublic()
	if err != nil {
		return nil, wire.ErrAccessDenied
	}
	h := latticecrypto.SignableHash(&signed)
	if err := devicePk.Verify(h[:], signed.Signature[:]); err != nil {
		return nil, fmt.Errorf("%w: medium pk signature does not verify", wire.ErrBadRequest)
	}

	if err := d.Store.MediumPk.Add(ctx, hashBytes, signed); err != nil {
		return nil, wire.ErrRetryLater
	}
	return struct{}{}, nil
}

type mailboxSendParams struct {
	Auth      string          `json:"auth"`
	MailboxId wire.MailboxId  `json:"mailbox_id"`
	Message   wireMessageJSON `json:"message"`
}

// wireMessageJSON mirrors wire.Message's two fields for JSON transport
// (wire.Message itself has no JSON tags since it's a canonical-codec
// type, not a wire.Encoder-routed one used only over RPC).
type wireMessageJSON struct {
	Kind  string `json:"kind"`
	Inner []byte `json:"inner"`
}

func (d *Deps) handleMailboxSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var p mailboxSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	claims, err := d.Auth.Verify(p.Auth)
	if err != nil {
		return nil, wire.ErrAccessDenied
	}

	acl, err := d.Store.Acl.Load(ctx, p.MailboxId)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	exempt := wire.AclExemptKinds[p.Message.Kind]
	if !exempt && !acl.PermitsHash(claims.Subject) {
		return nil, wire.ErrAccessDenied
	}

	payload := wire.Message{Kind: p.Message.Kind, Inner: p.Message.Inner}.Encode()
	seq, err := d.Store.Mailbox.Send(ctx, p.MailboxId, payload, time.Now().UnixNano())
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	d.PubSub.Announce(p.MailboxId, seq)
	return struct {
		Seq uint64 `json:"seq"`
	}{seq}, nil
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

func (d *Deps) handleMultirecv(ctx context.Context, raw json.RawMessage) (any, error) {
	var p multirecvParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	timeoutMs := p.TimeoutMs
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	if timeoutMs > MaxMultirecvTimeoutMs {
		timeoutMs = MaxMultirecvTimeoutMs
	}

	authorized := make([]multirecvArg, 0, len(p.Args))
	for _, a := range p.Args {
		claims, err := d.Auth.Verify(a.Auth)
		if err != nil {
			continue // unauthorized entries are silently omitted, never errored
		}
		acl, err := d.Store.Acl.Load(ctx, a.MailboxId)
		if err != nil {
			continue
		}
		if !acl.PermitsHash(claims.Subject) {
			continue
		}
		authorized = append(authorized, a)
	}

	result, err := d.collectMultirecv(ctx, authorized)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	if len(result) > 0 || timeoutMs == 0 {
		return result, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	d.waitAny(waitCtx, authorized)

	result, err = d.collectMultirecv(ctx, authorized)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	return result, nil
}

func (d *Deps) collectMultirecv(ctx context.Context, args []multirecvArg) (map[string][]multirecvEntry, error) {
	result := make(map[string][]multirecvEntry)
	for _, a := range args {
		entries, err := d.Store.Mailbox.Since(ctx, a.MailboxId, a.SinceSeq)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		out := make([]multirecvEntry, len(entries))
		for i, e := range entries {
			out[i] = multirecvEntry{Seq: e.Seq, ReceivedAt: e.ReceivedAt, Payload: e.Payload}
		}
		result[a.MailboxId.String()] = out
	}
	return result, nil
}

// waitAny blocks until any mailbox in args advances past its since_seq,
// or waitCtx is done, racing one PubSub.WaitFor goroutine per mailbox
// and cancelling the rest as soon as one returns.
func (d *Deps) waitAny(waitCtx context.Context, args []multirecvArg) {
	if len(args) == 0 {
		<-waitCtx.Done()
		return
	}
	ctx, cancel := context.WithCancel(waitCtx)
	defer cancel()

	var wg sync.WaitGroup
	for _, a := range args {
		wg.Add(1)
		go func(a multirecvArg) {
			defer wg.Done()
			if _, advanced := d.PubSub.WaitFor(ctx, a.MailboxId, a.SinceSeq); advanced {
				cancel()
			}
		}(a)
	}
	wg.Wait()
}

type aclEditParams struct {
	Auth      string            `json:"auth"`
	MailboxId wire.MailboxId    `json:"mailbox_id"`
	Owner     devicePublicRaw   `json:"owner"`
	Readers   []devicePublicRaw `json:"readers"`
}

type devicePublicRaw struct {
	Signing []byte `json:"signing"`
	Dh      []byte `json:"dh"`
}

func (r devicePublicRaw) decode() (keys.DevicePublic, error) {
	signing, err := keys.SigningPublicFromBytes(r.Signing)
	if err != nil {
		return keys.DevicePublic{}, err
	}
	dh, err := keys.DhPublicFromBytes(r.Dh)
	if err != nil {
		return keys.DevicePublic{}, err
	}
	return keys.DevicePublic{Signing: signing, Dh: dh}, nil
}

func (d *Deps) handleAclEdit(ctx context.Context, raw json.RawMessage) (any, error) {
	var p aclEditParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	claims, err := d.Auth.Verify(p.Auth)
	if err != nil {
		return nil, wire.ErrAccessDenied
	}

	existing, err := d.Store.Acl.Load(ctx, p.MailboxId)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	if existing != nil && !existing.IsOwnerHash(claims.Subject) {
		return nil, wire.ErrAccessDenied
	}

	owner, err := p.Owner.decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	if existing == nil && owner.Hash().String() != claims.Subject {
		return nil, wire.ErrAccessDenied
	}

	readers := make(map[string]keys.DevicePublic, len(p.Readers))
	for _, r := range p.Readers {
		dp, err := r.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
		}
		readers[dp.Hash().String()] = dp
	}

	newAcl := &Acl{Owner: owner, Readers: readers}
	if err := d.Store.Acl.Replace(ctx, p.MailboxId, newAcl); err != nil {
		return nil, wire.ErrRetryLater
	}
	return struct {
		Version uint64 `json:"version"`
	}{newAcl.Version}, nil
}

type profileParams struct {
	Username string `json:"username"`
}

func (d *Deps) handleProfile(ctx context.Context, raw json.RawMessage) (any, error) {
	var p profileParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrBadRequest, err)
	}
	username, err := wire.ParseUserName(p.Username)
	if err != nil {
		return nil, err
	}
	profile, err := d.Store.Profile.Load(ctx, username)
	if err != nil {
		return nil, wire.ErrRetryLater
	}
	if profile == nil {
		return struct {
			Found bool `json:"found"`
		}{false}, nil
	}
	return struct {
		Found bool   `json:"found"`
		Bytes []byte `json:"bytes"`
	}{true, wire.EncodeSignedRecord(profile)}, nil
}

func decodeHashHex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("server: expected 32-byte hash, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
