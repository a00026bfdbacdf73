// SPDX-License-Identifier: LGPL-3.0-or-later

package directory

import (
	"context"
	"fmt"
	"time"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/wire"
)

// Client is the read-side directory client shared by the home server
// (resolving peers' descriptors) and the end-user client (resolving
// both user and server descriptors). It talks JSON-RPC to a directory
// node (primary or mirror — the read API is identical) and verifies
// every record's inclusion proof against a head signed by the pinned
// directory public key before trusting it.
type Client struct {
	rpcClient   *rpc.Client
	directoryPk keys.SigningPublic
}

// NewClient constructs a Client against directoryURL, pinned to directoryPk.
func NewClient(directoryURL string, directoryPk keys.SigningPublic) (*Client, error) {
	rc, err := rpc.NewClient(directoryURL, 1)
	if err != nil {
		return nil, fmt.Errorf("directory: new client: %w", err)
	}
	return &Client{rpcClient: rc, directoryPk: directoryPk}, nil
}

// getHeadParams/getRecordParams/walkParams/requestPowParams/submitUpdateParams
// mirror the directory RPC method signatures.
type getRecordParams struct {
	KeyType string `json:"key_type"`
	Key     string `json:"key"`
}

type getRecordResult struct {
	RecordBytes []byte                         `json:"record_bytes"`
	Found       bool                           `json:"found"`
	Proof       [treeHeight]latticecrypto.Hash `json:"proof"`
	Head        wire.DirectoryHead             `json:"head"`
}

// GetVerifiedRecord calls v1_get_record, then verifies the returned
// head's signature against the pinned directory public key and the
// proof against that head's root hash: "a client verifies
// both the head signature against the pinned directory public key and
// the proof against the head root."
func (c *Client) GetVerifiedRecord(ctx context.Context, key string) (recordBytes []byte, found bool, err error) {
	var res getRecordResult
	if err := c.rpcClient.Call(ctx, "v1_get_record", getRecordParams{Key: key}, &res); err != nil {
		return nil, false, err
	}

	if err := latticecrypto.VerifyStruct(&res.Head, c.directoryPk); err != nil {
		return nil, false, fmt.Errorf("directory: head signature invalid: %w", err)
	}

	keyHash := KeyHash(key)
	var recordBytesForProof []byte
	if res.Found {
		recordBytesForProof = res.RecordBytes
	}
	proof := InclusionProof{Siblings: res.Proof}
	if !VerifyInclusion(res.Head.RootHash, keyHash, recordBytesForProof, proof) {
		return nil, false, fmt.Errorf("directory: inclusion proof does not verify against head root")
	}

	return res.RecordBytes, res.Found, nil
}

// RequestPow calls v1_request_pow to obtain a fresh admission challenge
// for a pending DirectoryUpdate.
func (c *Client) RequestPow(ctx context.Context) (wire.PowSeed, error) {
	var seed wire.PowSeed
	if err := c.rpcClient.Call(ctx, "v1_request_pow", struct{}{}, &seed); err != nil {
		return wire.PowSeed{}, err
	}
	return seed, nil
}

// SubmitUpdate calls v1_submit_update with a signed, PoW-solved update.
func (c *Client) SubmitUpdate(ctx context.Context, upd *wire.DirectoryUpdate) error {
	return c.rpcClient.Call(ctx, "v1_submit_update", upd, nil)
}

// ResolveUser fetches and verifies @username's UserDescriptor.
func (c *Client) ResolveUser(ctx context.Context, username wire.UserName) (*wire.UserDescriptor, error) {
	recordBytes, found, err := c.GetVerifiedRecord(ctx, username.String())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, wire.ErrNotFound
	}
	var desc wire.UserDescriptor
	if err := decodeUserDescriptor(recordBytes, &desc); err != nil {
		return nil, fmt.Errorf("directory: decode user descriptor: %w", err)
	}
	return &desc, nil
}

// ResolveServer fetches and verifies a server's ServerDescriptor.
func (c *Client) ResolveServer(ctx context.Context, serverName wire.ServerName) (*wire.ServerDescriptor, error) {
	recordBytes, found, err := c.GetVerifiedRecord(ctx, serverName.String())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, wire.ErrNotFound
	}
	var desc wire.ServerDescriptor
	if err := decodeServerDescriptor(recordBytes, &desc); err != nil {
		return nil, fmt.Errorf("directory: decode server descriptor: %w", err)
	}
	return &desc, nil
}

// cachedDescriptor is one entry in Cache.
type cachedDescriptor struct {
	userDesc   *wire.UserDescriptor
	serverDesc *wire.ServerDescriptor
	cachedAt   time.Time
}

// Cache wraps a Client with an in-memory verified-descriptor cache, so
// repeated resolution of the same peer does not re-verify a fresh
// inclusion proof on every send. An entry expires ttl after it was
// stored, whether or not it is read in between; the map is unbounded
// and an expired entry is replaced only when its key is resolved again.
type Cache struct {
	client *Client
	ttl    time.Duration

	get func(key string) (cachedDescriptor, bool)
	put func(key string, v cachedDescriptor)
}

// DefaultCacheTTL is how long a verified descriptor is trusted before
// Cache re-resolves it.
const DefaultCacheTTL = 5 * time.Minute

// NewCache constructs a Cache around client with the given ttl
// (DefaultCacheTTL if ttl <= 0), backed by a simple in-memory map. It
// does not read or write client/store's directory_cache table.
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	m := make(map[string]cachedDescriptor)
	return &Cache{
		client: client,
		ttl:    ttl,
		get: func(key string) (cachedDescriptor, bool) {
			v, ok := m[key]
			return v, ok
		},
		put: func(key string, v cachedDescriptor) {
			m[key] = v
		},
	}
}

// ResolveUser returns a cached UserDescriptor if fresh, otherwise
// re-resolves and re-verifies it.
func (c *Cache) ResolveUser(ctx context.Context, username wire.UserName) (*wire.UserDescriptor, error) {
	key := "user:" + username.String()
	if v, ok := c.get(key); ok && v.userDesc != nil && time.Since(v.cachedAt) < c.ttl {
		return v.userDesc, nil
	}
	desc, err := c.client.ResolveUser(ctx, username)
	if err != nil {
		return nil, err
	}
	c.put(key, cachedDescriptor{userDesc: desc, cachedAt: time.Now()})
	return desc, nil
}

// ResolveServer returns a cached ServerDescriptor if fresh, otherwise
// re-resolves and re-verifies it.
func (c *Cache) ResolveServer(ctx context.Context, serverName wire.ServerName) (*wire.ServerDescriptor, error) {
	key := "server:" + serverName.String()
	if v, ok := c.get(key); ok && v.serverDesc != nil && time.Since(v.cachedAt) < c.ttl {
		return v.serverDesc, nil
	}
	desc, err := c.client.ResolveServer(ctx, serverName)
	if err != nil {
		return nil, err
	}
	c.put(key, cachedDescriptor{serverDesc: desc, cachedAt: time.Now()})
	return desc, nil
}

func decodeUserDescriptor(b []byte, out *wire.UserDescriptor) error {
	d := wire.NewDecoder(b)
	serverName, err := d.Str()
	if err != nil {
		return err
	}
	rootHash, err := d.Bytes32()
	if err != nil {
		return err
	}
	sig, err := sliceToSig(b, d)
	if err != nil {
		return err
	}
	out.ServerName = wire.ServerName(serverName)
	copy(out.RootCertHash[:], rootHash)
	out.DirectorySig = sig
	return nil
}

func decodeServerDescriptor(b []byte, out *wire.ServerDescriptor) error {
	d := wire.NewDecoder(b)
	serverName, err := d.Str()
	if err != nil {
		return err
	}
	n, err := d.U64()
	if err != nil {
		return err
	}
	urls := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		u, err := d.Str()
		if err != nil {
			return err
		}
		urls = append(urls, u)
	}
	signingPk, err := d.Bytes32()
	if err != nil {
		return err
	}
	sig, err := sliceToSig(b, d)
	if err != nil {
		return err
	}
	out.ServerName = wire.ServerName(serverName)
	out.PublicUrls = urls
	copy(out.SigningPk[:], signingPk)
	out.DirectorySig = sig
	return nil
}

// sliceToSig reads the trailing 64-byte signature that full record
// bytes carry appended after their CanonicalBytes (the directory
// stores "CanonicalBytes() || Signature" as a record's RecordBytes so
// clients can verify without a side channel for the signature).
func sliceToSig(full []byte, d *wire.Decoder) ([64]byte, error) {
	var sig [64]byte
	if len(full) < 64 {
		return sig, fmt.Errorf("directory: record too short for signature")
	}
	copy(sig[:], full[len(full)-64:])
	return sig, nil
}
