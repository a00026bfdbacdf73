// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"fmt"
	"sort"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
)

const deviceCertificateDomainTag = "lattice.device_certificate.v1"

// DeviceCertificate is one signed edge in a device chain: issuer
// attests that subject is a valid device for the same identity, valid
// over [NotBefore, NotAfter).
type DeviceCertificate struct {
	Issuer    keys.DevicePublic
	Subject   keys.DevicePublic
	NotBefore Timestamp
	NotAfter  Timestamp
	Signature [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (c *DeviceCertificate) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Bytes32(c.Issuer.Signing.Bytes()).
		Bytes32(c.Issuer.Dh.Bytes()).
		Bytes32(c.Subject.Signing.Bytes()).
		Bytes32(c.Subject.Dh.Bytes()).
		I64(int64(c.NotBefore)).
		I64(int64(c.NotAfter))
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (c *DeviceCertificate) DomainTag() string {
	return deviceCertificateDomainTag
}

// SetSignature implements crypto.Signable.
func (c *DeviceCertificate) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: device certificate signature must be 64 bytes, got %d", len(sig))
	}
	copy(c.Signature[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (c *DeviceCertificate) GetSignature() []byte {
	if c.Signature == ([64]byte{}) {
		return nil
	}
	return c.Signature[:]
}

// validAt reports whether c's validity window contains t.
func (c *DeviceCertificate) validAt(t Timestamp) bool {
	return !t.Before(c.NotBefore) && t.Before(c.NotAfter)
}

// verifySignature checks c.Signature against the issuer's signing key.
func (c *DeviceCertificate) verifySignature() error {
	h := latticecrypto.SignableHash(c)
	return c.Issuer.Signing.Verify(h[:], c.Signature[:])
}

type certKey struct {
	issuer  latticecrypto.Hash
	subject latticecrypto.Hash
}

// CertificateChain is an ordered set of DeviceCertificates, unique by
// (issuer, subject) pair.
type CertificateChain struct {
	certs map[certKey]*DeviceCertificate
	order []certKey
}

// NewCertificateChain returns an empty chain.
func NewCertificateChain() *CertificateChain {
	return &CertificateChain{certs: make(map[certKey]*DeviceCertificate)}
}

// Insert adds cert, collapsing duplicates keyed by (issuer, subject).
func (c *CertificateChain) Insert(cert *DeviceCertificate) {
	k := certKey{issuer: cert.Issuer.Hash(), subject: cert.Subject.Hash()}
	if _, exists := c.certs[k]; !exists {
		c.order = append(c.order, k)
	}
	c.certs[k] = cert
}

// Certs returns the chain's certificates in insertion order.
func (c *CertificateChain) Certs() []*DeviceCertificate {
	out := make([]*DeviceCertificate, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.certs[k])
	}
	return out
}

// Len returns the number of certificates in the chain.
func (c *CertificateChain) Len() int {
	return len(c.certs)
}

// Merge returns a new chain containing the union of a and b's
// certificates. Merge is commutative, associative, and idempotent
// because the result depends only on the set of (issuer, subject) keys
// present, not on either input's order.
func Merge(a, b *CertificateChain) *CertificateChain {
	out := NewCertificateChain()
	if a != nil {
		for _, cert := range a.Certs() {
			out.Insert(cert)
		}
	}
	if b != nil {
		for _, cert := range b.Certs() {
			out.Insert(cert)
		}
	}
	return out
}

// Verify checks that there exists a spanning tree of signed, currently
// valid edges rooted at the device public whose hash is rootHash, and
// returns the set of device publics reachable from it. Edges with a bad
// signature or a validity window that excludes now are skipped, so
// devices reachable only through them are left out of the result; it
// fails only if rootHash has no matching node.
func (c *CertificateChain) Verify(rootHash latticecrypto.Hash, now Timestamp) (map[latticecrypto.Hash]keys.DevicePublic, error) {
	byIssuer := make(map[latticecrypto.Hash][]*DeviceCertificate)
	nodeByHash := make(map[latticecrypto.Hash]keys.DevicePublic)
	for _, cert := range c.Certs() {
		ih := cert.Issuer.Hash()
		byIssuer[ih] = append(byIssuer[ih], cert)
		nodeByHash[ih] = cert.Issuer
		nodeByHash[cert.Subject.Hash()] = cert.Subject
	}

	if _, ok := nodeByHash[rootHash]; !ok {
		return nil, fmt.Errorf("wire: certificate chain has no device matching root hash")
	}

	valid := map[latticecrypto.Hash]keys.DevicePublic{rootHash: nodeByHash[rootHash]}
	queue := []latticecrypto.Hash{rootHash}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		edges := byIssuer[cur]
		sort.Slice(edges, func(i, j int) bool {
			return string(edges[i].Subject.Hash().Bytes()) < string(edges[j].Subject.Hash().Bytes())
		})
		for _, cert := range edges {
			sh := cert.Subject.Hash()
			if _, seen := valid[sh]; seen {
				continue
			}
			if !cert.validAt(now) {
				continue
			}
			if err := cert.verifySignature(); err != nil {
				continue
			}
			valid[sh] = cert.Subject
			queue = append(queue, sh)
		}
	}
	return valid, nil
}

// EncodeCertificateChain serializes c's certificates (order-independent:
// Merge is associative/commutative/idempotent over the set of edges, so
// the encoding need not preserve insertion order) as a canonical
// length-prefixed list for durable storage or wire transfer.
func EncodeCertificateChain(c *CertificateChain) []byte {
	e := NewEncoder()
	if c == nil {
		e.U64(0)
		return e.Bytes()
	}
	certs := c.Certs()
	e.U64(uint64(len(certs)))
	for _, cert := range certs {
		body := NewEncoder()
		body.Bytes32(cert.Issuer.Signing.Bytes()).
			Bytes32(cert.Issuer.Dh.Bytes()).
			Bytes32(cert.Subject.Signing.Bytes()).
			Bytes32(cert.Subject.Dh.Bytes()).
			I64(int64(cert.NotBefore)).
			I64(int64(cert.NotAfter))
		e.Blob(body.Bytes())
		e.Blob(cert.Signature[:])
	}
	return e.Bytes()
}

// DecodeCertificateChain parses bytes produced by EncodeCertificateChain.
func DecodeCertificateChain(b []byte) (*CertificateChain, error) {
	d := NewDecoder(b)
	n, err := d.U64()
	if err != nil {
		return nil, err
	}
	chain := NewCertificateChain()
	for i := uint64(0); i < n; i++ {
		body, err := d.Blob()
		if err != nil {
			return nil, err
		}
		sig, err := d.Blob()
		if err != nil {
			return nil, err
		}
		cert, err := decodeCertBody(body, sig)
		if err != nil {
			return nil, err
		}
		chain.Insert(cert)
	}
	return chain, nil
}

func decodeCertBody(body, sig []byte) (*DeviceCertificate, error) {
	bd := NewDecoder(body)
	issuerSigning, err := bd.Bytes32()
	if err != nil {
		return nil, err
	}
	issuerDh, err := bd.Bytes32()
	if err != nil {
		return nil, err
	}
	subjectSigning, err := bd.Bytes32()
	if err != nil {
		return nil, err
	}
	subjectDh, err := bd.Bytes32()
	if err != nil {
		return nil, err
	}
	notBefore, err := bd.I64()
	if err != nil {
		return nil, err
	}
	notAfter, err := bd.I64()
	if err != nil {
		return nil, err
	}

	issuerSigningPub, err := keys.SigningPublicFromBytes(issuerSigning)
	if err != nil {
		return nil, err
	}
	issuerDhPub, err := keys.DhPublicFromBytes(issuerDh)
	if err != nil {
		return nil, err
	}
	subjectSigningPub, err := keys.SigningPublicFromBytes(subjectSigning)
	if err != nil {
		return nil, err
	}
	subjectDhPub, err := keys.DhPublicFromBytes(subjectDh)
	if err != nil {
		return nil, err
	}

	cert := &DeviceCertificate{
		Issuer:    keys.DevicePublic{Signing: issuerSigningPub, Dh: issuerDhPub},
		Subject:   keys.DevicePublic{Signing: subjectSigningPub, Dh: subjectDhPub},
		NotBefore: Timestamp(notBefore),
		NotAfter:  Timestamp(notAfter),
	}
	if len(sig) == 64 {
		copy(cert.Signature[:], sig)
	}
	return cert, nil
}
