// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
)

func mustDevice(t *testing.T) *keys.DeviceSecret {
	t.Helper()
	d, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	return d
}

func issueCert(t *testing.T, issuer, subject *keys.DeviceSecret, notBefore, notAfter Timestamp) *DeviceCertificate {
	t.Helper()
	c := &DeviceCertificate{
		Issuer:    issuer.Public(),
		Subject:   subject.Public(),
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}
	require.NoError(t, latticecrypto.SignStruct(c, issuer.Signing))
	return c
}

func TestCertificateChain_VerifySpanningTree(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)
	grandchild := mustDevice(t)

	now := FromTime(time.Now())
	validFrom := FromTime(time.Now().Add(-time.Hour))
	validTo := FromTime(time.Now().Add(time.Hour))

	c1 := issueCert(t, root, child, validFrom, validTo)
	c2 := issueCert(t, child, grandchild, validFrom, validTo)

	chain := NewCertificateChain()
	chain.Insert(c1)
	chain.Insert(c2)

	valid, err := chain.Verify(root.Public().Hash(), now)
	require.NoError(t, err)
	require.Len(t, valid, 3)
	require.Contains(t, valid, root.Public().Hash())
	require.Contains(t, valid, child.Public().Hash())
	require.Contains(t, valid, grandchild.Public().Hash())
}

func TestCertificateChain_VerifyRejectsExpired(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)

	now := FromTime(time.Now())
	expired := issueCert(t, root, child, FromTime(time.Now().Add(-2*time.Hour)), FromTime(time.Now().Add(-time.Hour)))

	chain := NewCertificateChain()
	chain.Insert(expired)

	valid, err := chain.Verify(root.Public().Hash(), now)
	require.NoError(t, err)
	require.Len(t, valid, 1, "expired edge must not be traversed")
	require.NotContains(t, valid, child.Public().Hash())
}

func TestCertificateChain_VerifyRejectsBadSignature(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)
	attacker := mustDevice(t)

	now := FromTime(time.Now())
	cert := issueCert(t, root, child, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))
	// Tamper: swap in a signature made by a different key over the same bytes.
	forged, err := attacker.Signing.Sign(latticecrypto.SignableHash(cert).Bytes())
	require.NoError(t, err)
	require.NoError(t, cert.SetSignature(forged))

	chain := NewCertificateChain()
	chain.Insert(cert)

	valid, err := chain.Verify(root.Public().Hash(), now)
	require.NoError(t, err)
	require.Len(t, valid, 1, "forged edge must not verify")
}

func TestCertificateChain_InsertCollapsesDuplicates(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)
	now := FromTime(time.Now())

	c1 := issueCert(t, root, child, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))
	c2 := issueCert(t, root, child, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))

	chain := NewCertificateChain()
	chain.Insert(c1)
	chain.Insert(c2)
	require.Equal(t, 1, chain.Len(), "same (issuer,subject) pair collapses")
	_ = now
}

func TestMerge_CommutativeAssociativeIdempotent(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)
	grandchild := mustDevice(t)

	c1 := issueCert(t, root, child, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))
	c2 := issueCert(t, child, grandchild, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))

	a := NewCertificateChain()
	a.Insert(c1)
	b := NewCertificateChain()
	b.Insert(c2)

	ab := Merge(a, b)
	ba := Merge(b, a)
	require.ElementsMatch(t, keysOf(ab), keysOf(ba), "commutative")

	c := NewCertificateChain()
	c.Insert(c1)
	abc1 := Merge(Merge(a, b), c)
	abc2 := Merge(a, Merge(b, c))
	require.ElementsMatch(t, keysOf(abc1), keysOf(abc2), "associative")

	idem := Merge(ab, ab)
	require.ElementsMatch(t, keysOf(ab), keysOf(idem), "idempotent")
}

func keysOf(c *CertificateChain) []latticecrypto.Hash {
	var out []latticecrypto.Hash
	for _, cert := range c.Certs() {
		out = append(out, cert.Issuer.Hash(), cert.Subject.Hash())
	}
	return out
}

func TestEncodeDecodeCertificateChain_RoundTrip(t *testing.T) {
	root := mustDevice(t)
	child := mustDevice(t)
	cert := issueCert(t, root, child, FromTime(time.Now().Add(-time.Hour)), FromTime(time.Now().Add(time.Hour)))

	chain := NewCertificateChain()
	chain.Insert(cert)

	encoded := EncodeCertificateChain(chain)
	decoded, err := DecodeCertificateChain(encoded)
	require.NoError(t, err)
	require.Equal(t, chain.Len(), decoded.Len())

	now := FromTime(time.Now())
	valid, err := decoded.Verify(root.Public().Hash(), now)
	require.NoError(t, err)
	require.Len(t, valid, 2)
}
