// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
)

// fakeSignable is a minimal Signable for exercising SignStruct/VerifyStruct
// independent of any wire type.
type fakeSignable struct {
	Body []byte
	Sig  []byte
}

func (f *fakeSignable) CanonicalBytes() []byte { return f.Body }
func (f *fakeSignable) DomainTag() string      { return "test/fake@v1" }
func (f *fakeSignable) SetSignature(sig []byte) error {
	f.Sig = sig
	return nil
}
func (f *fakeSignable) GetSignature() []byte { return f.Sig }

// otherTagSignable has fakeSignable's canonical bytes under a different
// domain tag.
type otherTagSignable struct{ fakeSignable }

func (o *otherTagSignable) DomainTag() string { return "test/other@v1" }

func TestSignStructVerifyStruct_RoundTrip(t *testing.T) {
	sk, err := keys.GenerateSigningSecret()
	require.NoError(t, err)

	s := &fakeSignable{Body: []byte("some canonical bytes")}
	require.NoError(t, SignStruct(s, sk))
	require.NotNil(t, s.GetSignature())
	require.NoError(t, VerifyStruct(s, sk.Public()))
}

func TestVerifyStruct_FailsIfBytesChange(t *testing.T) {
	sk, err := keys.GenerateSigningSecret()
	require.NoError(t, err)

	s := &fakeSignable{Body: []byte("original")}
	require.NoError(t, SignStruct(s, sk))

	s.Body = []byte("tampered")
	require.Error(t, VerifyStruct(s, sk.Public()))
}

func TestSignableHash_DomainTagChangesHash(t *testing.T) {
	a := &fakeSignable{Body: []byte("x")}
	h1 := SignableHash(a)

	// Same bytes, same domain tag: hash must match.
	b := &fakeSignable{Body: []byte("x")}
	h2 := SignableHash(b)
	require.Equal(t, h1, h2)

	// Same bytes under a different domain tag: hash must differ.
	c := &otherTagSignable{fakeSignable{Body: []byte("x")}}
	require.NotEqual(t, h1, SignableHash(c))
}

func TestVerifyStruct_NoSignatureIsInvalid(t *testing.T) {
	sk, err := keys.GenerateSigningSecret()
	require.NoError(t, err)
	s := &fakeSignable{Body: []byte("unsigned")}
	require.ErrorIs(t, VerifyStruct(s, sk.Public()), ErrInvalidSignature)
}
