// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
)

func TestMessage_RoundTrip(t *testing.T) {
	m := Message{Kind: MessageKindDirect, Inner: []byte("envelope-bytes")}
	decoded, err := DecodeMessage(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestPlainContent_RoundTrip(t *testing.T) {
	c := PlainContent{Mime: "text/plain", Body: []byte("hi")}
	decoded, err := DecodePlainContent(c.Encode())
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestSignedMediumPk_SignVerifyRoundTrip(t *testing.T) {
	device, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)

	var pk [32]byte
	pk[0] = 0x09
	s := SignedMediumPk{MediumPk: pk, Created: FromTime(time.Now())}
	require.NoError(t, latticecrypto.SignStruct(&s, device.Signing))
	require.NoError(t, latticecrypto.VerifyStruct(&s, device.Signing.Public()))

	encoded := EncodeSignedMediumPk(s)
	decoded, err := DecodeSignedMediumPk(encoded)
	require.NoError(t, err)
	require.Equal(t, s.MediumPk, decoded.MediumPk)
	require.Equal(t, s.Created, decoded.Created)
	require.NoError(t, latticecrypto.VerifyStruct(&decoded, device.Signing.Public()))
}

func TestAclExemptKinds_DirectIsExempt(t *testing.T) {
	require.True(t, AclExemptKinds[MessageKindDirect])
	require.False(t, AclExemptKinds[MessageKindGroup])
}
