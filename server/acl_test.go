// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-chat/lattice/crypto/keys"
)

func mustDevicePublic(t *testing.T) keys.DevicePublic {
	t.Helper()
	d, err := keys.GenerateDeviceSecret()
	require.NoError(t, err)
	return d.Public()
}

func TestAcl_PermitsOwnerAndReaders(t *testing.T) {
	owner := mustDevicePublic(t)
	reader := mustDevicePublic(t)
	stranger := mustDevicePublic(t)

	acl := &Acl{
		Owner:   owner,
		Readers: map[string]keys.DevicePublic{reader.Hash().String(): reader},
	}

	require.True(t, acl.Permits(owner))
	require.True(t, acl.IsOwner(owner))
	require.True(t, acl.Permits(reader))
	require.False(t, acl.IsOwner(reader))
	require.False(t, acl.Permits(stranger))
}

func TestAcl_NilAclPermitsNothing(t *testing.T) {
	var acl *Acl
	require.False(t, acl.Permits(mustDevicePublic(t)))
	require.False(t, acl.IsOwner(mustDevicePublic(t)))
	require.False(t, acl.PermitsHash("deadbeef"))
}

func TestAcl_EncodeDecodeRoundTrips(t *testing.T) {
	owner := mustDevicePublic(t)
	reader := mustDevicePublic(t)
	acl := &Acl{
		Owner:   owner,
		Readers: map[string]keys.DevicePublic{reader.Hash().String(): reader},
	}

	encoded := encodeAcl(acl)
	decoded, err := decodeAcl(encoded)
	require.NoError(t, err)

	require.True(t, decoded.Owner.Equal(owner))
	require.True(t, decoded.Permits(reader))
	require.False(t, decoded.Permits(mustDevicePublic(t)))
}
