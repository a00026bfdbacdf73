package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceSecret_SignAndVerify(t *testing.T) {
	d, err := GenerateDeviceSecret()
	require.NoError(t, err)

	pub := d.Public()
	msg := []byte("device binding")
	sig, err := d.Sign(msg)
	require.NoError(t, err)

	assert.NoError(t, pub.Verify(msg, sig))

	sig[0] ^= 0xFF
	assert.Error(t, pub.Verify(msg, sig))
}

func TestDevicePublic_Equal(t *testing.T) {
	d1, err := GenerateDeviceSecret()
	require.NoError(t, err)
	d2, err := GenerateDeviceSecret()
	require.NoError(t, err)

	assert.True(t, d1.Public().Equal(d1.Public()))
	assert.False(t, d1.Public().Equal(d2.Public()))
}

func TestDevicePublic_Hash(t *testing.T) {
	d, err := GenerateDeviceSecret()
	require.NoError(t, err)

	h1 := d.Public().Hash()
	h2 := d.Public().Hash()
	assert.Equal(t, h1, h2)
	assert.False(t, h1.IsZero())
}
