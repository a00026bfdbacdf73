// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest_Deterministic(t *testing.T) {
	a := Digest([]byte("hello"))
	b := Digest([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Digest([]byte("hellp")))
}

func TestKeyedDigest_DomainSeparation(t *testing.T) {
	msg := []byte("payload")
	a := KeyedDigest([]byte("domain-a"), msg)
	b := KeyedDigest([]byte("domain-b"), msg)
	assert.NotEqual(t, a, b, "different keys/domain tags must not collide")

	// Keys of different length are canonicalized before use and must not panic.
	c := KeyedDigest([]byte("a-very-long-domain-tag-that-exceeds-32-bytes-of-length"), msg)
	assert.False(t, c.IsZero())
}

func TestHash_IsZero(t *testing.T) {
	var z Hash
	assert.True(t, z.IsZero())
	assert.False(t, Digest([]byte("x")).IsZero())
}
