package kbucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketIndexLocalHasNoBucket(t *testing.T) {
	local := RandomID()
	require.Equal(t, -1, BucketIndex(local, local))
}

func TestBucketIndexFarthestAndClosest(t *testing.T) {
	var local, far, near ID
	// far differs from local in the most-significant bit: CPL=0, index=159.
	far = local
	far[0] = 0x80
	require.Equal(t, IDBits-1, BucketIndex(local, far))

	// near differs from local only in the least-significant bit: CPL=159, index=0.
	near = local
	near[IDBytes-1] = 0x01
	require.Equal(t, 0, BucketIndex(local, near))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey([]byte("hello"))
	b := DeriveKey([]byte("hello"))
	c := DeriveKey([]byte("world"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestRandomIDIsNotAllZero(t *testing.T) {
	id := RandomID()
	require.NotEqual(t, ID{}, id)
}

func TestMultihashRoundTrip(t *testing.T) {
	id := RandomID()
	mh, err := id.Multihash()
	require.NoError(t, err)
	back, err := IDFromMultihash(mh)
	require.NoError(t, err)
	require.Equal(t, id, back)
}

func TestXorDistanceSelfIsZero(t *testing.T) {
	id := RandomID()
	d := XorDistance(id, id)
	require.Equal(t, Distance{}, d)
}
