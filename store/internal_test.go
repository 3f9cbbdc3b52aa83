package store

import (
	"testing"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/stretchr/testify/require"
)

func TestInternalPutGetRemove(t *testing.T) {
	s := NewInternal()
	key := kbucket.RandomID()

	require.Nil(t, s.Get(key))

	s.Put(key, []byte("hello"))
	v := s.Get(key)
	require.Equal(t, [][]byte{[]byte("hello")}, v)
	require.True(t, s.Contains(key, []byte("hello")))

	require.True(t, s.Remove(key, []byte("hello")))
	require.False(t, s.Remove(key, []byte("hello")))
	require.False(t, s.Contains(key, []byte("hello")))
	require.Nil(t, s.Get(key))
}

func TestInternalPutCoalescesDuplicateValues(t *testing.T) {
	s := NewInternal()
	key := kbucket.RandomID()
	s.Put(key, []byte("v"))
	s.Put(key, []byte("v"))
	require.Len(t, s.Get(key), 1)
}

func TestInternalSupportsMultipleValuesPerKey(t *testing.T) {
	s := NewInternal()
	key := kbucket.RandomID()
	s.Put(key, []byte("v1"))
	s.Put(key, []byte("v2"))

	got := s.Get(key)
	require.ElementsMatch(t, [][]byte{[]byte("v1"), []byte("v2")}, got)

	require.True(t, s.Remove(key, []byte("v1")))
	require.Equal(t, [][]byte{[]byte("v2")}, s.Get(key))
}

func TestInternalRemoveKeyDropsAllValues(t *testing.T) {
	s := NewInternal()
	key := kbucket.RandomID()
	s.Put(key, []byte("v1"))
	s.Put(key, []byte("v2"))

	require.True(t, s.RemoveKey(key))
	require.Nil(t, s.Get(key))
	require.False(t, s.RemoveKey(key))
}

func TestInternalKeysListsAllOwned(t *testing.T) {
	s := NewInternal()
	k1, k2 := kbucket.RandomID(), kbucket.RandomID()
	s.Put(k1, []byte("a"))
	s.Put(k2, []byte("b"))

	keys := s.Keys()
	require.ElementsMatch(t, []kbucket.ID{k1, k2}, keys)
}
