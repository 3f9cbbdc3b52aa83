package dht

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

func testOpts(t *testing.T) []Option {
	t.Helper()
	return []Option{
		WithExternalTTL(2 * time.Second),
		WithRefreshPeriod(time.Hour),
	}
}

func startSupernode(t *testing.T, ctx context.Context) *Node {
	t.Helper()
	n, err := NewSupernode(ctx, "127.0.0.1:0", testOpts(t)...)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func bootstrapAgainst(t *testing.T, ctx context.Context, supernodes ...*Node) *Node {
	t.Helper()
	addrs := make([]multiaddr.Multiaddr, len(supernodes))
	for i, sn := range supernodes {
		addrs[i] = sn.Addr()
	}
	n, err := Bootstrap(ctx, "127.0.0.1:0", addrs, nil, testOpts(t)...)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func containsID(peers []kbucket.Peer, id kbucket.ID) bool {
	for _, p := range peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestTwoNodePingBootstrap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startSupernode(t, ctx)
	b := bootstrapAgainst(t, ctx, a)

	require.Eventually(t, func() bool {
		return containsID(a.GetNodes(), b.GetOwnID()) && containsID(b.GetNodes(), a.GetOwnID())
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPutGetSameNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startSupernode(t, ctx)
	key := kbucket.DeriveKey([]byte("AB-CD"))

	require.NoError(t, a.Put(ctx, key, []byte("hello")))
	got := a.Get(ctx, key)
	require.Equal(t, [][]byte{[]byte("hello")}, got)
}

func TestPutGetAcrossThreeNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startSupernode(t, ctx)
	b := bootstrapAgainst(t, ctx, a)
	c := bootstrapAgainst(t, ctx, a, b)

	require.Eventually(t, func() bool {
		return len(a.GetNodes()) >= 2 && len(b.GetNodes()) >= 2 && len(c.GetNodes()) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	key := kbucket.RandomID()
	require.NoError(t, b.Put(ctx, key, []byte("v")))

	require.Eventually(t, func() bool {
		av := a.Get(ctx, key)
		cv := c.Get(ctx, key)
		return containsValue(av, "v") && containsValue(cv, "v")
	}, 5*time.Second, 100*time.Millisecond)
}

func containsValue(values [][]byte, want string) bool {
	for _, v := range values {
		if string(v) == want {
			return true
		}
	}
	return false
}

func TestOversizeRejection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startSupernode(t, ctx)
	key := kbucket.RandomID()
	big := make([]byte, MaxValueLen+1)

	err := a.Put(ctx, key, big)
	require.Error(t, err)
	var rejected *RejectedValueError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, big, rejected.Value)

	require.Empty(t, a.Get(ctx, key))
}

func TestRemoveStopsRepublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := append(testOpts(t), WithExternalTTL(200*time.Millisecond))
	a, err := NewSupernode(ctx, "127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b := bootstrapAgainst(t, ctx, a)

	key := kbucket.RandomID()
	require.NoError(t, a.Put(ctx, key, []byte("v")))

	require.Eventually(t, func() bool {
		return containsValue(b.Get(ctx, key), "v")
	}, 2*time.Second, 50*time.Millisecond)

	require.True(t, a.Remove(key, []byte("v")))

	// b's copy expires at TTL and a's republisher has stopped, so after
	// a couple of TTL/2 cycles nobody should be able to find it anymore.
	require.Eventually(t, func() bool {
		return !containsValue(b.Get(ctx, key), "v")
	}, 3*time.Second, 100*time.Millisecond)
}

func TestBucketFullEvictionProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewSupernode(ctx, "127.0.0.1:0", append(testOpts(t), WithK(2), WithRequestTimeout(200*time.Millisecond))...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	local := a.LocalID()
	mkID := func(n byte) kbucket.ID {
		id := local
		id[kbucket.IDBytes-2] ^= 0x01
		id[kbucket.IDBytes-1] ^= n
		return id
	}

	unreachable := func(n byte, port int) kbucket.Peer {
		ma, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/udp/%d", port))
		require.NoError(t, err)
		return kbucket.Peer{ID: mkID(n), Addr: ma, LastSeen: time.Now()}
	}

	p1 := unreachable(0x02, 1) // ports 1/2 are never listened on in this test
	p2 := unreachable(0x04, 2)
	_, err = a.rt.Add(p1)
	require.NoError(t, err)
	_, err = a.rt.Add(p2)
	require.NoError(t, err)

	candidate := kbucket.Peer{ID: mkID(0x08), Addr: a.Addr(), LastSeen: time.Now()}
	a.mergePeer(candidate)

	// Both p1 and p2 are equally unreachable, so the fan-out probe may
	// evict either one first — whichever non-Pong is drained off first.
	// What must hold is: the candidate got in, and exactly one of the two
	// stale occupants was displaced to make room for it.
	require.Eventually(t, func() bool {
		peers := a.rt.Bucket(candidate.ID)
		return containsID(peers, candidate.ID) && containsID(peers, p1.ID) != containsID(peers, p2.ID)
	}, 2*time.Second, 50*time.Millisecond)
}
