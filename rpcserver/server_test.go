package rpcserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
	"github.com/stretchr/testify/require"
)

// fakeAddr and fakeConn implement net.Addr/PacketConn over an in-memory
// pipe registry so tests don't open real sockets.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

type packet struct {
	data []byte
	from net.Addr
}

type fakeConn struct {
	self fakeAddr
	reg  *registry

	mu     sync.Mutex
	inbox  chan packet
	closed bool
}

type registry struct {
	mu    sync.Mutex
	conns map[fakeAddr]*fakeConn
}

func newRegistry() *registry { return &registry{conns: make(map[fakeAddr]*fakeConn)} }

func (r *registry) newConn(addr fakeAddr) *fakeConn {
	c := &fakeConn{self: addr, reg: r, inbox: make(chan packet, 64)}
	r.mu.Lock()
	r.conns[addr] = c
	r.mu.Unlock()
	return c
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	p, ok := <-c.inbox
	if !ok {
		return 0, nil, net.ErrClosed
	}
	n := copy(b, p.data)
	return n, p.from, nil
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.reg.mu.Lock()
	dst, ok := c.reg.conns[addr.(fakeAddr)]
	c.reg.mu.Unlock()
	if !ok {
		return 0, net.ErrClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	dst.inbox <- packet{data: cp, from: c.self}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbox)
	return nil
}

func TestSendRequestReceivesMatchingReply(t *testing.T) {
	reg := newRegistry()
	aAddr, bAddr := fakeAddr("a"), fakeAddr("b")
	aConn := reg.newConn(aAddr)
	bConn := reg.newConn(bAddr)

	a := New(aConn, GobCodec{})
	b := New(bConn, GobCodec{})

	bID := kbucket.RandomID()
	b.SetHandler(func(from net.Addr, m message.Message) (message.Message, bool) {
		ping := m.(message.Ping)
		return message.Pong{Sender: bID}.WithCookie(ping.RequestCookie()), true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Serve(ctx)
	go b.Serve(ctx)
	defer a.Close()
	defer b.Close()

	aID := kbucket.RandomID()
	req := message.Ping{Sender: aID, Cookie: message.NewCookie()}
	reply, err := a.SendRequest(context.Background(), bAddr, req)
	require.NoError(t, err)
	pong, ok := reply.(message.Pong)
	require.True(t, ok)
	require.Equal(t, bID, pong.Sender)
}

func TestSendRequestTimesOutWithoutReply(t *testing.T) {
	reg := newRegistry()
	aAddr, bAddr := fakeAddr("a2"), fakeAddr("b2")
	aConn := reg.newConn(aAddr)
	_ = reg.newConn(bAddr) // no handler installed, never replies

	a := New(aConn, GobCodec{})
	a.timeout = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Serve(ctx)
	defer a.Close()

	req := message.Ping{Sender: kbucket.RandomID(), Cookie: message.NewCookie()}
	_, err := a.SendRequest(context.Background(), bAddr, req)
	require.ErrorIs(t, err, message.ErrTimeout)
}

func TestSendManyRequestSkipsPeersWithUnresolvableAddr(t *testing.T) {
	reg := newRegistry()
	aAddr := fakeAddr("fanout-a")
	aConn := reg.newConn(aAddr)
	a := New(aConn, GobCodec{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Serve(ctx)
	defer a.Close()

	// These peers carry no Addr at all, so SendManyRequest's per-peer
	// address resolution fails for every one of them and the fan-out
	// returns no replies without blocking or erroring.
	peers := []kbucket.Peer{{ID: kbucket.RandomID()}, {ID: kbucket.RandomID()}}
	target := kbucket.RandomID()
	replies := a.SendManyRequest(context.Background(), peers, func(p kbucket.Peer) message.Message {
		return message.FindNode{Sender: kbucket.RandomID(), Target: target, Cookie: message.NewCookie()}
	}, 2)
	require.Len(t, replies, 0)
}
