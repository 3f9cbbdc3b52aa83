package rpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

var log = logging.Logger("rpcserver")

// DefaultTimeout is the request/reply round-trip bound (spec.md §6).
const DefaultTimeout = 2000 * time.Millisecond

// ErrClosed is returned by SendRequest once the server has been closed.
var ErrClosed = errors.New("rpcserver: server closed")

// Handler processes an inbound message that is not itself a reply to an
// outstanding request (i.e. every message the dispatcher must act on:
// Ping, FindNode, FindValue, Store, and unsolicited Pong/FoundNode/
// FoundValue). It returns an optional reply to send back to from.
type Handler func(from net.Addr, m message.Message) (reply message.Message, ok bool)

// waiter is a single outstanding request awaiting a reply keyed by cookie,
// mirroring go-ethereum's replyMatcher.
type waiter struct {
	cookie message.Cookie
	ch     chan message.Message
}

// Server is the RPC node of spec.md §4.E: it owns the packet transport, a
// codec, and the set of outstanding cookie-keyed waiters, and runs the
// receive loop that either resolves a waiter or hands the message to the
// installed Handler.
type Server struct {
	conn    PacketConn
	codec   Codec
	timeout time.Duration

	mu      sync.Mutex
	waiters map[message.Cookie]*waiter
	closed  bool

	handlerMu sync.RWMutex
	handler   Handler

	wg sync.WaitGroup
}

// New constructs a Server over conn/codec. Call Serve to start the receive
// loop once a Handler has been installed with SetHandler.
func New(conn PacketConn, codec Codec) *Server {
	return &Server{
		conn:    conn,
		codec:   codec,
		timeout: DefaultTimeout,
		waiters: make(map[message.Cookie]*waiter),
	}
}

// SetTimeout overrides the per-request round-trip bound (default
// DefaultTimeout).
func (s *Server) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.timeout = d
}

// SetHandler installs the callback invoked for every inbound message that
// does not resolve an outstanding waiter.
func (s *Server) SetHandler(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// Serve runs the receive loop until ctx is canceled or the server is
// closed. It is meant to run in its own goroutine.
func (s *Server) Serve(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.isClosed() {
				return
			}
			log.Debugf("read error: %v", err)
			continue
		}
		m, err := s.codec.Decode(buf[:n])
		if err != nil {
			log.Debugf("decode error from %s: %v", addr, err)
			continue
		}
		s.dispatch(addr, m)
	}
}

func (s *Server) dispatch(from net.Addr, m message.Message) {
	if s.resolve(m) {
		return
	}
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h == nil {
		return
	}
	reply, ok := h(from, m)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.send(from, reply); err != nil {
			log.Debugf("reply send to %s failed: %v", from, err)
		}
	}()
}

// resolve delivers m to its waiter, if one is outstanding for m's cookie,
// and reports whether it did.
func (s *Server) resolve(m message.Message) bool {
	s.mu.Lock()
	w, ok := s.waiters[m.RequestCookie()]
	if ok {
		delete(s.waiters, m.RequestCookie())
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- m
	return true
}

func (s *Server) send(to net.Addr, m message.Message) error {
	b, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteTo(b, to)
	return err
}

// SendRequest sends m to addr and blocks until a message carrying m's
// cookie arrives, ctx is canceled, or the timeout elapses — whichever
// comes first (spec.md §4.E).
func (s *Server) SendRequest(ctx context.Context, addr net.Addr, m message.Message) (message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	w := &waiter{cookie: m.RequestCookie(), ch: make(chan message.Message, 1)}
	s.waiters[w.cookie] = w
	s.mu.Unlock()

	if err := s.send(addr, m); err != nil {
		s.mu.Lock()
		delete(s.waiters, w.cookie)
		s.mu.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case reply, ok := <-w.ch:
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, w.cookie)
		s.mu.Unlock()
		return nil, message.ErrTimeout
	}
}

// SendManyRequest fans m out to peers with at most α in flight at once
// (spec.md §4.E), returning every reply that arrived before its own
// timeout. Non-responders are simply absent from the result, never an
// error — a quiet timeout is the expected steady state of a lookup round.
func (s *Server) SendManyRequest(ctx context.Context, peers []kbucket.Peer, newMsg func(kbucket.Peer) message.Message, alpha int) []PeerReply {
	if alpha <= 0 {
		alpha = 1
	}
	sem := make(chan struct{}, alpha)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []PeerReply

	for _, p := range peers {
		p := p
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			addr, err := peerNetAddr(p)
			if err != nil {
				log.Debugf("skipping peer %s: %v", p.ID, err)
				return
			}
			reply, err := s.SendRequest(ctx, addr, newMsg(p))
			if err != nil {
				return
			}
			mu.Lock()
			out = append(out, PeerReply{Peer: p, Msg: reply})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// PeerReply pairs a reply with the peer that sent it.
type PeerReply struct {
	Peer kbucket.Peer
	Msg  message.Message
}

// HitAndRun sends m to addr without waiting for any reply — used for
// fire-and-forget Store propagation (spec.md §4.G).
func (s *Server) HitAndRun(addr net.Addr, m message.Message) error {
	return s.send(addr, m)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the receive loop and releases any goroutine blocked in
// SendRequest with ErrClosed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for cookie, w := range s.waiters {
		close(w.ch)
		delete(s.waiters, cookie)
	}
	s.mu.Unlock()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func peerNetAddr(p kbucket.Peer) (net.Addr, error) {
	return multiaddrToUDPAddr(p.Addr)
}
