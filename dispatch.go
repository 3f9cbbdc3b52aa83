package dht

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

// handleMessage is installed as the node's rpcserver.Handler: every inbound
// message that doesn't resolve an outstanding waiter arrives here (spec.md
// §4.H's handle_message). It updates the routing table for the sender and
// produces whatever reply (if any) the message type calls for.
func (n *Node) handleMessage(from net.Addr, m message.Message) (message.Message, bool) {
	if m.SenderID() == n.LocalID() {
		// SelfIdClaim (spec.md §7): reject outright, no bucket update,
		// no reply.
		log.Debugf("dropping message claiming local id from %s", from)
		return nil, false
	}
	n.updateBuckets(from, m.SenderID())

	switch msg := m.(type) {
	case message.Ping:
		return message.Pong{Sender: n.LocalID()}.WithCookie(msg.Cookie), true

	case message.FindNode:
		peers := n.rt.GetClosestPeers(msg.Target, n.cfg.K)
		return message.FoundNode{Sender: n.LocalID(), Peers: peers}.WithCookie(msg.Cookie), true

	case message.FindValue:
		values := mergeValues(n.internal.Get(msg.Key), n.external.Get(msg.Key, time.Now()))
		if len(values) > 0 {
			return message.FoundValue{Sender: n.LocalID(), Values: values}.WithCookie(msg.Cookie), true
		}
		peers := n.rt.GetClosestPeers(msg.Key, n.cfg.K)
		return message.FoundNode{Sender: n.LocalID(), Peers: peers}.WithCookie(msg.Cookie), true

	case message.Store:
		if len(msg.Value) <= n.cfg.MaxValueLen {
			n.external.Put(msg.Key, msg.Value, time.Now())
		} else {
			log.Debugf("dropping oversize store from %s for key %s", msg.Sender, msg.Key)
		}
		return nil, false

	default:
		// Pong/FoundNode/FoundValue arriving here are replies whose
		// waiter already expired (spec.md §4.H: a late reply still
		// refreshes the sender's bucket entry above, but otherwise is
		// discarded).
		return nil, false
	}
}

// updateBuckets implements spec.md §4.C/§4.H's bucket-maintenance rule: a
// message from sender is evidence of liveness, so its peer record is
// added or refreshed. A full bucket triggers the eviction probe in the
// background so handleMessage can return the reply without blocking on it.
func (n *Node) updateBuckets(from net.Addr, sender kbucket.ID) {
	if sender == n.LocalID() {
		return
	}
	addr, err := netAddrToMultiaddr(from)
	if err != nil {
		log.Debugf("dropping peer update for %s: %v", sender, err)
		return
	}
	peer := kbucket.Peer{ID: sender, Addr: addr, LastSeen: time.Now()}
	n.mergePeer(peer)
}

// mergePeer adds or refreshes peer in the routing table, running the
// eviction probe when its bucket is full.
func (n *Node) mergePeer(peer kbucket.Peer) {
	res, err := n.rt.Add(peer)
	if err != nil {
		return
	}
	if res != kbucket.AddResultFull {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.pingOrReplaceWith(peer)
	}()
}

// pingOrReplaceWith implements spec.md §4.H's eviction probe: fan Ping out
// across every occupant of candidate's bucket, stalest first, with at most
// Alpha in flight at once. The first one whose reply isn't a Pong is
// evicted and candidate takes its slot; the probe stops there without
// waiting on the rest. Mirrors original_source/src/kademlia.rs's
// ping_or_replace_with, which runs send_many_request over the whole bucket
// node_list and acts on the first non-Pong drained off the reply channel —
// not just the single stalest occupant.
func (n *Node) pingOrReplaceWith(candidate kbucket.Peer) {
	stale := n.rt.StalestFirst(candidate.ID)
	if len(stale) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(n.backgroundCtx())
	defer cancel()

	type probeResult struct {
		peer kbucket.Peer
		pong bool
	}
	results := make(chan probeResult, len(stale))
	sem := make(chan struct{}, n.cfg.Alpha)
	var wg sync.WaitGroup

	for _, p := range stale {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results <- probeResult{peer: p, pong: n.probePing(ctx, p)}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.pong {
			continue
		}
		n.rt.Remove(r.peer.ID)
		n.rt.Add(candidate)
		return
	}
}

// probePing sends a single Ping to p and reports whether the reply was a
// Pong, folding address-resolution and RPC-layer failures into "no".
func (n *Node) probePing(ctx context.Context, p kbucket.Peer) bool {
	addr, err := multiaddrToNetAddr(p.Addr)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()
	ping := message.Ping{Sender: n.LocalID(), Cookie: message.NewCookie()}
	reply, err := n.rpc.SendRequest(ctx, addr, ping)
	if err != nil {
		return false
	}
	_, ok := reply.(message.Pong)
	return ok
}

// mergeValues unions and deduplicates (by content) the internal and
// external value sets for a FindValue reply (spec.md §4.H).
func mergeValues(sets ...[][]byte) [][]byte {
	seen := make(map[string]bool)
	var out [][]byte
	for _, set := range sets {
		for _, v := range set {
			k := string(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

// backgroundCtx returns the node's running context, or Background if the
// node hasn't been Start-ed yet (e.g. unit tests probing mergePeer
// directly).
func (n *Node) backgroundCtx() context.Context {
	if n.ctx != nil {
		return n.ctx
	}
	return context.Background()
}
