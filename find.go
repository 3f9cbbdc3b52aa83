package dht

import (
	"context"
	"sync"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/lookup"
	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

// lookupRefillPoll bounds how often runLookup rechecks the frontier after
// finding it momentarily empty of unqueried candidates while probes are
// still outstanding — mirrors lookup.pollInterval's own documented
// poll-over-condvar tradeoff.
const lookupRefillPoll = 10 * time.Millisecond

// runLookup drives it with up to alpha probes continuously in flight: the
// instant any single probe resolves, its slot is refilled immediately with
// the next unqueried candidate, rather than waiting for the rest of a
// fixed-size wave to finish first (spec.md §5: "Deadlines are per-request,
// not per-wave; a slow peer does not delay peers that answer quickly").
// probe is responsible for calling it.Resolved and, on success, it.AddNodes.
// shouldStop, if non-nil, is checked before each new dispatch and lets a
// caller end the round early (e.g. findValue's K-distinct-responder rule)
// without waiting for the frontier to exhaust.
func (n *Node) runLookup(ctx context.Context, it *lookup.ClosestNodesIter, alpha int, shouldStop func() bool, probe func(kbucket.Peer)) {
	sem := make(chan struct{}, alpha)
	var wg sync.WaitGroup
	var mu sync.Mutex
	outstanding := 0

	for {
		if shouldStop != nil && shouldStop() {
			break
		}
		batch, err := it.Next(ctx, 1)
		if err != nil {
			break
		}
		if len(batch) == 0 {
			mu.Lock()
			out := outstanding
			mu.Unlock()
			if out == 0 {
				break
			}
			// Every currently tracked peer is already queried, but some of
			// those queries are still in flight and may yet call AddNodes
			// with fresh candidates — give them a moment before rechecking,
			// rather than declaring the walk done prematurely.
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-time.After(lookupRefillPoll):
			}
			continue
		}

		p := batch[0]
		mu.Lock()
		outstanding++
		mu.Unlock()
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			probe(p)
			mu.Lock()
			outstanding--
			mu.Unlock()
		}()
	}
	wg.Wait()
}

// findNode runs the iterative closest-nodes lookup of spec.md §4.F/§4.H:
// starting from the node's own routing-table view, it keeps up to α
// requests to unqueried frontier members outstanding at once, folding every
// reply back into the frontier, until nothing is left to query. It returns
// the K closest peers found.
func (n *Node) findNode(ctx context.Context, target kbucket.ID) []kbucket.Peer {
	it := lookup.New(target, n.cfg.K, n.rt.GetClosestPeers(target, n.cfg.K))

	n.runLookup(ctx, it, n.cfg.Alpha, nil, func(p kbucket.Peer) {
		peers, ok := n.askFindNode(ctx, p, target)
		it.Resolved(p)
		if ok {
			it.AddNodes(n.filterSelf(peers))
		}
	})
	return it.GetClosestNodes(n.cfg.K)
}

func (n *Node) askFindNode(ctx context.Context, p kbucket.Peer, target kbucket.ID) ([]kbucket.Peer, bool) {
	addr, err := multiaddrToNetAddr(p.Addr)
	if err != nil {
		return nil, false
	}
	req := message.FindNode{Sender: n.LocalID(), Target: target, Cookie: message.NewCookie()}
	reply, err := n.rpc.SendRequest(ctx, addr, req)
	if err != nil {
		return nil, false
	}
	fn, ok := reply.(message.FoundNode)
	if !ok {
		return nil, false
	}
	n.mergePeer(kbucket.Peer{ID: fn.Sender, Addr: p.Addr})
	return fn.Peers, true
}

// findValue runs the iterative FIND_VALUE lookup of spec.md §4.G/§4.H. A
// hit (FoundValue) is unioned, deduplicated by content, into the result
// set and counts its sender toward the distinct-responder tally; a miss
// reuses the FoundNode shape and its peers feed the frontier like a plain
// findNode round. The walk stops once K distinct peers have answered with
// at least one value (the literal reading of the open terminal-condition
// question in spec.md §9) or the frontier is exhausted.
func (n *Node) findValue(ctx context.Context, key kbucket.ID) ([][]byte, []kbucket.Peer) {
	it := lookup.New(key, n.cfg.K, n.rt.GetClosestPeers(key, n.cfg.K))

	var mu sync.Mutex
	values := make(map[string][]byte)
	valueNodes := make(map[kbucket.ID]bool)

	shouldStop := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(valueNodes) >= n.cfg.K
	}

	n.runLookup(ctx, it, n.cfg.Alpha, shouldStop, func(p kbucket.Peer) {
		vals, peers, hit, ok := n.askFindValue(ctx, p, key)
		it.Resolved(p)
		if !ok {
			return
		}
		if hit {
			mu.Lock()
			valueNodes[p.ID] = true
			for _, v := range vals {
				values[string(v)] = v
			}
			mu.Unlock()
			return
		}
		it.AddNodes(n.filterSelf(peers))
	})

	mu.Lock()
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	mu.Unlock()
	return out, it.GetClosestNodes(n.cfg.K)
}

func (n *Node) askFindValue(ctx context.Context, p kbucket.Peer, key kbucket.ID) (values [][]byte, peers []kbucket.Peer, hit bool, ok bool) {
	addr, err := multiaddrToNetAddr(p.Addr)
	if err != nil {
		return nil, nil, false, false
	}
	req := message.FindValue{Sender: n.LocalID(), Key: key, Cookie: message.NewCookie()}
	reply, err := n.rpc.SendRequest(ctx, addr, req)
	if err != nil {
		return nil, nil, false, false
	}
	switch r := reply.(type) {
	case message.FoundValue:
		n.mergePeer(kbucket.Peer{ID: r.Sender, Addr: p.Addr})
		return r.Values, nil, true, true
	case message.FoundNode:
		n.mergePeer(kbucket.Peer{ID: r.Sender, Addr: p.Addr})
		return nil, r.Peers, false, true
	default:
		return nil, nil, false, false
	}
}

// filterSelf drops the local ID from a peer list before it reaches the
// lookup frontier (spec.md §4.H's "filter out the local ID" step).
func (n *Node) filterSelf(peers []kbucket.Peer) []kbucket.Peer {
	local := n.LocalID()
	out := peers[:0:0]
	for _, p := range peers {
		if p.ID != local {
			out = append(out, p)
		}
	}
	return out
}

// Get performs a FIND_VALUE lookup for key, checking the local
// internal/external stores first exactly as an inbound FindValue would,
// and returns every value found — empty, never nil, on a miss (spec.md
// §6's get).
func (n *Node) Get(ctx context.Context, key kbucket.ID) [][]byte {
	if local := mergeValues(n.internal.Get(key), n.external.Get(key, time.Now())); len(local) > 0 {
		return local
	}
	values, _ := n.findValue(ctx, key)
	if values == nil {
		values = [][]byte{}
	}
	return values
}
