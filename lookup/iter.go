// Package lookup implements the closest-nodes iterator of spec.md §4.F: the
// shared frontier structure an iterative FIND_NODE/FIND_VALUE walk narrows
// round by round.
package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// pollInterval bounds how often Next rechecks the frontier for newly
// queryable peers. A condition-variable design was considered and rejected:
// correctly composing sync.Cond with context cancellation needs either a
// watcher goroutine per waiter or a broadcast-on-every-mutation discipline,
// both more machinery than a short poll buys back here.
const pollInterval = 10 * time.Millisecond

type candidate struct {
	peer    kbucket.Peer
	queried bool
}

// ClosestNodesIter tracks the K peers closest to a target seen so far,
// each marked queried once a round has been sent to it (spec.md §4.F). A
// lookup driver calls Next to pull up to α not-yet-queried peers per
// round, feeds replies back through AddNodes, and stops once Next reports
// nothing left to query.
type ClosestNodesIter struct {
	target kbucket.ID
	k      int

	mu    sync.Mutex
	peers []candidate
}

// New seeds the iterator with target and an initial peer set (typically
// the caller's own k closest known peers), keeping at most k of them.
func New(target kbucket.ID, k int, seed []kbucket.Peer) *ClosestNodesIter {
	it := &ClosestNodesIter{target: target, k: k}
	it.AddNodes(seed)
	return it
}

// AddNodes merges newly learned peers into the frontier, re-sorts by
// distance to target, and truncates to the k closest — spec.md §4.F's
// "keep the k best seen so far" rule. Peers already present keep their
// queried flag; new ones start unqueried.
func (it *ClosestNodesIter) AddNodes(peers []kbucket.Peer) {
	if len(peers) == 0 {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()

	seen := make(map[kbucket.ID]bool, len(it.peers))
	for _, c := range it.peers {
		seen[c.peer.ID] = true
	}
	for _, p := range peers {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		it.peers = append(it.peers, candidate{peer: p})
	}

	flat := make([]kbucket.Peer, len(it.peers))
	for i, c := range it.peers {
		flat[i] = c.peer
	}
	kbucket.SortByDistance(flat, it.target)
	if len(flat) > it.k {
		flat = flat[:it.k]
	}

	byID := make(map[kbucket.ID]bool, len(it.peers))
	queriedByID := make(map[kbucket.ID]bool, len(it.peers))
	for _, c := range it.peers {
		byID[c.peer.ID] = true
		if c.queried {
			queriedByID[c.peer.ID] = true
		}
	}
	next := make([]candidate, len(flat))
	for i, p := range flat {
		next[i] = candidate{peer: p, queried: queriedByID[p.ID]}
	}
	it.peers = next
}

// Resolved marks peer as queried so future Next calls skip it, even if it
// never responds — spec.md §4.F: a round counts a peer as handled whether
// or not its reply arrives before the request timeout.
func (it *ClosestNodesIter) Resolved(peer kbucket.Peer) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for i, c := range it.peers {
		if c.peer.ID == peer.ID {
			it.peers[i].queried = true
			return
		}
	}
}

// Next blocks until up to alpha unqueried peers are available, ctx is
// canceled, or the frontier is exhausted (every tracked peer already
// queried), in which case it returns an empty, non-nil-error-free slice.
// It marks every peer it returns as queried so a caller cannot pull the
// same candidate twice without an intervening Resolved/AddNodes round.
func (it *ClosestNodesIter) Next(ctx context.Context, alpha int) ([]kbucket.Peer, error) {
	for {
		it.mu.Lock()
		var out []kbucket.Peer
		allQueried := true
		for i := range it.peers {
			if !it.peers[i].queried {
				allQueried = false
			}
			if len(out) >= alpha {
				continue
			}
			if !it.peers[i].queried {
				it.peers[i].queried = true
				out = append(out, it.peers[i].peer)
			}
		}
		done := allQueried && len(out) == 0
		it.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		if done {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// GetClosestNodes returns up to n of the current frontier, closest first,
// regardless of queried state — used once a lookup converges to read out
// its final answer (spec.md §4.F).
func (it *ClosestNodesIter) GetClosestNodes(n int) []kbucket.Peer {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]kbucket.Peer, 0, len(it.peers))
	for _, c := range it.peers {
		out = append(out, c.peer)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
