package kbucket

import (
	"sort"
	"sync"
)

// AddResult describes the outcome of adding a candidate peer to a bucket.
type AddResult int

const (
	// AddResultUpdated means the peer already existed and was moved to the
	// tail with a refreshed LastSeen.
	AddResultUpdated AddResult = iota
	// AddResultInserted means the peer was new and the bucket had room.
	AddResultInserted
	// AddResultFull means the bucket (or the IP-diversity guard) rejected
	// the candidate; the caller owns running the eviction probe.
	AddResultFull
)

// bucket is an ordered list of at most k peers, least-recently-seen first.
type bucket struct {
	mu    sync.Mutex
	peers []Peer
	div   *ipDiversity
}

func newBucket(diversityLimit int) *bucket {
	return &bucket{div: newIPDiversity(diversityLimit)}
}

func (b *bucket) snapshot() []Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Peer, len(b.peers))
	copy(out, b.peers)
	return out
}

func (b *bucket) stalestFirst() []Peer {
	out := b.snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.Before(out[j].LastSeen) })
	return out
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// add implements spec.md §4.C's add() for a single bucket: refresh-in-place
// on an existing ID, append on room, or report AddResultFull so the caller
// can run the eviction probe with the rejected candidate.
func (b *bucket) add(p Peer, k int) AddResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, cur := range b.peers {
		if cur.ID == p.ID {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			cur.LastSeen = p.LastSeen
			b.peers = append(b.peers, cur)
			return AddResultUpdated
		}
	}

	if len(b.peers) >= k {
		return AddResultFull
	}

	if b.div != nil {
		if ip, err := addrIP(p.Addr); err == nil {
			if !b.div.allows(ip) {
				return AddResultFull
			}
			b.div.add(ip)
		}
	}

	b.peers = append(b.peers, p)
	return AddResultInserted
}

func (b *bucket) get(id ID) (Peer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

func (b *bucket) remove(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.peers {
		if p.ID == id {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			if b.div != nil {
				if ip, err := addrIP(p.Addr); err == nil {
					b.div.remove(ip)
				}
			}
			return true
		}
	}
	return false
}
