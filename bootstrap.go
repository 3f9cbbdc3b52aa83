package dht

import (
	"context"

	"github.com/multiformats/go-multiaddr"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// NewSupernode starts a standalone node listening on laddr with a random
// ID, serving as an entry point for others to Bootstrap against (spec.md
// §6's new_supernode).
func NewSupernode(ctx context.Context, laddr string, opts ...Option) (*Node, error) {
	conn, addr, err := NewUDPTransport(laddr)
	if err != nil {
		return nil, err
	}
	n := New(conn, addr, opts...)
	n.Start(ctx)
	return n, nil
}

// Bootstrap starts a node listening on laddr and joins an existing overlay
// through supernodeAddrs (spec.md §4.H, §6's bootstrap):
//  1. Insert each supernode under a throwaway random placeholder ID.
//  2. Pick a candidate local ID (desiredID if non-nil, else random); run
//     find_node(local_id). If the frontier surfaces a peer sharing the
//     candidate ID at a different address, the ID collides with a live
//     peer — draw a new random ID and retry.
//  3. Otherwise keep the candidate ID and the discovered peers.
func Bootstrap(ctx context.Context, laddr string, supernodeAddrs []multiaddr.Multiaddr, desiredID *kbucket.ID, opts ...Option) (*Node, error) {
	conn, addr, err := NewUDPTransport(laddr)
	if err != nil {
		return nil, err
	}
	n := New(conn, addr, opts...)
	n.Start(ctx)

	for _, sa := range supernodeAddrs {
		placeholder := kbucket.RandomID()
		n.mergePeer(kbucket.Peer{ID: placeholder, Addr: sa})
	}

	for attempt := 0; ; attempt++ {
		candidate := kbucket.RandomID()
		if desiredID != nil && attempt == 0 {
			candidate = *desiredID
		}
		n.setLocalID(candidate)

		frontier := n.findNode(ctx, candidate)
		if collides(frontier, candidate, n.Addr()) {
			log.Debugf("bootstrap id %s collides with a live peer, retrying", candidate)
			continue
		}
		for _, p := range frontier {
			n.mergePeer(p)
		}
		return n, nil
	}
}

// collides reports whether frontier contains a peer sharing candidate's ID
// at an address other than our own — the live-collision case bootstrap
// must retry on (spec.md §4.H).
func collides(frontier []kbucket.Peer, candidate kbucket.ID, own multiaddr.Multiaddr) bool {
	for _, p := range frontier {
		if p.ID == candidate && p.Addr.String() != own.String() {
			return true
		}
	}
	return false
}

