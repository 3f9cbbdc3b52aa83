package kbucket

import (
	"errors"
	"sync"

	logging "github.com/ipfs/go-log"
	"github.com/multiformats/go-multiaddr"
)

var log = logging.Logger("kbucket")

// DefaultK is the per-bucket capacity bound (spec.md §6).
const DefaultK = 20

var (
	// ErrSelfID is returned when an operation is attempted against the
	// local node's own ID, which never appears in the table.
	ErrSelfID = errors.New("kbucket: id is the local node's own id")
)

// Option configures a RoutingTable at construction time.
type Option func(*RoutingTable)

// WithK overrides the per-bucket capacity (default DefaultK).
func WithK(k int) Option {
	return func(rt *RoutingTable) { rt.k = k }
}

// WithIPDiversityLimit overrides how many peers from one /24 (v4) or /64
// (v6) network a single bucket will admit. A limit <= 0 disables the guard.
func WithIPDiversityLimit(limit int) Option {
	return func(rt *RoutingTable) { rt.diversityLimit = limit }
}

// RoutingTable is the k-bucket structure of spec.md §3/§4.C: a fixed array
// of IDBits buckets, each holding at most k peers ordered
// least-recently-seen first, indexed by XOR distance class from the local
// ID. The local ID is mutable (refreshed during bootstrap's collision
// retry) and is guarded by its own lock per spec.md §5's "Local ID" rule.
type RoutingTable struct {
	localMu sync.RWMutex
	local   ID

	k              int
	diversityLimit int
	buckets        [IDBits]*bucket
}

// NewRoutingTable constructs an empty table for local, with K=DefaultK and
// IP diversity enabled at DefaultIPDiversityLimit unless overridden.
func NewRoutingTable(local ID, opts ...Option) *RoutingTable {
	rt := &RoutingTable{
		local:          local,
		k:              DefaultK,
		diversityLimit: DefaultIPDiversityLimit,
	}
	for _, o := range opts {
		o(rt)
	}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket(rt.diversityLimit)
	}
	return rt
}

// Local returns the current local ID.
func (rt *RoutingTable) Local() ID {
	rt.localMu.RLock()
	defer rt.localMu.RUnlock()
	return rt.local
}

// SetLocal updates the local ID, e.g. when bootstrap retries after an ID
// collision. Peers already placed in buckets computed under the previous
// local ID are not rehomed — spec.md §9 notes the table must tolerate this
// transient inconsistency, since the only caller that changes the local ID
// mid-flight (bootstrap) has not yet populated the table with anything but
// supernode placeholders.
func (rt *RoutingTable) SetLocal(id ID) {
	rt.localMu.Lock()
	rt.local = id
	rt.localMu.Unlock()
}

func (rt *RoutingTable) bucketIndex(id ID) int {
	return BucketIndex(rt.Local(), id)
}

// ConstructPeer builds a Peer record for addr/id, failing if id is the
// local node's own ID (spec.md §4.C).
func (rt *RoutingTable) ConstructPeer(addr multiaddr.Multiaddr, id ID) (Peer, error) {
	if id == rt.Local() {
		return Peer{}, ErrSelfID
	}
	return Peer{ID: id, Addr: addr}, nil
}

// Add locates p's bucket and either refreshes it in place, appends it, or
// reports AddResultFull — in which case the caller is responsible for
// running the eviction probe (spec.md §4.C, §4.H).
func (rt *RoutingTable) Add(p Peer) (AddResult, error) {
	if p.ID == rt.Local() {
		return AddResultFull, ErrSelfID
	}
	idx := rt.bucketIndex(p.ID)
	if idx < 0 || idx >= IDBits {
		return AddResultFull, ErrSelfID
	}
	res := rt.buckets[idx].add(p, rt.k)
	if res == AddResultFull {
		log.Debugf("bucket %d full, rejecting candidate %s pending eviction probe", idx, p.ID)
	}
	return res, nil
}

// Remove evicts id from whichever bucket it would occupy, if present.
func (rt *RoutingTable) Remove(id ID) bool {
	idx := rt.bucketIndex(id)
	if idx < 0 || idx >= IDBits {
		return false
	}
	return rt.buckets[idx].remove(id)
}

// Get returns the peer record for id, if the table holds it.
func (rt *RoutingTable) Get(id ID) (Peer, bool) {
	idx := rt.bucketIndex(id)
	if idx < 0 || idx >= IDBits {
		return Peer{}, false
	}
	return rt.buckets[idx].get(id)
}

// Bucket returns a snapshot of the bucket that would hold id, in
// least-recently-seen-first order (spec.md §4.C's get_bucket). The table
// never hands out a live reference to the internal bucket — peers are
// value-copy-safe and the table stays free to mutate under its own lock.
func (rt *RoutingTable) Bucket(id ID) []Peer {
	idx := rt.bucketIndex(id)
	if idx < 0 || idx >= IDBits {
		return nil
	}
	return rt.buckets[idx].snapshot()
}

// StalestFirst returns id's bucket sorted ascending by LastSeen — the order
// the eviction probe (spec.md §4.H) pings candidates for replacement in.
func (rt *RoutingTable) StalestFirst(id ID) []Peer {
	idx := rt.bucketIndex(id)
	if idx < 0 || idx >= IDBits {
		return nil
	}
	return rt.buckets[idx].stalestFirst()
}

// GetClosestPeers returns up to n peers minimizing XOR distance to target,
// globally across all buckets, ascending, ties broken deterministically.
//
// The teacher (go-libp2p-kbucket's NearestPeers) narrows the scan to
// buckets near target's own common-prefix-length bucket and works
// outward, which is the standard optimization once peer counts are large.
// That optimization assumes bucket placement is consistent with the
// *current* local ID; here SetLocal can change the local ID after peers
// were already inserted (during bootstrap), so a target-relative bucket
// guess is not reliably where a stale-indexed peer actually lives. With at
// most k*IDBits peers ever resident, a full scan is cheap and always
// correct regardless of local-ID churn, so that's what this does.
func (rt *RoutingTable) GetClosestPeers(target ID, n int) []Peer {
	var all []Peer
	for _, b := range rt.buckets {
		all = append(all, b.snapshot()...)
	}
	SortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Size returns the total number of peers across all buckets.
func (rt *RoutingTable) Size() int {
	total := 0
	for _, b := range rt.buckets {
		total += b.len()
	}
	return total
}

// ListPeers returns every peer currently in the table, in no particular
// order.
func (rt *RoutingTable) ListPeers() []Peer {
	var all []Peer
	for _, b := range rt.buckets {
		all = append(all, b.snapshot()...)
	}
	return all
}
