package dht

import (
	"context"
	"sync"

	"github.com/multiformats/go-multiaddr"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/rpcserver"
	"github.com/nomoreweirdmachines/bulletinboard-dht/store"
)

// Node is the DHT facade of spec.md §4.H: it owns a routing table, an RPC
// server, and the internal/external value-store tiers, and coordinates
// bootstrap, dispatch, iterative lookup, put/get/remove, republishing, and
// random refresh over them.
type Node struct {
	cfg  Config
	addr multiaddr.Multiaddr

	rt       *kbucket.RoutingTable
	rpc      *rpcserver.Server
	internal *store.Internal
	external *store.External

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Node listening on conn and advertising addr as its own
// reachable address, generating a fresh random local ID. Start must be
// called to begin serving and the background loops.
func New(conn rpcserver.PacketConn, addr multiaddr.Multiaddr, opts ...Option) *Node {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	local := kbucket.RandomID()
	rt := kbucket.NewRoutingTable(local, kbucket.WithK(cfg.K), kbucket.WithIPDiversityLimit(cfg.IPDiversity))

	n := &Node{
		cfg:      cfg,
		addr:     addr,
		rt:       rt,
		rpc:      rpcserver.New(conn, rpcserver.GobCodec{}),
		internal: store.NewInternal(),
		external: store.NewExternal(cfg.ExternalTTL),
	}
	n.rpc.SetTimeout(cfg.RequestTimeout)
	n.rpc.SetHandler(n.handleMessage)
	return n
}

// LocalID returns the node's current identifier.
func (n *Node) LocalID() kbucket.ID { return n.rt.Local() }

// setLocalID replaces the node's identifier with id, used by Bootstrap's
// collision-retry loop (spec.md §4.H, §9).
func (n *Node) setLocalID(id kbucket.ID) { n.rt.SetLocal(id) }

// Addr returns the address this node advertises to peers.
func (n *Node) Addr() multiaddr.Multiaddr { return n.addr }

// Start begins the RPC receive loop and the background external-store sweep
// and random-refresh loops. It returns immediately; call Close to stop them.
func (n *Node) Start(ctx context.Context) {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.rpc.Serve(n.ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.republishLoop(n.ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.randomRefreshLoop(n.ctx)
	}()
}

// Close stops all background activity and releases the transport.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	err := n.rpc.Close()
	n.wg.Wait()
	return err
}

// RoutingTable exposes the node's table for introspection (tests, metrics).
func (n *Node) RoutingTable() *kbucket.RoutingTable { return n.rt }

// GetOwnID returns the node's current identifier (spec.md §6's
// get_own_id).
func (n *Node) GetOwnID() kbucket.ID { return n.LocalID() }

// GetNodes returns every peer currently in the routing table (spec.md §6's
// get_nodes).
func (n *Node) GetNodes() []kbucket.Peer { return n.rt.ListPeers() }
