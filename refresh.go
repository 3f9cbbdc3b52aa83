package dht

import (
	"context"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
)

// republishLoop periodically sweeps the external store for expired
// entries (spec.md §4.G: "expired entries may be compacted lazily or by a
// sweeper"). Per-(key,value) republishing of owned bindings is driven
// separately, one task per Put (put.go's republish), since each binding's
// TTL/2 cadence is independent.
func (n *Node) republishLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.ExternalTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := n.external.Sweep(time.Now()); reaped > 0 {
				log.Debugf("swept %d expired external value(s)", reaped)
			}
		}
	}
}

// randomRefreshLoop implements spec.md §4.H's random refresh: every
// RefreshPeriod, pick a fresh random ID and run find_node on it, keeping
// the routing table populated in cold distance ranges.
func (n *Node) randomRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.findNode(ctx, kbucket.RandomID())
		}
	}
}
