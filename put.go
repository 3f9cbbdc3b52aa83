package dht

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nomoreweirdmachines/bulletinboard-dht/kbucket"
	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

// RejectedValueError is returned by Put when value exceeds the configured
// MaxValueLen, carrying the rejected value back to the caller (spec.md
// §6, §7's OversizeLocalPut).
type RejectedValueError struct {
	Value []byte
	Max   int
}

func (e *RejectedValueError) Error() string {
	return fmt.Sprintf("dht: value of length %d exceeds max %d", len(e.Value), e.Max)
}

// Put binds value under key: inserted into the internal store, published
// immediately to the K closest peers, and kept alive by a per-(key,value)
// republisher that re-sends every TTL/2 until the binding is removed
// locally (spec.md §4.H's put).
func (n *Node) Put(ctx context.Context, key kbucket.ID, value []byte) error {
	if len(value) > n.cfg.MaxValueLen {
		return &RejectedValueError{Value: value, Max: n.cfg.MaxValueLen}
	}
	n.internal.Put(key, value)
	n.publish(ctx, key, value)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.republish(n.backgroundCtx(), key, value)
	}()
	return nil
}

// publish runs a findNode(key) and fire-and-forgets a Store to each of the
// K closest peers (spec.md §4.H).
func (n *Node) publish(ctx context.Context, key kbucket.ID, value []byte) {
	peers := n.findNode(ctx, key)
	store := message.Store{Sender: n.LocalID(), Key: key, Value: value, Cookie: message.NewCookie()}
	for _, p := range peers {
		addr, err := multiaddrToNetAddr(p.Addr)
		if err != nil {
			continue
		}
		n.hitAndRun(addr, store)
	}
}

func (n *Node) hitAndRun(addr net.Addr, m message.Message) {
	if err := n.rpc.HitAndRun(addr, m); err != nil {
		log.Debugf("store send to %s failed: %v", addr, err)
	}
}

// republish re-publishes (key, value) every TTL/2 for as long as the
// internal store still contains it, exiting the moment a local Remove
// drops the binding (spec.md §4.H, §9's republisher-per-key design).
func (n *Node) republish(ctx context.Context, key kbucket.ID, value []byte) {
	ticker := time.NewTicker(n.cfg.ExternalTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !n.internal.Contains(key, value) {
				return
			}
			n.publish(ctx, key, value)
		}
	}
}

// Remove drops a single (key, value) binding from the internal store; the
// next self-poll of its republisher observes the absence and exits
// (spec.md §4.H, §8's remove-stops-republish law).
func (n *Node) Remove(key kbucket.ID, value []byte) bool {
	return n.internal.Remove(key, value)
}

// RemoveKey drops every value bound to key from the internal store.
func (n *Node) RemoveKey(key kbucket.ID) bool {
	return n.internal.RemoveKey(key)
}
