package kbucket

import (
	"bytes"
	"encoding/gob"
	"sort"
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Peer is a routing-table entry: an identifier, a dialable address, and
// the local monotonic time of the most recent validly attributed message
// from it. Peers are value-copy-safe — no back-references to the table —
// so the routing table and a lookup frontier may both hold a peer by copy.
type Peer struct {
	ID       ID
	Addr     multiaddr.Multiaddr
	LastSeen time.Time
}

// Equal reports whether two peers have the same ID; addresses are
// informational and may legitimately differ or change.
func (p Peer) Equal(o Peer) bool { return p.ID == o.ID }

type peerGobProxy struct {
	ID       ID
	Addr     []byte
	LastSeen time.Time
}

// GobEncode lets Peer travel through the reference gob codec (rpcserver's
// default Codec) despite Addr's static type being the multiaddr.Multiaddr
// interface, which gob cannot encode directly.
func (p Peer) GobEncode() ([]byte, error) {
	proxy := peerGobProxy{ID: p.ID, LastSeen: p.LastSeen}
	if p.Addr != nil {
		proxy.Addr = p.Addr.Bytes()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(proxy); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode is the inverse of GobEncode.
func (p *Peer) GobDecode(data []byte) error {
	var proxy peerGobProxy
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&proxy); err != nil {
		return err
	}
	p.ID = proxy.ID
	p.LastSeen = proxy.LastSeen
	if len(proxy.Addr) > 0 {
		addr, err := multiaddr.NewMultiaddrBytes(proxy.Addr)
		if err != nil {
			return err
		}
		p.Addr = addr
	}
	return nil
}

// SortByDistance orders peers ascending by XOR distance to target, with a
// deterministic tiebreak on ID so equal-distance results are reproducible.
func SortByDistance(peers []Peer, target ID) {
	sort.Slice(peers, func(i, j int) bool {
		di := XorDistance(target, peers[i].ID)
		dj := XorDistance(target, peers[j].ID)
		if !bytes.Equal(di[:], dj[:]) {
			return di.Less(dj)
		}
		return peers[i].ID.Less(peers[j].ID)
	})
}
