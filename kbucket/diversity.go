package kbucket

import (
	"errors"
	"net"

	"github.com/libp2p/go-cidranger"
	"github.com/multiformats/go-multiaddr"
)

// DefaultIPDiversityLimit bounds how many peers in a single bucket may
// share one /24 (IPv4) or /64 (IPv6) network, the same eclipse-resistance
// idea as go-ethereum's p2p/discover bucketIPLimit — supplemental to the
// narrow spec, not one of its named invariants.
const DefaultIPDiversityLimit = 2

const (
	v4DiversityBits = 24
	v6DiversityBits = 64
)

// ipDiversity tracks, per bucket, how many occupants fall in each network
// range. Admission is decided from a per-network counts map; a cidranger
// trie mirrors the set of networks currently counted.
type ipDiversity struct {
	ranger cidranger.Ranger
	counts map[string]int
	limit  int
}

func newIPDiversity(limit int) *ipDiversity {
	if limit <= 0 {
		return nil
	}
	return &ipDiversity{
		ranger: cidranger.NewPCTrieRanger(),
		counts: make(map[string]int),
		limit:  limit,
	}
}

func diversityNetwork(ip net.IP) *net.IPNet {
	bits := v4DiversityBits
	length := net.IPv4len * 8
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	} else {
		ip = ip.To16()
		bits = v6DiversityBits
		length = net.IPv6len * 8
	}
	mask := net.CIDRMask(bits, length)
	return &net.IPNet{IP: ip.Mask(mask), Mask: mask}
}

// allows reports whether one more peer from ip's network may still be
// admitted to the bucket this guard belongs to.
func (d *ipDiversity) allows(ip net.IP) bool {
	if d == nil || ip == nil {
		return true
	}
	network := diversityNetwork(ip)
	return d.counts[network.String()] < d.limit
}

func (d *ipDiversity) add(ip net.IP) {
	if d == nil || ip == nil {
		return
	}
	network := diversityNetwork(ip)
	key := network.String()
	if d.counts[key] == 0 {
		_ = d.ranger.Insert(cidranger.NewBasicRangerEntry(*network))
	}
	d.counts[key]++
}

func (d *ipDiversity) remove(ip net.IP) {
	if d == nil || ip == nil {
		return
	}
	network := diversityNetwork(ip)
	key := network.String()
	if d.counts[key] == 0 {
		return
	}
	d.counts[key]--
	if d.counts[key] == 0 {
		delete(d.counts, key)
		_, _ = d.ranger.Remove(*network)
	}
}

// covered reports whether ip falls within any network already tracked by
// this guard, querying the cidranger trie directly rather than the counts
// map. Nothing in the package calls it.
func (d *ipDiversity) covered(ip net.IP) (bool, error) {
	if d == nil || ip == nil {
		return false, nil
	}
	return d.ranger.Contains(ip)
}

// addrIP extracts the IP component of a multiaddr, the only part the
// diversity guard cares about.
func addrIP(addr multiaddr.Multiaddr) (net.IP, error) {
	if addr == nil {
		return nil, errors.New("kbucket: nil address")
	}
	if v, err := addr.ValueForProtocol(multiaddr.P_IP4); err == nil {
		return net.ParseIP(v), nil
	}
	if v, err := addr.ValueForProtocol(multiaddr.P_IP6); err == nil {
		return net.ParseIP(v), nil
	}
	return nil, errors.New("kbucket: address has no ip4/ip6 component")
}
