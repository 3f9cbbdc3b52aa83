// Package rpcserver implements the α-fanout request/reply RPC layer of
// spec.md §4.E: cookie-correlated send/await over an arbitrary packet
// transport, modeled on go-ethereum's p2p/discover udp.go replyMatcher/
// pending() pattern.
package rpcserver

import (
	"errors"
	"net"

	"github.com/multiformats/go-multiaddr"

	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

// PacketConn is the minimal transport surface the server needs. A UDP
// socket satisfies it directly; tests use an in-memory fake.
type PacketConn interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Codec encodes/decodes wire messages. GobCodec is the production
// implementation; tests may substitute a simpler one.
type Codec interface {
	Encode(m message.Message) ([]byte, error)
	Decode(b []byte) (message.Message, error)
}

// multiaddrToUDPAddr extracts a *net.UDPAddr from a peer's multiaddr, the
// only address shape this server's transport understands.
func multiaddrToUDPAddr(addr multiaddr.Multiaddr) (net.Addr, error) {
	if addr == nil {
		return nil, errors.New("rpcserver: nil address")
	}
	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = addr.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return nil, errors.New("rpcserver: address has no ip4/ip6 component")
		}
	}
	port, err := addr.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return nil, errors.New("rpcserver: address has no udp component")
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
}
