package dht

import (
	"fmt"
	"net"

	"github.com/multiformats/go-multiaddr"

	"github.com/nomoreweirdmachines/bulletinboard-dht/rpcserver"
)

// NewUDPTransport opens a UDP socket on laddr and returns it alongside the
// multiaddr a peer should use to reach it — the production PacketConn for
// rpcserver.New/dht.New.
func NewUDPTransport(laddr string) (rpcserver.PacketConn, multiaddr.Multiaddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dht: resolve %q: %w", laddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dht: listen %q: %w", laddr, err)
	}
	ma, err := udpAddrToMultiaddr(conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ma, nil
}

func udpAddrToMultiaddr(addr *net.UDPAddr) (multiaddr.Multiaddr, error) {
	proto := "ip4"
	ip := addr.IP.To4()
	if ip == nil {
		proto = "ip6"
		ip = addr.IP.To16()
	}
	s := fmt.Sprintf("/%s/%s/udp/%d", proto, ip.String(), addr.Port)
	return multiaddr.NewMultiaddr(s)
}

// netAddrToMultiaddr converts the source address of an inbound packet (as
// reported by a PacketConn) into the multiaddr form Peer records use.
func netAddrToMultiaddr(addr net.Addr) (multiaddr.Multiaddr, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("dht: unsupported address type %T", addr)
	}
	return udpAddrToMultiaddr(udpAddr)
}

// multiaddrToNetAddr is the inverse of udpAddrToMultiaddr, used when the
// eviction probe needs to dial a peer record's stored address directly.
func multiaddrToNetAddr(addr multiaddr.Multiaddr) (net.Addr, error) {
	if addr == nil {
		return nil, fmt.Errorf("dht: nil address")
	}
	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = addr.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return nil, fmt.Errorf("dht: address has no ip4/ip6 component")
		}
	}
	port, err := addr.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return nil, fmt.Errorf("dht: address has no udp component")
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
}
