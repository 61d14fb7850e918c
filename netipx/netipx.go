// SPDX-License-Identifier: GPL-3.0-or-later

// Package netipx contains [net/netip] extensions converting
// between [netip.AddrPort], [net.Addr] and [unix.Sockaddr].
package netipx

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// AddrToAddrPort converts a [net.Addr] to a [netip.AddrPort].
//
// If the input is nil or neither a [*net.TCPAddr] nor [*net.UDPAddr],
// returns an unspecified IPv6 address with port 0.
func AddrToAddrPort(addr net.Addr) netip.AddrPort {
	if addr == nil {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.AddrPort()
	}
	return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
}

// SockaddrToAddrPort converts an IPv4 or IPv6 [unix.Sockaddr] to
// a [netip.AddrPort]. Other families yield EAFNOSUPPORT.
func SockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port)), nil
	default:
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
}

// AddrPortToSockaddr converts a [netip.AddrPort] to a [unix.Sockaddr]
// of the given family (AF_INET or AF_INET6). IPv4 addresses are mapped
// into IPv6 when the family is AF_INET6. Addresses not representable
// in the family, and the zero address, yield the unspecified address.
func AddrPortToSockaddr(family int, ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if family == unix.AF_INET {
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		if addr.Is4() {
			sa.Addr = addr.As4()
		}
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port())}
	if addr.IsValid() {
		sa.Addr = ap.Addr().As16()
	}
	return sa
}

// SockaddrToNetAddr converts a [unix.Sockaddr] to a [net.Addr]
// suitable for the given socket type. It returns nil for
// unsupported families.
func SockaddrToNetAddr(sotype int, sa unix.Sockaddr) net.Addr {
	ap, err := SockaddrToAddrPort(sa)
	if err != nil {
		return nil
	}
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	if sotype == unix.SOCK_DGRAM {
		return net.UDPAddrFromAddrPort(ap)
	}
	return net.TCPAddrFromAddrPort(ap)
}
