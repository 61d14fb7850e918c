//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// TCP/UDP port registry.
//

package netsim

import (
	"fmt"
	"log/slog"
	"math"
	"net/netip"
)

// PortAddr is the address under which an endpoint is registered.
type PortAddr struct {
	// LocalAddr is the local address. This field must
	// always have valid address and port.
	LocalAddr netip.AddrPort

	// Protocol is the port protocol.
	Protocol IPProtocol

	// RemoteAddr is the remote address. This field
	// may be zero for non-connected ports.
	RemoteAddr netip.AddrPort
}

// String returns the string representation of the [*PortAddr].
func (pa *PortAddr) String() string {
	raddr := pa.RemoteAddr.String()
	if !pa.RemoteAddr.IsValid() {
		raddr = "*:*"
	}
	return fmt.Sprintf("%s -> %s %s", pa.LocalAddr, raddr, pa.Protocol)
}

// findPortLocked finds the endpoint to deliver a packet to.
//
// The algorithm is as follows:
//
// 1. first try using the five tuple.
//
// 2. if not found, try using the three tuple, where
// the remote address is invalid.
//
// 3. if not found, use a five tuple where the
// local IP address is unspecified.
//
// 4. if not found, use a three tuple where the
// the remote address is invalid, and the IP local
// address is unspecified.
//
// 5. otherwise, return nil.
//
// The caller must hold the mu lock.
func (ns *Stack) findPortLocked(pkt *Packet) *endpoint {
	local := netip.AddrPortFrom(pkt.DstAddr, pkt.DstPort)
	remote := netip.AddrPortFrom(pkt.SrcAddr, pkt.SrcPort)

	// 1.
	if ep := ns.ports[PortAddr{local, pkt.IPProtocol, remote}]; ep != nil {
		return ep
	}

	// 2.
	if ep := ns.ports[PortAddr{local, pkt.IPProtocol, netip.AddrPort{}}]; ep != nil {
		return ep
	}

	for _, ipAddr := range []netip.Addr{netip.IPv4Unspecified(), netip.IPv6Unspecified()} {
		wildcard := netip.AddrPortFrom(ipAddr, pkt.DstPort)

		// 3.
		if ep := ns.ports[PortAddr{wildcard, pkt.IPProtocol, remote}]; ep != nil {
			return ep
		}

		// 4.
		if ep := ns.ports[PortAddr{wildcard, pkt.IPProtocol, netip.AddrPort{}}]; ep != nil {
			return ep
		}
	}

	return nil
}

// registerLocked registers ep under addr, replacing the
// previous registration of ep, if any.
//
// The caller must hold the mu lock.
func (ns *Stack) registerLocked(ep *endpoint, addr PortAddr) error {
	if other, found := ns.ports[addr]; found && other != ep {
		return EADDRINUSE
	}
	ns.unregisterLocked(ep)
	ns.ports[addr] = ep
	ep.addr = addr
	ep.registered = true
	ns.debug("portOpen", slog.String("addr", addr.String()))
	return nil
}

// unregisterLocked removes the registration of ep, if any.
//
// The caller must hold the mu lock.
func (ns *Stack) unregisterLocked(ep *endpoint) {
	if !ep.registered {
		return
	}
	ns.debug("portClose", slog.String("addr", ep.addr.String()))
	delete(ns.ports, ep.addr)
	ep.registered = false
}

// newEphemeralPortNumberLocked returns a free local port, if possible,
// or returns an error.
//
// The caller must hold the mu lock.
func (ns *Stack) newEphemeralPortNumberLocked(protocol IPProtocol) (uint16, error) {
	for ns.nextport[protocol] < math.MaxUint16 {
		port := ns.nextport[protocol]
		ns.nextport[protocol] = port + 1
		if !ns.portInUseLocked(protocol, port) {
			return port, nil
		}
	}
	return 0, EADDRINUSE
}

// portInUseLocked returns whether any registration uses the given port.
//
// The caller must hold the mu lock.
func (ns *Stack) portInUseLocked(protocol IPProtocol, port uint16) bool {
	for addr := range ns.ports {
		if addr.Protocol == protocol && addr.LocalAddr.Port() == port {
			return true
		}
	}
	return false
}

// isLocalAddr returns true if the address is local to the stack.
func (ns *Stack) isLocalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, a := range ns.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// sourceAddrFor returns the local address to use to reach raddr.
func (ns *Stack) sourceAddrFor(raddr netip.Addr) (netip.Addr, error) {
	raddr = raddr.Unmap()
	for _, addr := range ns.addrs {
		if addr.Is4() == raddr.Is4() {
			return addr, nil
		}
	}
	return netip.Addr{}, EADDRNOTAVAIL
}
