//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UDP datagrams.
//

package netsim

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// maxDatagramSize is the maximum UDP payload over IPv4.
const maxDatagramSize = 65507

// connectUDPLocked sets the default peer of ep.
//
// The caller must hold the mu lock.
func (ns *Stack) connectUDPLocked(ep *endpoint, raddr netip.AddrPort) error {
	key, err := ns.connectKeyLocked(ep, raddr)
	if err != nil {
		return err
	}
	if err := ns.registerLocked(ep, key); err != nil {
		return err
	}
	ep.state = stateConnected
	return nil
}

// sendDatagramLocked emits a datagram to the given address or
// to the connected peer when to is nil.
//
// The caller must hold the mu lock.
func (ns *Stack) sendDatagramLocked(ep *endpoint, payload, control []byte, to unix.Sockaddr) (int, error) {
	if len(payload) > maxDatagramSize {
		return 0, EMSGSIZE
	}
	var raddr netip.AddrPort
	switch {
	case to != nil:
		var err error
		if raddr, err = ep.addrPort(to); err != nil {
			return 0, err
		}
	case ep.state == stateConnected:
		raddr = ep.addr.RemoteAddr
	default:
		return 0, EDESTADDRREQ
	}
	if ep.shutWr {
		return 0, EPIPE
	}
	if err := ns.autobindLocked(ep); err != nil {
		return 0, err
	}
	src := ep.addr.LocalAddr.Addr()
	if src.IsUnspecified() {
		var err error
		if src, err = ns.sourceAddrFor(raddr.Addr()); err != nil {
			return 0, err
		}
	}
	ns.emitLocked(&Packet{
		SrcAddr:    src,
		DstAddr:    raddr.Addr(),
		IPProtocol: IPProtocolUDP,
		SrcPort:    ep.addr.LocalAddr.Port(),
		DstPort:    raddr.Port(),
		Payload:    payload,
		Control:    control,
	})
	return len(payload), nil
}

// recvDatagramLocked receives the first queued datagram.
//
// The caller must hold the mu lock.
func (ns *Stack) recvDatagramLocked(ep *endpoint, bufs [][]byte, oob []byte, flags int) (recvResult, error) {
	if ep.dgrams.Length() <= 0 {
		if ep.shutRd {
			return recvResult{}, nil
		}
		return recvResult{}, EAGAIN
	}
	pkt := ep.dgrams.Peek().(*Packet)
	res := recvResult{
		n:    scatter(bufs, pkt.Payload),
		from: ep.sockaddr(netip.AddrPortFrom(pkt.SrcAddr, pkt.SrcPort)),
	}
	if res.n < len(pkt.Payload) {
		res.flags |= unix.MSG_TRUNC
		if flags&unix.MSG_TRUNC != 0 {
			res.n = len(pkt.Payload)
		}
	}
	var cflags int
	res.oobn, cflags = deliverControl(oob, pkt.Control)
	res.flags |= cflags
	if flags&unix.MSG_PEEK == 0 {
		ep.dgrams.Remove()
	}
	return res, nil
}

// demuxUDPLocked queues an incoming datagram.
//
// The caller must hold the mu lock.
func (ns *Stack) demuxUDPLocked(ep *endpoint, pkt *Packet) error {
	if ep == nil {
		return ECONNREFUSED
	}
	if ep.state == stateConnected && netip.AddrPortFrom(pkt.SrcAddr, pkt.SrcPort) != ep.addr.RemoteAddr {
		return EHOSTUNREACH
	}
	if ep.shutRd || ep.dgrams.Length() >= ns.maxDatagrams {
		return ENOBUFS
	}
	ep.dgrams.Add(pkt)
	return nil
}
