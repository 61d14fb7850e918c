//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Simplified TCP over a reliable, in-order link.
//

package netsim

import (
	"net/netip"
)

// connectTCPLocked starts connecting ep to raddr and, for blocking
// endpoints, waits for the outcome.
//
// The caller must hold the mu lock.
func (ns *Stack) connectTCPLocked(ep *endpoint, raddr netip.AddrPort) error {
	switch ep.state {
	case stateInit:
	case stateConnecting:
		return EALREADY
	case stateConnected, stateReset:
		return EISCONN
	default:
		return EINVAL
	}

	key, err := ns.connectKeyLocked(ep, raddr)
	if err != nil {
		return err
	}
	if err := ns.registerLocked(ep, key); err != nil {
		return err
	}
	ep.state = stateConnecting
	ep.soerr = 0
	ns.emitLocked(ns.segment(ep, TCPFlagSYN, nil, nil))

	if ep.nonblocking() {
		return EINPROGRESS
	}
	for ep.state == stateConnecting {
		if err := ns.waitLocked(nil); err != nil {
			return err
		}
	}
	if ep.state == stateConnected {
		return nil
	}
	if err := ep.takeError(); err != nil {
		return err
	}
	return EBADF
}

// segment builds a TCP segment flowing from ep to its peer.
func (ns *Stack) segment(ep *endpoint, flags TCPFlags, payload, control []byte) *Packet {
	return &Packet{
		SrcAddr:    ep.addr.LocalAddr.Addr(),
		DstAddr:    ep.addr.RemoteAddr.Addr(),
		IPProtocol: IPProtocolTCP,
		SrcPort:    ep.addr.LocalAddr.Port(),
		DstPort:    ep.addr.RemoteAddr.Port(),
		Flags:      flags,
		Payload:    payload,
		Control:    control,
	}
}

// sendFINLocked sends a FIN unless we already did.
//
// The caller must hold the mu lock.
func (ns *Stack) sendFINLocked(ep *endpoint) {
	if ep.finSent || ep.state != stateConnected {
		return
	}
	ep.finSent = true
	ns.emitLocked(ns.segment(ep, TCPFlagFIN|TCPFlagACK, nil, nil))
}

// sendRSTLocked aborts the connection of ep.
//
// The caller must hold the mu lock.
func (ns *Stack) sendRSTLocked(ep *endpoint) {
	ns.emitLocked(ns.segment(ep, TCPFlagRST|TCPFlagACK, nil, nil))
}

// sendStreamLocked queues payload and control for the peer.
//
// The caller must hold the mu lock.
func (ns *Stack) sendStreamLocked(ep *endpoint, payload, control []byte) (int, error) {
	switch ep.state {
	case stateConnected:
	case stateReset:
		return 0, EPIPE
	default:
		return 0, ENOTCONN
	}
	if ep.shutWr {
		return 0, EPIPE
	}
	if len(payload) <= 0 && len(control) <= 0 {
		return 0, nil
	}
	ns.emitLocked(ns.segment(ep, TCPFlagPSH|TCPFlagACK, payload, control))
	return len(payload), nil
}

// recvStreamLocked receives from the stream buffer.
//
// The caller must hold the mu lock.
func (ns *Stack) recvStreamLocked(ep *endpoint, bufs [][]byte, oob []byte, peek bool) (recvResult, error) {
	switch ep.state {
	case stateConnected:
	case stateReset:
		if err := ep.takeError(); err != nil {
			return recvResult{}, err
		}
		return recvResult{}, nil
	default:
		return recvResult{}, ENOTCONN
	}
	if len(ep.rx) <= 0 {
		if ep.rdEOF || ep.shutRd {
			return recvResult{}, nil
		}
		return recvResult{}, EAGAIN
	}
	res := recvResult{n: scatter(bufs, ep.rx)}
	res.oobn, res.flags = deliverControl(oob, ep.control)
	if !peek {
		ep.rx = ep.rx[res.n:]
		ep.control = nil
	}
	return res, nil
}

// demuxTCPLocked processes an incoming TCP segment.
//
// The caller must hold the mu lock.
func (ns *Stack) demuxTCPLocked(ep *endpoint, pkt *Packet) error {
	if ep == nil {
		if pkt.Flags&TCPFlagRST == 0 {
			ns.emitLocked(pkt.Reply(TCPFlagRST | TCPFlagACK))
		}
		return ECONNREFUSED
	}

	switch ep.state {
	case stateListening:
		return ns.acceptSYNLocked(ep, pkt)

	case stateConnecting:
		switch {
		case pkt.Flags&TCPFlagRST != 0:
			ep.soerr = ECONNREFUSED
			ep.state = stateInit
			ns.unregisterLocked(ep)
		case pkt.Flags&(TCPFlagSYN|TCPFlagACK) == TCPFlagSYN|TCPFlagACK:
			ep.state = stateConnected
		}
		return nil

	case stateConnected:
		if pkt.Flags&TCPFlagRST != 0 {
			ep.soerr = ECONNRESET
			ep.state = stateReset
			return nil
		}
		if !ep.shutRd {
			ep.rx = append(ep.rx, pkt.Payload...)
			ep.control = append(ep.control, pkt.Control...)
		}
		if pkt.Flags&TCPFlagFIN != 0 {
			ep.rdEOF = true
		}
		return nil

	default:
		return ENOTCONN
	}
}

// acceptSYNLocked handles a segment directed to a listening endpoint,
// creating the connected child endpoint and queueing it.
//
// The caller must hold the mu lock.
func (ns *Stack) acceptSYNLocked(lep *endpoint, pkt *Packet) error {
	if pkt.Flags&TCPFlagSYN == 0 || pkt.Flags&TCPFlagACK != 0 {
		if pkt.Flags&TCPFlagRST == 0 {
			ns.emitLocked(pkt.Reply(TCPFlagRST | TCPFlagACK))
		}
		return ECONNREFUSED
	}
	if lep.backlog.Length() >= lep.backlogMax {
		return ENOBUFS
	}
	child := newEndpoint(lep.family, lep.sotype, lep.proto)
	child.state = stateConnected
	key := PortAddr{
		LocalAddr:  netip.AddrPortFrom(pkt.DstAddr, pkt.DstPort),
		Protocol:   pkt.IPProtocol,
		RemoteAddr: netip.AddrPortFrom(pkt.SrcAddr, pkt.SrcPort),
	}
	if err := ns.registerLocked(child, key); err != nil {
		return err
	}
	lep.backlog.Add(child)
	ns.emitLocked(pkt.Reply(TCPFlagSYN | TCPFlagACK))
	return nil
}
