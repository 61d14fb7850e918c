// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains [*Packet] and the related definitions.
package packet

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPProtocol is the protocol number of an IP packet.
type IPProtocol uint8

const (
	// IPProtocolTCP is the TCP protocol number.
	IPProtocolTCP = 6

	// IPProtocolUDP is the UDP protocol number.
	IPProtocolUDP = 17
)

// String returns the protocol name.
func (p IPProtocol) String() string {
	switch p {
	case IPProtocolTCP:
		return "tcp"
	case IPProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// TCPFlags is a set of TCP flags.
type TCPFlags uint8

const (
	TCPFlagFIN = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
)

// tcpFlagLetters maps each flag bit, in order, to its letter.
var tcpFlagLetters = []struct {
	flag   TCPFlags
	letter byte
}{
	{TCPFlagFIN, 'F'},
	{TCPFlagSYN, 'S'},
	{TCPFlagRST, 'R'},
	{TCPFlagPSH, 'P'},
	{TCPFlagACK, 'A'},
}

// String returns the flags in tcpdump-like notation, using
// a dot for each unset flag (e.g., ".S..A" for SYN|ACK).
func (flags TCPFlags) String() string {
	out := make([]byte, 0, len(tcpFlagLetters))
	for _, entry := range tcpFlagLetters {
		if flags&entry.flag != 0 {
			out = append(out, entry.letter)
			continue
		}
		out = append(out, '.')
	}
	return string(out)
}

// Packet is a simulated IP packet carrying a TCP segment or a UDP datagram.
type Packet struct {
	// SrcAddr is the source address.
	SrcAddr netip.Addr

	// DstAddr is the destination address.
	DstAddr netip.Addr

	// IPProtocol is the protocol number.
	IPProtocol IPProtocol

	// SrcPort is the source port.
	SrcPort uint16

	// DstPort is the destination port.
	DstPort uint16

	// Flags contains the TCP flags.
	Flags TCPFlags

	// Payload is the packet payload.
	Payload []byte

	// Control is the OPTIONAL ancillary data sent along
	// with the payload, delivered to recvmsg callers.
	Control []byte
}

// Source returns the source address and port.
func (p *Packet) Source() netip.AddrPort {
	return netip.AddrPortFrom(p.SrcAddr, p.SrcPort)
}

// Destination returns the destination address and port.
func (p *Packet) Destination() netip.AddrPort {
	return netip.AddrPortFrom(p.DstAddr, p.DstPort)
}

// String returns a one-line summary of the packet.
func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s -> %s %s", p.Source(), p.Destination(), p.IPProtocol)
	if p.IPProtocol == IPProtocolTCP {
		fmt.Fprintf(&sb, " flags=%s", p.Flags)
	}
	fmt.Fprintf(&sb, " length=%d", len(p.Payload))
	if len(p.Control) > 0 {
		fmt.Fprintf(&sb, " control=%d", len(p.Control))
	}
	return sb.String()
}

// Reply returns an empty [*Packet] flowing in the opposite
// direction with the given TCP flags.
func (p *Packet) Reply(flags TCPFlags) *Packet {
	return &Packet{
		SrcAddr:    p.DstAddr,
		DstAddr:    p.SrcAddr,
		IPProtocol: p.IPProtocol,
		SrcPort:    p.DstPort,
		DstPort:    p.SrcPort,
		Flags:      flags,
	}
}

// NetworkDevice is a network device to read/write [*Packet].
type NetworkDevice interface {
	// EOF returns a channel that is closed when the device is closed.
	EOF() <-chan struct{}

	// Input returns a channel to send [*Packet] to the device.
	Input() chan<- *Packet

	// Output returns a channel to receive [*Packet] from the device.
	Output() <-chan *Packet
}
