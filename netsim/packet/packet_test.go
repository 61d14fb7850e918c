// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTCPFlagsString(t *testing.T) {
	assert.Equal(t, ".....", TCPFlags(0).String())
	assert.Equal(t, ".S..A", TCPFlags(TCPFlagSYN|TCPFlagACK).String())
	assert.Equal(t, "FSRPA", TCPFlags(TCPFlagFIN|TCPFlagSYN|TCPFlagRST|TCPFlagPSH|TCPFlagACK).String())
}

func TestPacketString(t *testing.T) {
	pkt := &Packet{
		SrcAddr:    netip.MustParseAddr("10.0.0.2"),
		DstAddr:    netip.MustParseAddr("10.0.0.1"),
		IPProtocol: IPProtocolTCP,
		SrcPort:    49152,
		DstPort:    80,
		Flags:      TCPFlagSYN,
	}
	assert.Equal(t, "10.0.0.2:49152 -> 10.0.0.1:80 tcp flags=.S... length=0", pkt.String())

	reply := pkt.Reply(TCPFlagSYN | TCPFlagACK)
	assert.Equal(t, pkt.Destination(), reply.Source())
	assert.Equal(t, pkt.Source(), reply.Destination())

	udp := &Packet{
		SrcAddr:    netip.MustParseAddr("::1"),
		DstAddr:    netip.MustParseAddr("::1"),
		IPProtocol: IPProtocolUDP,
		SrcPort:    5353,
		DstPort:    53,
		Payload:    []byte("abc"),
		Control:    []byte{1, 2},
	}
	assert.Equal(t, "[::1]:5353 -> [::1]:53 udp length=3 control=2", udp.String())
	assert.Equal(t, "proto(1)", IPProtocol(1).String())
}
