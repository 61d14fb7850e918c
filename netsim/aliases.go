//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Aliases
//

package netsim

import (
	"github.com/rbmk-project/stacksock/netsim/link"
	"github.com/rbmk-project/stacksock/netsim/packet"
)

// Type aliases
type (
	Link       = link.Link
	Packet     = packet.Packet
	IPProtocol = packet.IPProtocol
	TCPFlags   = packet.TCPFlags
)

// Constant aliases
const (
	IPProtocolTCP = packet.IPProtocolTCP
	IPProtocolUDP = packet.IPProtocolUDP

	TCPFlagFIN = packet.TCPFlagFIN
	TCPFlagSYN = packet.TCPFlagSYN
	TCPFlagRST = packet.TCPFlagRST
	TCPFlagPSH = packet.TCPFlagPSH
	TCPFlagACK = packet.TCPFlagACK
)

// NewLink is an alias for [link.New].
var NewLink = link.New
