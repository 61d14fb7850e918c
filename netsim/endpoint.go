//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Simulated socket endpoints.
//

package netsim

import (
	"net/netip"
	"syscall"

	"github.com/eapache/queue"
	"github.com/rbmk-project/stacksock/netipx"
	"golang.org/x/sys/unix"
)

// tcpState is the connection state of an endpoint.
type tcpState int

const (
	// stateInit is the state of fresh or failed endpoints.
	stateInit = tcpState(iota)

	// stateListening is the state of listening endpoints.
	stateListening

	// stateConnecting is the state after sending a SYN.
	stateConnecting

	// stateConnected is the state of connected endpoints.
	stateConnected

	// stateReset is the state after receiving a RST.
	stateReset

	// stateClosed is the state of endpoints without descriptors.
	stateClosed
)

// optKey is the key of a stored socket option.
type optKey struct {
	level, opt int
}

// endpoint is the state shared by all the descriptors
// referring to the same simulated socket.
//
// All fields are protected by the stack mu lock.
type endpoint struct {
	// addr is the registration address, if registered.
	addr PortAddr

	// backlog contains the accepted but not yet returned endpoints.
	backlog *queue.Queue

	// backlogMax is the maximum backlog length.
	backlogMax int

	// control contains the pending ancillary data of a stream.
	control []byte

	// dgrams contains the received datagrams.
	dgrams *queue.Queue

	// family is AF_INET or AF_INET6.
	family int

	// finSent indicates that we already sent a FIN.
	finSent bool

	// flags contains the fcntl file status flags.
	flags int

	// opts contains the stored socket options.
	opts map[optKey][]byte

	// proto is the IP protocol.
	proto IPProtocol

	// rdEOF indicates that the peer sent a FIN.
	rdEOF bool

	// refs is the number of descriptors referring to this endpoint.
	refs int

	// registered indicates whether addr is registered.
	registered bool

	// rx contains the received stream bytes.
	rx []byte

	// shutRd and shutWr track shutdown(2).
	shutRd, shutWr bool

	// soerr is the pending error returned by SO_ERROR.
	soerr syscall.Errno

	// sotype is SOCK_STREAM or SOCK_DGRAM.
	sotype int

	// state is the connection state.
	state tcpState
}

// newEndpoint creates a new [*endpoint].
func newEndpoint(family, sotype int, proto IPProtocol) *endpoint {
	return &endpoint{
		backlog: queue.New(),
		dgrams:  queue.New(),
		family:  family,
		opts:    map[optKey][]byte{},
		proto:   proto,
		sotype:  sotype,
	}
}

// stream returns whether this is a SOCK_STREAM endpoint.
func (ep *endpoint) stream() bool {
	return ep.sotype == unix.SOCK_STREAM
}

// nonblocking returns whether the endpoint is in non-blocking mode.
func (ep *endpoint) nonblocking() bool {
	return ep.flags&unix.O_NONBLOCK != 0
}

// bound returns whether the endpoint has a local port.
func (ep *endpoint) bound() bool {
	return ep.registered && ep.addr.LocalAddr.Port() != 0
}

// sockaddr converts an address to the family of the endpoint.
func (ep *endpoint) sockaddr(ap netip.AddrPort) unix.Sockaddr {
	return netipx.AddrPortToSockaddr(ep.family, ap)
}

// takeError returns and clears the pending error.
func (ep *endpoint) takeError() error {
	err := ep.soerr
	ep.soerr = 0
	if err == 0 {
		return nil
	}
	return err
}

// revents returns the poll(2) events of the endpoint.
func (ep *endpoint) revents() int16 {
	var ev int16
	if ep.soerr != 0 {
		ev |= unix.POLLERR
	}
	if !ep.stream() {
		ev |= unix.POLLOUT
		if ep.dgrams.Length() > 0 || ep.shutRd {
			ev |= unix.POLLIN
		}
		return ev
	}
	switch ep.state {
	case stateListening:
		if ep.backlog.Length() > 0 {
			ev |= unix.POLLIN
		}
	case stateConnecting:
		// nothing
	case stateConnected:
		if len(ep.rx) > 0 || ep.rdEOF || ep.shutRd {
			ev |= unix.POLLIN
		}
		if !ep.shutWr {
			ev |= unix.POLLOUT
		}
		if ep.rdEOF && ep.shutWr {
			ev |= unix.POLLHUP
		}
	default:
		ev |= unix.POLLIN | unix.POLLOUT | unix.POLLHUP
	}
	return ev
}
