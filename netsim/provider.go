//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Descriptor management and control operations.
//

package netsim

import (
	"errors"
	"net/netip"

	"github.com/rbmk-project/stacksock/netipx"
	"golang.org/x/sys/unix"
)

// Socket implements [stack.Provider].
func (ns *Stack) Socket(family, sotype, proto int) (int, error) {
	nonblock := sotype&unix.SOCK_NONBLOCK != 0
	sotype &^= unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC

	if family != unix.AF_INET && family != unix.AF_INET6 {
		return -1, EAFNOSUPPORT
	}
	var ipproto IPProtocol
	switch sotype {
	case unix.SOCK_STREAM:
		ipproto = IPProtocolTCP
	case unix.SOCK_DGRAM:
		ipproto = IPProtocolUDP
	default:
		return -1, ESOCKTNOSUPPORT
	}
	if proto != 0 && proto != int(ipproto) {
		return -1, EPROTONOSUPPORT
	}

	ep := newEndpoint(family, sotype, ipproto)
	if nonblock {
		ep.flags |= unix.O_NONBLOCK
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.closed() {
		return -1, ENETDOWN
	}
	return ns.installLocked(ep), nil
}

// installLocked installs ep at the lowest free descriptor.
//
// The caller must hold the mu lock.
func (ns *Stack) installLocked(ep *endpoint) int {
	fd := 3
	for ns.fds[fd] != nil {
		fd++
	}
	ns.fds[fd] = ep
	ep.refs++
	return fd
}

// lookupLocked returns the endpoint referred to by fd.
//
// The caller must hold the mu lock.
func (ns *Stack) lookupLocked(fd int) (*endpoint, error) {
	ep := ns.fds[fd]
	if ep == nil {
		return nil, EBADF
	}
	return ep, nil
}

// retry runs try until it does not fail with EAGAIN, or the endpoint
// is non-blocking, or dontwait is set, waiting for state changes.
func retry[T any](ns *Stack, fd int, dontwait bool, try func(ep *endpoint) (T, error)) (T, error) {
	var zero T
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for {
		ep, err := ns.lookupLocked(fd)
		if err != nil {
			return zero, err
		}
		value, err := try(ep)
		if !errors.Is(err, EAGAIN) || dontwait || ep.nonblocking() {
			return value, err
		}
		if err := ns.waitLocked(nil); err != nil {
			return zero, err
		}
	}
}

// Close implements [stack.Provider].
func (ns *Stack) Close(fd int) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	delete(ns.fds, fd)
	if ep.refs--; ep.refs <= 0 {
		ns.releaseLocked(ep)
	}
	ns.notifyLocked()
	return nil
}

// releaseLocked tears down an endpoint without descriptors.
//
// The caller must hold the mu lock.
func (ns *Stack) releaseLocked(ep *endpoint) {
	if ep.stream() {
		switch ep.state {
		case stateConnected:
			ns.sendFINLocked(ep)
		case stateListening:
			ns.abortBacklogLocked(ep)
		}
	}
	ns.unregisterLocked(ep)
	ep.state = stateClosed
}

// abortBacklogLocked resets the connections queued on a listener.
//
// The caller must hold the mu lock.
func (ns *Stack) abortBacklogLocked(ep *endpoint) {
	for ep.backlog.Length() > 0 {
		child := ep.backlog.Remove().(*endpoint)
		ns.sendRSTLocked(child)
		ns.unregisterLocked(child)
		child.state = stateClosed
	}
}

// Dup implements [stack.Provider].
func (ns *Stack) Dup(fd int) (int, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return -1, err
	}
	return ns.installLocked(ep), nil
}

// unspecified returns the unspecified address of the family.
func unspecified(family int) netip.Addr {
	if family == unix.AF_INET {
		return netip.IPv4Unspecified()
	}
	return netip.IPv6Unspecified()
}

// addrPort converts sa checking it matches the endpoint family.
func (ep *endpoint) addrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		if ep.family != unix.AF_INET {
			return netip.AddrPort{}, EINVAL
		}
	case *unix.SockaddrInet6:
		if ep.family != unix.AF_INET6 {
			return netip.AddrPort{}, EAFNOSUPPORT
		}
	default:
		return netip.AddrPort{}, EAFNOSUPPORT
	}
	ap, err := netipx.SockaddrToAddrPort(sa)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// Bind implements [stack.Provider].
func (ns *Stack) Bind(fd int, sa unix.Sockaddr) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	ap, err := ep.addrPort(sa)
	if err != nil {
		return err
	}
	return ns.bindLocked(ep, ap)
}

// bindLocked assigns a local address to ep.
//
// The caller must hold the mu lock.
func (ns *Stack) bindLocked(ep *endpoint, ap netip.AddrPort) error {
	if ep.registered {
		return EINVAL
	}
	addr := ap.Addr()
	if !addr.IsUnspecified() && !ns.isLocalAddr(addr) {
		return EADDRNOTAVAIL
	}
	port := ap.Port()
	if port == 0 {
		var err error
		if port, err = ns.newEphemeralPortNumberLocked(ep.proto); err != nil {
			return err
		}
	}
	return ns.registerLocked(ep, PortAddr{
		LocalAddr: netip.AddrPortFrom(addr, port),
		Protocol:  ep.proto,
	})
}

// autobindLocked binds ep to an ephemeral port when unbound.
//
// The caller must hold the mu lock.
func (ns *Stack) autobindLocked(ep *endpoint) error {
	if ep.bound() {
		return nil
	}
	return ns.bindLocked(ep, netip.AddrPortFrom(unspecified(ep.family), 0))
}

// Listen implements [stack.Provider].
func (ns *Stack) Listen(fd, backlog int) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	if !ep.stream() {
		return EOPNOTSUPP
	}
	if ep.state != stateInit && ep.state != stateListening {
		return EINVAL
	}
	if err := ns.autobindLocked(ep); err != nil {
		return err
	}
	ep.state = stateListening
	ep.backlogMax = max(backlog, 0) + 1
	return nil
}

// acceptResult is the result of accepting a connection.
type acceptResult struct {
	fd   int
	peer unix.Sockaddr
}

// Accept implements [stack.Provider].
func (ns *Stack) Accept(fd int) (int, unix.Sockaddr, error) {
	res, err := retry(ns, fd, false, func(ep *endpoint) (acceptResult, error) {
		if !ep.stream() {
			return acceptResult{}, EOPNOTSUPP
		}
		if ep.state != stateListening {
			return acceptResult{}, EINVAL
		}
		if ep.backlog.Length() <= 0 {
			return acceptResult{}, EAGAIN
		}
		child := ep.backlog.Remove().(*endpoint)
		return acceptResult{
			fd:   ns.installLocked(child),
			peer: child.sockaddr(child.addr.RemoteAddr),
		}, nil
	})
	if err != nil {
		return -1, nil, err
	}
	return res.fd, res.peer, nil
}

// Connect implements [stack.Provider].
func (ns *Stack) Connect(fd int, sa unix.Sockaddr) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	raddr, err := ep.addrPort(sa)
	if err != nil {
		return err
	}
	if !ep.stream() {
		return ns.connectUDPLocked(ep, raddr)
	}
	return ns.connectTCPLocked(ep, raddr)
}

// connectKeyLocked computes the registration for connecting ep to raddr,
// picking a local address and port when needed.
//
// The caller must hold the mu lock.
func (ns *Stack) connectKeyLocked(ep *endpoint, raddr netip.AddrPort) (PortAddr, error) {
	if raddr.Addr().IsUnspecified() || raddr.Port() <= 0 {
		return PortAddr{}, EHOSTUNREACH
	}
	laddr := ep.addr.LocalAddr
	if !ep.registered || laddr.Addr().IsUnspecified() {
		src, err := ns.sourceAddrFor(raddr.Addr())
		if err != nil {
			return PortAddr{}, err
		}
		port := laddr.Port()
		if !ep.registered || port == 0 {
			if port, err = ns.newEphemeralPortNumberLocked(ep.proto); err != nil {
				return PortAddr{}, err
			}
		}
		laddr = netip.AddrPortFrom(src, port)
	}
	return PortAddr{LocalAddr: laddr, Protocol: ep.proto, RemoteAddr: raddr}, nil
}

// Shutdown implements [stack.Provider].
func (ns *Stack) Shutdown(fd, how int) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	if how != unix.SHUT_RD && how != unix.SHUT_WR && how != unix.SHUT_RDWR {
		return EINVAL
	}
	defer ns.notifyLocked()
	switch {
	case ep.stream() && ep.state == stateListening:
		if how != unix.SHUT_WR {
			ns.abortBacklogLocked(ep)
			ns.unregisterLocked(ep)
			ep.state = stateInit
		}
		return nil

	case ep.stream() && ep.state == stateConnecting:
		ns.unregisterLocked(ep)
		ep.state = stateInit
		ep.soerr = ECONNRESET
		return nil
	}

	// Like Linux, update the flags even when not connected, so that
	// waiters blocked on an unconnected socket wake up.
	if how != unix.SHUT_WR {
		ep.shutRd = true
	}
	if how != unix.SHUT_RD {
		ep.shutWr = true
		if ep.stream() {
			ns.sendFINLocked(ep)
		}
	}
	if ep.state != stateConnected {
		return ENOTCONN
	}
	return nil
}

// Getsockname implements [stack.Provider].
func (ns *Stack) Getsockname(fd int) (unix.Sockaddr, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return nil, err
	}
	if !ep.registered {
		return ep.sockaddr(netip.AddrPortFrom(unspecified(ep.family), 0)), nil
	}
	return ep.sockaddr(ep.addr.LocalAddr), nil
}

// Getpeername implements [stack.Provider].
func (ns *Stack) Getpeername(fd int) (unix.Sockaddr, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return nil, err
	}
	if ep.state != stateConnected || !ep.addr.RemoteAddr.IsValid() {
		return nil, ENOTCONN
	}
	return ep.sockaddr(ep.addr.RemoteAddr), nil
}
