// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package stack defines the network-stack provider consumed by sockets
and the shared, reference-counted [*Stack] handle owning it.

A [Provider] exposes descriptor-based primitives modeled after the
BSD socket API. Every primitive returns immediately with EAGAIN when
the descriptor is non-blocking and the operation cannot complete,
and fails with the same [syscall.Errno] values the kernel would use.
*/
package stack

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Provider performs the actual network I/O.
type Provider interface {
	// Socket creates a descriptor. The type may include the
	// SOCK_NONBLOCK and SOCK_CLOEXEC bits.
	Socket(family, sotype, proto int) (int, error)

	// Close releases a descriptor.
	Close(fd int) error

	// Dup duplicates a descriptor.
	Dup(fd int) (int, error)

	Bind(fd int, sa unix.Sockaddr) error
	Listen(fd, backlog int) error

	// Accept returns a new, blocking descriptor and the peer address.
	Accept(fd int) (int, unix.Sockaddr, error)

	// Connect starts or performs a connection. A non-blocking
	// descriptor yields EINPROGRESS and the outcome is later
	// available through SO_ERROR.
	Connect(fd int, sa unix.Sockaddr) error

	Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error)

	// Sendto sends p to the given address, or to the connected
	// peer when to is nil.
	Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error)

	Recvmsg(fd int, bufs [][]byte, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error)
	Sendmsg(fd int, bufs [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error)

	GetsockoptInt(fd, level, opt int) (int, error)
	GetsockoptBytes(fd, level, opt, buflen int) ([]byte, error)
	SetsockoptInt(fd, level, opt, value int) error
	SetsockoptBytes(fd, level, opt int, value []byte) error

	// SetsockoptLen sets an option passing no value and the given length.
	SetsockoptLen(fd, level, opt, optlen int) error

	Shutdown(fd, how int) error
	Getsockname(fd int) (unix.Sockaddr, error)
	Getpeername(fd int) (unix.Sockaddr, error)

	FcntlGetFlags(fd int) (int, error)
	FcntlSetFlags(fd, flags int) error

	// Poll follows poll(2) semantics.
	Poll(fds []unix.PollFd, timeoutMs int) (int, error)
}

// StackCloser is implemented by providers owning resources
// to release along with the last [*Stack] reference.
type StackCloser interface {
	CloseStack() error
}

// ErrReleased indicates that the [*Stack] has already been released.
var ErrReleased = errors.New("stack: already released")

// Stack is a shared handle owning a [Provider].
//
// The creator holds the first reference. Every socket acquires
// another reference when opened and releases it when closed or
// detached. The provider is closed, if it implements [StackCloser],
// when the last reference goes away.
//
// The zero value is invalid; construct using [New].
type Stack struct {
	// name is the stack name used in logs.
	name string

	// provider is the underlying provider.
	provider Provider

	// mu protects refs.
	mu sync.Mutex

	// refs is the number of live references.
	refs int
}

// New creates a new [*Stack] with a single reference.
func New(name string, provider Provider) *Stack {
	return &Stack{name: name, provider: provider, refs: 1}
}

// Name returns the stack name.
func (s *Stack) Name() string {
	return s.name
}

// Provider returns the underlying [Provider].
func (s *Stack) Provider() Provider {
	return s.provider
}

// Acquire takes a new reference, failing with [ErrReleased]
// if the last reference was already released.
func (s *Stack) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs <= 0 {
		return ErrReleased
	}
	s.refs++
	return nil
}

// Release drops a reference, closing the provider when dropping
// the last one. Releasing more than acquired returns [ErrReleased].
func (s *Stack) Release() error {
	s.mu.Lock()
	if s.refs <= 0 {
		s.mu.Unlock()
		return ErrReleased
	}
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()
	if closer, ok := s.provider.(StackCloser); last && ok {
		return closer.CloseStack()
	}
	return nil
}

// Refs returns the number of live references.
func (s *Stack) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// String implements [fmt.Stringer].
func (s *Stack) String() string {
	return fmt.Sprintf("<stack %s refs=%d>", s.name, s.Refs())
}
