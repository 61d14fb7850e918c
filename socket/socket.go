// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rbmk-project/stacksock/netipx"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/rbmk-project/stacksock/stack"
	"golang.org/x/sys/unix"
)

// Socket is a socket handle.
//
// Operations on a single handle may run concurrently as long as
// they do not mutate it: reading and writing from distinct
// goroutines is fine. Close may be called while other operations
// are blocked, which fail with [sockerr.ErrClosed].
//
// Construct using [New] or [FromFD].
type Socket struct {
	// closing is set by Close.
	closing bool

	// config is the socket config.
	config *Config

	// drained is signaled when refs drops to zero while closing.
	drained *sync.Cond

	// family is the address family.
	family int

	// fd is the provider descriptor or -1.
	fd int

	// fdmu protects closing, fd, and refs.
	fdmu sync.Mutex

	// proto is the protocol number.
	proto int

	// refs counts the operations using fd.
	refs int

	// sotype is the socket type without flag bits.
	sotype int

	// stack is the owning stack.
	stack *stack.Stack

	// timeout is the timeout policy.
	timeout sockcall.Timeout
}

// New creates a new [*Socket] using the given stack.
//
// A negative family, type, or protocol selects AF_INET,
// SOCK_STREAM, and zero respectively. The type may include
// SOCK_NONBLOCK, which selects the [sockcall.Zero] policy,
// and SOCK_CLOEXEC. A nil config means [DefaultConfig].
func New(config *Config, st *stack.Stack, family, sotype, proto int) (*Socket, error) {
	if family < 0 {
		family = unix.AF_INET
	}
	if sotype < 0 {
		sotype = unix.SOCK_STREAM
	}
	if proto < 0 {
		proto = 0
	}
	if err := st.Acquire(); err != nil {
		return nil, err
	}
	fd, err := st.Provider().Socket(family, sotype, proto)
	if err != nil {
		st.Release()
		return nil, sockerr.NewOpError("socket", -1, err)
	}
	return newSocket(configOrDefault(config), st, fd, family, sotype, proto)
}

// FromFD creates a new [*Socket] owning an existing descriptor.
//
// A negative family, type, or protocol is queried from the provider
// using SO_DOMAIN, SO_TYPE, and SO_PROTOCOL. On failure, the descriptor
// is closed unless it is -1, which is rejected as invalid.
func FromFD(config *Config, st *stack.Stack, fd, family, sotype, proto int) (*Socket, error) {
	if fd == -1 {
		return nil, sockerr.Invalid("invalid file descriptor")
	}
	if err := st.Acquire(); err != nil {
		st.Provider().Close(fd)
		return nil, err
	}
	for _, q := range []struct {
		value *int
		opt   int
	}{
		{&family, unix.SO_DOMAIN},
		{&sotype, unix.SO_TYPE},
		{&proto, unix.SO_PROTOCOL},
	} {
		if *q.value >= 0 {
			continue
		}
		v, err := st.Provider().GetsockoptInt(fd, unix.SOL_SOCKET, q.opt)
		if err != nil {
			st.Provider().Close(fd)
			st.Release()
			return nil, sockerr.NewOpError("getsockopt", fd, err)
		}
		*q.value = v
	}
	return newSocket(configOrDefault(config), st, fd, family, sotype, proto)
}

// newSocket initializes a [*Socket] owning fd and a stack reference,
// both of which are released on failure.
func newSocket(config *Config, st *stack.Stack, fd, family, sotype, proto int) (*Socket, error) {
	s := &Socket{
		config:  config,
		family:  family,
		fd:      fd,
		proto:   proto,
		sotype:  sotype &^ (unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC),
		stack:   st,
		timeout: DefaultTimeout(),
	}
	s.drained = sync.NewCond(&s.fdmu)
	if sotype&unix.SOCK_NONBLOCK != 0 {
		s.timeout = sockcall.Zero
		return s, nil
	}
	if s.timeout.NonBlockingFD() {
		if err := s.setBlockingFD(fd, false); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Family returns the address family.
func (s *Socket) Family() int {
	return s.family
}

// Type returns the socket type, without SOCK_NONBLOCK and SOCK_CLOEXEC.
func (s *Socket) Type() int {
	return s.sotype
}

// Proto returns the protocol number.
func (s *Socket) Proto() int {
	return s.proto
}

// Stack returns the owning stack.
func (s *Socket) Stack() *stack.Stack {
	return s.stack
}

// Fileno returns the provider descriptor, or -1 once closed or detached.
func (s *Socket) Fileno() int {
	s.fdmu.Lock()
	defer s.fdmu.Unlock()
	return s.fd
}

// Detach releases ownership of the descriptor without closing it
// and returns the descriptor, or -1 if already closed or detached.
// The socket also drops its stack reference, hence the caller
// needs its own reference to keep using the descriptor.
//
// Operations already running keep using the descriptor.
func (s *Socket) Detach() int {
	s.fdmu.Lock()
	fd := s.fd
	if fd == -1 || s.closing {
		s.fdmu.Unlock()
		return -1
	}
	s.fd = -1
	s.fdmu.Unlock()
	s.stack.Release()
	return fd
}

// Close closes the socket. It is idempotent.
//
// Operations blocked on the socket are woken up by shutting down
// both directions, which also affects sockets obtained using
// [*Socket.Dup], and fail with [sockerr.ErrClosed]. The descriptor
// is closed once they have returned, so it cannot be reused by
// the provider while they are still running.
//
// A connection reset reported by the provider is not an error,
// since the peer may already have torn down the connection.
func (s *Socket) Close() error {
	s.fdmu.Lock()
	fd := s.fd
	if fd == -1 || s.closing {
		s.fdmu.Unlock()
		return nil
	}
	s.closing = true
	inflight := s.refs > 0
	s.fdmu.Unlock()

	ctx := context.Background()
	t0 := s.logStart(ctx, "close", fd)
	if inflight {
		s.stack.Provider().Shutdown(fd, unix.SHUT_RDWR)
	}
	s.fdmu.Lock()
	for s.refs > 0 {
		s.drained.Wait()
	}
	s.fd = -1
	s.fdmu.Unlock()

	err := s.stack.Provider().Close(fd)
	if errors.Is(err, unix.ECONNRESET) {
		err = nil
	}
	err = sockerr.NewOpError("close", fd, err)
	s.logDone(ctx, "close", -1, t0, err)
	if rerr := s.stack.Release(); err == nil {
		err = rerr
	}
	return err
}

// Dup duplicates the socket. The new socket has the same
// timeout policy and holds its own stack reference.
func (s *Socket) Dup() (*Socket, error) {
	fd, err := s.incref("dup")
	if err != nil {
		return nil, err
	}
	defer s.decref()
	newfd, err := s.stack.Provider().Dup(fd)
	if err != nil {
		return nil, sockerr.NewOpError("dup", fd, err)
	}
	dup, err := FromFD(s.config, s.stack, newfd, s.family, s.sotype, s.proto)
	if err != nil {
		return nil, err
	}
	if err := dup.SetTimeout(s.timeout); err != nil {
		dup.Close()
		return nil, err
	}
	return dup, nil
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() (unix.Sockaddr, error) {
	fd, err := s.incref("getsockname")
	if err != nil {
		return nil, err
	}
	defer s.decref()
	sa, err := s.stack.Provider().Getsockname(fd)
	if err != nil {
		return nil, sockerr.NewOpError("getsockname", fd, err)
	}
	return sa, nil
}

// RemoteAddr returns the address of the connected peer.
func (s *Socket) RemoteAddr() (unix.Sockaddr, error) {
	fd, err := s.incref("getpeername")
	if err != nil {
		return nil, err
	}
	defer s.decref()
	sa, err := s.stack.Provider().Getpeername(fd)
	if err != nil {
		return nil, sockerr.NewOpError("getpeername", fd, err)
	}
	return sa, nil
}

// String implements [fmt.Stringer].
func (s *Socket) String() string {
	var sb strings.Builder
	sb.WriteString("<socket.Socket")
	fd := s.Fileno()
	if fd == -1 {
		sb.WriteString(" [closed]")
	}
	fmt.Fprintf(&sb, " fd=%d, family=%d, type=%d, proto=%d, stack=%s",
		fd, s.family, s.sotype, s.proto, s.stack.Name())
	if fd != -1 {
		if sa, err := s.LocalAddr(); err == nil {
			if ap, err := netipx.SockaddrToAddrPort(sa); err == nil {
				fmt.Fprintf(&sb, ", laddr=%s", ap)
			}
		}
		if sa, err := s.RemoteAddr(); err == nil {
			if ap, err := netipx.SockaddrToAddrPort(sa); err == nil {
				fmt.Fprintf(&sb, ", raddr=%s", ap)
			}
		}
	}
	sb.WriteString(">")
	return sb.String()
}

// request returns the request for a blocking operation on fd.
func (s *Socket) request(fd int, op string, dir sockcall.Dir) sockcall.Request {
	return sockcall.Request{
		Op:      op,
		FD:      fd,
		Dir:     dir,
		Timeout: s.timeout,
	}
}

// executor returns the executor for blocking operations.
func (s *Socket) executor() *sockcall.Executor {
	return &sockcall.Executor{
		Poller: s.stack.Provider(),
		Clock:  s.config.clock(),
		Lock:   s.config.SchedLock,
	}
}

// run executes attempt through [sockcall.Do] holding the
// scheduling lock, if any, while not inside attempt or waiting.
//
// The caller must hold a reference to req.FD. When Close wakes up
// the operation, the result is either an error or the zero value,
// e.g., a zero-length read, and we return [sockerr.ErrClosed].
func run[T comparable](ctx context.Context, s *Socket, req sockcall.Request, attempt sockcall.Attempt[T]) (T, error) {
	ex := s.executor()
	if ex.Lock != nil {
		ex.Lock.Lock()
		defer ex.Lock.Unlock()
	}
	res, err := sockcall.Do(ctx, ex, req, attempt)
	var zero T
	if (err != nil || res == zero) && s.isClosing() {
		return zero, sockerr.NewOpError(req.Op, req.FD, sockerr.ErrClosed)
	}
	return res, err
}
