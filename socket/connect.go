// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"errors"
	"log/slog"
	"syscall"

	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// DefaultBacklog is the backlog used by [*Socket.Listen] when
// the caller does not specify one.
const DefaultBacklog = min(unix.SOMAXCONN, 128)

// Bind binds the socket to the given local address.
func (s *Socket) Bind(ctx context.Context, sa unix.Sockaddr) error {
	fd, err := s.incref("bind")
	if err != nil {
		return err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "bind", fd)
	err = sockerr.NewOpError("bind", fd, s.stack.Provider().Bind(fd, sa))
	s.logDone(ctx, "bind", fd, t0, err)
	return err
}

// Listen marks the socket as accepting connections. A negative
// backlog is treated as zero.
func (s *Socket) Listen(ctx context.Context, backlog int) error {
	backlog = max(backlog, 0)
	fd, err := s.incref("listen")
	if err != nil {
		return err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "listen", fd, slog.Int("backlog", backlog))
	err = sockerr.NewOpError("listen", fd, s.stack.Provider().Listen(fd, backlog))
	s.logDone(ctx, "listen", fd, t0, err, slog.Int("backlog", backlog))
	return err
}

// acceptResult is the result of an accept attempt.
type acceptResult struct {
	fd   int
	peer unix.Sockaddr
}

// Accept waits for an incoming connection and returns the
// connected socket along with the peer address.
//
// The new socket uses the default timeout policy, except that it
// is forced into blocking mode when the default policy is
// [sockcall.Infinite] and this socket has a bounded timeout.
func (s *Socket) Accept(ctx context.Context) (*Socket, unix.Sockaddr, error) {
	fd, err := s.incref("accept")
	if err != nil {
		return nil, nil, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "accept", fd)
	conn, peer, err := s.accept(ctx, fd)
	s.logDone(ctx, "accept", fd, t0, err)
	return conn, peer, err
}

func (s *Socket) accept(ctx context.Context, fd int) (*Socket, unix.Sockaddr, error) {
	provider := s.stack.Provider()
	res, err := run(ctx, s, s.request(fd, "accept", sockcall.Read), func() (acceptResult, error) {
		connfd, peer, err := provider.Accept(fd)
		return acceptResult{fd: connfd, peer: peer}, err
	})
	if err != nil {
		return nil, nil, err
	}
	conn, err := FromFD(s.config, s.stack, res.fd, s.family, s.sotype, s.proto)
	if err != nil {
		return nil, nil, err
	}
	if DefaultTimeout().Kind() == sockcall.KindInfinite && s.timeout.Kind() == sockcall.KindBounded {
		if err := conn.SetBlocking(true); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}
	return conn, res.peer, nil
}

// Connect connects the socket to the given address.
//
// When the provider reports that the connection is in progress and
// the policy is bounded, or when the provider call is interrupted
// and the policy is not [sockcall.Zero], Connect waits for the
// descriptor to become writable and reads SO_ERROR to learn the
// outcome. Otherwise, the provider error is returned as is.
func (s *Socket) Connect(ctx context.Context, sa unix.Sockaddr) error {
	fd, err := s.incref("connect")
	if err != nil {
		return err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "connect", fd)
	err = s.connect(ctx, fd, sa)
	s.logDone(ctx, "connect", fd, t0, err)
	return err
}

// ConnectEx is like [*Socket.Connect] but returns the error number
// rather than failing when the provider reports an error. A timeout
// is reported as EWOULDBLOCK. The returned error is only non-nil for
// failures that do not map to an error number, such as interruptions.
func (s *Socket) ConnectEx(ctx context.Context, sa unix.Sockaddr) (syscall.Errno, error) {
	fd, err := s.incref("connect")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "connectEx", fd)
	err = s.connect(ctx, fd, sa)
	s.logDone(ctx, "connectEx", fd, t0, err)
	if err == nil {
		return 0, nil
	}
	if errors.Is(err, sockerr.ErrTimedOut) {
		return unix.EWOULDBLOCK, nil
	}
	if errno, ok := sockerr.Errno(err); ok {
		return errno, nil
	}
	return 0, err
}

func (s *Socket) connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	provider := s.stack.Provider()
	err := provider.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if s.isClosing() {
		return sockerr.NewOpError("connect", fd, sockerr.ErrClosed)
	}

	var wait bool
	if sockerr.IsInterrupt(err) {
		if cerr := ctx.Err(); cerr != nil {
			return sockerr.Interrupted(cerr)
		}
		wait = s.timeout.Kind() != sockcall.KindZero
	} else {
		wait = s.timeout.Kind() == sockcall.KindBounded && errors.Is(err, unix.EINPROGRESS)
	}
	if !wait {
		return sockerr.NewOpError("connect", fd, err)
	}

	req := s.request(fd, "connect", sockcall.Write)
	req.Connect = true
	_, err = run(ctx, s, req, func() (struct{}, error) {
		soerr, err := provider.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return struct{}{}, err
		}
		switch errno := syscall.Errno(soerr); errno {
		case 0, unix.EISCONN:
			return struct{}{}, nil
		default:
			return struct{}{}, errno
		}
	})
	return err
}

// Shutdown shuts down one or both directions of the connection
// (SHUT_RD, SHUT_WR, or SHUT_RDWR).
func (s *Socket) Shutdown(ctx context.Context, how int) error {
	fd, err := s.incref("shutdown")
	if err != nil {
		return err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "shutdown", fd, slog.Int("how", how))
	err = sockerr.NewOpError("shutdown", fd, s.stack.Provider().Shutdown(fd, how))
	s.logDone(ctx, "shutdown", fd, t0, err, slog.Int("how", how))
	return err
}
