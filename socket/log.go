// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbmk-project/stacksock/errclass"
	"github.com/rbmk-project/stacksock/netipx"
	"golang.org/x/sys/unix"
)

// protocol returns the protocol name used in logs.
func (s *Socket) protocol() string {
	switch s.sotype {
	case unix.SOCK_STREAM:
		return "tcp"
	case unix.SOCK_DGRAM:
		return "udp"
	default:
		return "raw"
	}
}

// addrString formats a socket address for logs.
func addrString(sotype int, sa unix.Sockaddr) string {
	if addr := netipx.SockaddrToNetAddr(sotype, sa); addr != nil {
		return addr.String()
	}
	return ""
}

// logAttrs returns the attributes common to every event.
func (s *Socket) logAttrs(fd int) []any {
	var laddr, raddr string
	if fd != -1 {
		provider := s.stack.Provider()
		if sa, err := provider.Getsockname(fd); err == nil {
			laddr = addrString(s.sotype, sa)
		}
		if sa, err := provider.Getpeername(fd); err == nil {
			raddr = addrString(s.sotype, sa)
		}
	}
	return []any{
		slog.Int("fd", fd),
		slog.String("localAddr", laddr),
		slog.String("protocol", s.protocol()),
		slog.String("remoteAddr", raddr),
		slog.String("stack", s.stack.Name()),
	}
}

// logStart emits the <op>Start event and returns the start time.
func (s *Socket) logStart(ctx context.Context, op string, fd int, attrs ...any) time.Time {
	t0 := s.config.timeNow()
	if s.config.Logger != nil {
		args := append(s.logAttrs(fd), attrs...)
		args = append(args, slog.Time("t", t0))
		s.config.Logger.InfoContext(ctx, op+"Start", args...)
	}
	return t0
}

// logDone emits the <op>Done event.
func (s *Socket) logDone(ctx context.Context, op string, fd int, t0 time.Time, err error, attrs ...any) {
	if s.config.Logger != nil {
		args := append(s.logAttrs(fd), attrs...)
		args = append(args,
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", s.config.timeNow()),
		)
		s.config.Logger.InfoContext(ctx, op+"Done", args...)
	}
}
