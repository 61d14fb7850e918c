// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"log/slog"

	"github.com/rbmk-project/stacksock/deadline"
	"github.com/rbmk-project/stacksock/iovec"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// recvfromResult is the result of a recvfrom attempt.
type recvfromResult struct {
	n    int
	from unix.Sockaddr
}

// Send sends p to the connected peer and returns the number of
// bytes sent, which may be less than len(p).
func (s *Socket) Send(ctx context.Context, p []byte, flags int) (int, error) {
	fd, err := s.incref("send")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "send", fd, slog.Int("ioBufferSize", len(p)))
	count, err := s.send(ctx, s.request(fd, "send", sockcall.Write), p, flags)
	s.logDone(ctx, "send", fd, t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

func (s *Socket) send(ctx context.Context, req sockcall.Request, p []byte, flags int) (int, error) {
	provider := s.stack.Provider()
	fd := req.FD
	return run(ctx, s, req, func() (int, error) {
		return provider.Sendto(fd, p, flags, nil)
	})
}

// SendAll sends the whole of p, calling the provider as many times
// as needed. With a bounded policy, the timeout covers the whole
// call rather than each provider call. On failure, the number of
// bytes sent is unknown.
func (s *Socket) SendAll(ctx context.Context, p []byte, flags int) error {
	fd, err := s.incref("sendall")
	if err != nil {
		return err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "sendAll", fd, slog.Int("ioBufferSize", len(p)))
	count, err := s.sendAll(ctx, fd, p, flags)
	s.logDone(ctx, "sendAll", fd, t0, err, slog.Int("ioBytesCount", count))
	return err
}

func (s *Socket) sendAll(ctx context.Context, fd int, p []byte, flags int) (int, error) {
	req := s.request(fd, "sendall", sockcall.Write)
	bounded := req.Timeout.Kind() == sockcall.KindBounded
	if bounded {
		req.Deadline = deadline.After(s.config.clock(), req.Timeout.Duration())
	}
	var total int
	for {
		if bounded && req.Deadline.Remaining() <= 0 {
			return total, sockerr.ErrTimedOut
		}
		n, err := s.send(ctx, req, p[total:], flags)
		if err != nil {
			return total, err
		}
		total += n
		if total >= len(p) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, sockerr.Interrupted(err)
		}
	}
}

// Recv receives up to n bytes. A zero n returns immediately
// without calling the provider.
func (s *Socket) Recv(ctx context.Context, n, flags int) ([]byte, error) {
	if n < 0 {
		return nil, sockerr.Invalid("negative buffersize in recv")
	}
	buf := make([]byte, n)
	count, err := s.RecvInto(ctx, buf, n, flags)
	if err != nil {
		return nil, err
	}
	return buf[:count], nil
}

// RecvInto receives up to nbytes into buf. A zero nbytes means
// len(buf); an nbytes larger than len(buf) is rejected.
func (s *Socket) RecvInto(ctx context.Context, buf []byte, nbytes, flags int) (int, error) {
	size, err := iovec.RecvLength(nbytes, len(buf))
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, nil
	}
	fd, err := s.incref("recv")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "recv", fd, slog.Int("ioBufferSize", size))
	res, err := s.recvfrom(ctx, s.request(fd, "recv", sockcall.Read), buf[:size], flags)
	s.logDone(ctx, "recv", fd, t0, err, slog.Int("ioBytesCount", res.n))
	return res.n, err
}

func (s *Socket) recvfrom(ctx context.Context, req sockcall.Request, buf []byte, flags int) (recvfromResult, error) {
	provider := s.stack.Provider()
	fd := req.FD
	return run(ctx, s, req, func() (recvfromResult, error) {
		n, from, err := provider.Recvfrom(fd, buf, flags)
		return recvfromResult{n: n, from: from}, err
	})
}

// SendTo sends p to the given address.
func (s *Socket) SendTo(ctx context.Context, p []byte, flags int, to unix.Sockaddr) (int, error) {
	if to == nil {
		return 0, sockerr.Invalid("sendto requires a destination address")
	}
	provider := s.stack.Provider()
	fd, err := s.incref("sendto")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "sendTo", fd,
		slog.Int("ioBufferSize", len(p)),
		slog.String("destAddr", addrString(s.sotype, to)),
	)
	count, err := run(ctx, s, s.request(fd, "sendto", sockcall.Write), func() (int, error) {
		return provider.Sendto(fd, p, flags, to)
	})
	s.logDone(ctx, "sendTo", fd, t0, err,
		slog.Int("ioBytesCount", count),
		slog.String("destAddr", addrString(s.sotype, to)),
	)
	return count, err
}

// RecvFrom receives up to n bytes and returns them along
// with the sender address.
func (s *Socket) RecvFrom(ctx context.Context, n, flags int) ([]byte, unix.Sockaddr, error) {
	if n < 0 {
		return nil, nil, sockerr.Invalid("negative buffersize in recvfrom")
	}
	buf := make([]byte, n)
	count, from, err := s.RecvFromInto(ctx, buf, n, flags)
	if err != nil {
		return nil, nil, err
	}
	return buf[:count], from, nil
}

// RecvFromInto is like [*Socket.RecvInto] but also returns the
// sender address. Unlike RecvInto, it calls the provider even
// when there is no room, so that empty datagrams are consumed.
func (s *Socket) RecvFromInto(ctx context.Context, buf []byte, nbytes, flags int) (int, unix.Sockaddr, error) {
	size, err := iovec.RecvLength(nbytes, len(buf))
	if err != nil {
		return 0, nil, err
	}
	fd, err := s.incref("recvfrom")
	if err != nil {
		return 0, nil, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "recvFrom", fd, slog.Int("ioBufferSize", size))
	res, err := s.recvfrom(ctx, s.request(fd, "recvfrom", sockcall.Read), buf[:size], flags)
	s.logDone(ctx, "recvFrom", fd, t0, err,
		slog.Int("ioBytesCount", res.n),
		slog.String("sourceAddr", addrString(s.sotype, res.from)),
	)
	return res.n, res.from, err
}
