// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"log/slog"

	"github.com/rbmk-project/stacksock/cmsg"
	"github.com/rbmk-project/stacksock/fdpool"
	"github.com/rbmk-project/stacksock/iovec"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// Message is the result of [*Socket.RecvMsg] and [*Socket.RecvMsgInto].
type Message struct {
	// Data contains the received bytes. Only set by RecvMsg.
	Data []byte

	// N is the number of bytes received.
	N int

	// Control contains the received ancillary records, possibly
	// including a final truncated record when Flags has MSG_CTRUNC.
	//
	// Descriptors received using SCM_RIGHTS belong to the caller.
	Control []cmsg.Record

	// Flags contains the message flags (e.g., MSG_TRUNC).
	Flags int

	// From is the sender address, if known.
	From unix.Sockaddr
}

// recvmsgResult is the result of a recvmsg attempt.
type recvmsgResult struct {
	n, oobn, flags int
	from           unix.Sockaddr
}

// SendMsg sends the concatenation of bufs along with the given
// ancillary records. A nil to means the connected peer.
//
// Buffers are acquired before calling the provider and released
// before returning, whatever the outcome.
func (s *Socket) SendMsg(ctx context.Context, bufs []iovec.Buffer,
	control []cmsg.Record, flags int, to unix.Sockaddr) (int, error) {
	list, err := iovec.AssembleLimit(bufs, s.config.maxSegments())
	if err != nil {
		return 0, err
	}
	defer list.Release()

	oob, err := cmsg.Encode(control)
	if err != nil {
		return 0, err
	}

	provider := s.stack.Provider()
	fd, err := s.incref("sendmsg")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	t0 := s.logStart(ctx, "sendMsg", fd,
		slog.Int("ioBufferSize", list.Len()),
		slog.Int("controlSize", len(oob)),
	)
	segs := list.Segments()
	count, err := run(ctx, s, s.request(fd, "sendmsg", sockcall.Write), func() (int, error) {
		return provider.Sendmsg(fd, segs, oob, to, flags)
	})
	s.logDone(ctx, "sendMsg", fd, t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

// RecvMsg receives up to bufsize bytes along with up to ancbufsize
// bytes of ancillary data.
func (s *Socket) RecvMsg(ctx context.Context, bufsize, ancbufsize, flags int) (*Message, error) {
	if bufsize < 0 {
		return nil, sockerr.Invalid("negative buffer size in recvmsg()")
	}
	buf := make([]byte, bufsize)
	msg, err := s.recvmsg(ctx, [][]byte{buf}, ancbufsize, flags)
	if err != nil {
		return nil, err
	}
	msg.Data = buf[:msg.N]
	return msg, nil
}

// RecvMsgInto is like [*Socket.RecvMsg] but scatters the received
// bytes into bufs, which are acquired before calling the provider
// and released before returning, whatever the outcome.
func (s *Socket) RecvMsgInto(ctx context.Context, bufs []iovec.Buffer, ancbufsize, flags int) (*Message, error) {
	list, err := iovec.AssembleLimit(bufs, s.config.maxSegments())
	if err != nil {
		return nil, err
	}
	defer list.Release()
	return s.recvmsg(ctx, list.Segments(), ancbufsize, flags)
}

// recvmsg receives into segs and decodes the ancillary data.
//
// Descriptors carried by SCM_RIGHTS records are tracked while
// decoding and closed when decoding fails, so they do not leak.
func (s *Socket) recvmsg(ctx context.Context, segs [][]byte, ancbufsize, flags int) (*Message, error) {
	if ancbufsize < 0 || ancbufsize > cmsg.MaxControlLen {
		return nil, sockerr.Invalid("invalid ancillary data buffer length")
	}
	oob := make([]byte, ancbufsize)

	provider := s.stack.Provider()
	fd, err := s.incref("recvmsg")
	if err != nil {
		return nil, err
	}
	defer s.decref()
	var size int
	for _, seg := range segs {
		size += len(seg)
	}
	t0 := s.logStart(ctx, "recvMsg", fd,
		slog.Int("ioBufferSize", size),
		slog.Int("controlSize", ancbufsize),
	)
	res, err := run(ctx, s, s.request(fd, "recvmsg", sockcall.Read), func() (recvmsgResult, error) {
		n, oobn, recvflags, from, err := provider.Recvmsg(fd, segs, oob, flags)
		return recvmsgResult{n: n, oobn: oobn, flags: recvflags, from: from}, err
	})
	if err != nil {
		s.logDone(ctx, "recvMsg", fd, t0, err)
		return nil, err
	}

	pending := fdpool.New(provider.Close)
	defer pending.Close()

	records, truncated, err := cmsg.Decode(oob[:min(res.oobn, len(oob))])
	for _, rec := range records {
		if rec.IsRights() {
			fds, _ := rec.FDs()
			pending.Add(fds...)
		}
	}
	if err != nil {
		s.logDone(ctx, "recvMsg", fd, t0, err, slog.Int("ioBytesCount", res.n))
		return nil, err
	}
	if truncated && s.config.Logger != nil {
		s.config.Logger.WarnContext(ctx, "recvMsgControlTruncated",
			slog.Int("fd", fd),
			slog.Int("controlSize", ancbufsize),
		)
	}

	pending.Detach()
	s.logDone(ctx, "recvMsg", fd, t0, nil,
		slog.Int("ioBytesCount", res.n),
		slog.Int("controlCount", len(records)),
	)
	return &Message{
		N:       res.n,
		Control: records,
		Flags:   res.flags,
		From:    res.from,
	}, nil
}
