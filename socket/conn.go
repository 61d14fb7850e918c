//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// net.Conn view of a socket.
//

package socket

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/stacksock/deadline"
	"github.com/rbmk-project/stacksock/netipx"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// emptyAddr is an empty [net.Addr].
type emptyAddr struct{}

// Network implements [net.Addr].
func (emptyAddr) Network() string { return "" }

// String implements [net.Addr].
func (emptyAddr) String() string { return "" }

// NetConn returns a [net.Conn] view of the socket, which should
// be connected. Closing the view closes the socket.
//
// Without deadlines, reads and writes follow the socket timeout
// policy. With a deadline, they wait at most until the deadline
// and then fail with an error matching [os.ErrDeadlineExceeded].
//
// The context is used for logging and to interrupt operations.
func (s *Socket) NetConn(ctx context.Context) net.Conn {
	return &conn{ctx: ctx, sock: s}
}

// conn implements [net.Conn] on top of a [*Socket].
type conn struct {
	ctx       context.Context
	closeonce sync.Once
	mu        sync.Mutex // protects rdl and wdl
	rdl       time.Time
	sock      *Socket
	wdl       time.Time
}

var _ net.Conn = &conn{}

// request returns the request and the flags to use for an
// operation bound by the given absolute deadline, if any.
func (c *conn) request(fd int, op string, dir sockcall.Dir, dl time.Time) (sockcall.Request, int, error) {
	req := c.sock.request(fd, op, dir)
	if dl.IsZero() {
		return req, 0, nil
	}
	remaining := dl.Sub(c.sock.config.timeNow())
	if remaining <= 0 {
		return req, 0, sockerr.ErrTimedOut
	}
	timeout, err := sockcall.Bounded(min(remaining, sockcall.MaxTimeout))
	if err != nil {
		return req, 0, err
	}
	req.Timeout = timeout
	req.Deadline = deadline.After(c.sock.config.clock(), remaining)

	// the policy may require a blocking descriptor
	var flags int
	if !c.sock.timeout.NonBlockingFD() {
		flags = unix.MSG_DONTWAIT
	}
	return req, flags, nil
}

func (c *conn) readDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdl
}

func (c *conn) writeDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wdl
}

// Read implements [net.Conn].
func (c *conn) Read(buf []byte) (int, error) {
	fd, err := c.sock.incref("recv")
	if err != nil {
		return 0, err
	}
	defer c.sock.decref()
	t0 := c.sock.logStart(c.ctx, "read", fd, slog.Int("ioBufferSize", len(buf)))
	count, err := c.read(fd, buf)
	c.sock.logDone(c.ctx, "read", fd, t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

func (c *conn) read(fd int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	req, flags, err := c.request(fd, "recv", sockcall.Read, c.readDeadline())
	if err != nil {
		return 0, err
	}
	res, err := c.sock.recvfrom(c.ctx, req, buf, flags)
	if err != nil {
		return 0, err
	}
	if res.n == 0 && c.sock.sotype == unix.SOCK_STREAM {
		return 0, io.EOF
	}
	return res.n, nil
}

// Write implements [net.Conn].
func (c *conn) Write(data []byte) (int, error) {
	fd, err := c.sock.incref("send")
	if err != nil {
		return 0, err
	}
	defer c.sock.decref()
	t0 := c.sock.logStart(c.ctx, "write", fd, slog.Int("ioBufferSize", len(data)))
	count, err := c.write(fd, data)
	c.sock.logDone(c.ctx, "write", fd, t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

func (c *conn) write(fd int, data []byte) (int, error) {
	req, flags, err := c.request(fd, "send", sockcall.Write, c.writeDeadline())
	if err != nil {
		return 0, err
	}
	var total int
	for total < len(data) {
		n, err := c.sock.send(c.ctx, req, data[total:], flags)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close implements [net.Conn].
func (c *conn) Close() (err error) {
	c.closeonce.Do(func() {
		err = c.sock.Close()
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *conn) LocalAddr() net.Addr {
	if sa, err := c.sock.LocalAddr(); err == nil {
		if addr := netipx.SockaddrToNetAddr(c.sock.sotype, sa); addr != nil {
			return addr
		}
	}
	return emptyAddr{}
}

// RemoteAddr implements [net.Conn].
func (c *conn) RemoteAddr() net.Addr {
	if sa, err := c.sock.RemoteAddr(); err == nil {
		if addr := netipx.SockaddrToNetAddr(c.sock.sotype, sa); addr != nil {
			return addr
		}
	}
	return emptyAddr{}
}

// SetDeadline implements [net.Conn].
func (c *conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdl, c.wdl = t, t
	c.mu.Unlock()
	return nil
}

// SetReadDeadline implements [net.Conn].
func (c *conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdl = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline implements [net.Conn].
func (c *conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.wdl = t
	c.mu.Unlock()
	return nil
}
