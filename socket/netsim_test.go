// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rbmk-project/stacksock/cmsg"
	"github.com/rbmk-project/stacksock/iovec"
	"github.com/rbmk-project/stacksock/netsim"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/rbmk-project/stacksock/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var (
	serverAddr = netip.MustParseAddr("10.0.0.1")
	clientAddr = netip.MustParseAddr("10.0.0.2")
)

func sockaddr(addr netip.Addr, port int) unix.Sockaddr {
	return &unix.SockaddrInet4{Port: port, Addr: addr.As4()}
}

// newLinkedStacks returns two simulated stacks connected by a link.
func newLinkedStacks(t *testing.T) (server, client *stack.Stack) {
	srv := netsim.NewStack(nil, serverAddr)
	clnt := netsim.NewStack(nil, clientAddr)
	lnk := netsim.NewLink(clnt, srv, nil)
	server = stack.New("server", srv)
	client = stack.New("client", clnt)
	t.Cleanup(func() {
		lnk.Close()
		client.Release()
		server.Release()
	})
	return server, client
}

// newSocket creates a socket failing the test on error.
func newTestSocket(t *testing.T, st *stack.Stack, sotype int) *Socket {
	sock, err := New(nil, st, unix.AF_INET, sotype, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		sock.Close()
	})
	return sock
}

// listen creates a TCP listener on the server address.
func listen(t *testing.T, st *stack.Stack, port, backlog int) *Socket {
	ctx := context.Background()
	sock := newTestSocket(t, st, unix.SOCK_STREAM)
	require.NoError(t, sock.Bind(ctx, sockaddr(netip.IPv4Unspecified(), port)))
	require.NoError(t, sock.Listen(ctx, backlog))
	return sock
}

// connectedPair returns a connected client and server socket.
func connectedPair(t *testing.T) (*Socket, *Socket) {
	ctx := context.Background()
	server, client := newLinkedStacks(t)
	listener := listen(t, server, 80, DefaultBacklog)
	conn := newTestSocket(t, client, unix.SOCK_STREAM)
	require.NoError(t, conn.Connect(ctx, sockaddr(serverAddr, 80)))
	accepted, _, err := listener.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		accepted.Close()
	})
	return conn, accepted
}

func TestNetsimTCP(t *testing.T) {
	ctx := context.Background()
	server, client := newLinkedStacks(t)
	listener := listen(t, server, 80, DefaultBacklog)
	assert.Contains(t, listener.String(), "laddr=0.0.0.0:80")

	conn := newTestSocket(t, client, unix.SOCK_STREAM)
	require.NoError(t, conn.Connect(ctx, sockaddr(serverAddr, 80)))

	accepted, peer, err := listener.Accept(ctx)
	require.NoError(t, err)
	defer accepted.Close()
	assert.Equal(t, [4]byte{10, 0, 0, 2}, peer.(*unix.SockaddrInet4).Addr)
	assert.Contains(t, accepted.String(), "raddr=10.0.0.2:")

	sa, err := conn.RemoteAddr()
	require.NoError(t, err)
	assert.Equal(t, 80, sa.(*unix.SockaddrInet4).Port)

	require.NoError(t, conn.SendAll(ctx, []byte("hello, world"), 0))
	buf := make([]byte, 12)
	_, err = io.ReadFull(accepted.NetConn(ctx), buf)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(buf))

	n, err := accepted.Send(ctx, []byte("bye"), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := conn.Recv(ctx, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	// orderly shutdown delivers EOF
	require.NoError(t, conn.Shutdown(ctx, unix.SHUT_WR))
	data, err = accepted.Recv(ctx, 64, 0)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, accepted.Close())
	require.NoError(t, conn.Close())
	assert.Contains(t, conn.String(), "[closed]")
}

func TestNetsimConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("bounded policy", func(t *testing.T) {
		server, client := newLinkedStacks(t)
		listen(t, server, 443, DefaultBacklog)
		conn := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, conn.SetTimeout(mustBounded(t, 5*time.Second)))
		require.NoError(t, conn.Connect(ctx, sockaddr(serverAddr, 443)))
		sa, err := conn.RemoteAddr()
		require.NoError(t, err)
		assert.Equal(t, 443, sa.(*unix.SockaddrInet4).Port)
	})

	t.Run("connection refused", func(t *testing.T) {
		_, client := newLinkedStacks(t)
		conn := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, conn.SetTimeout(mustBounded(t, 5*time.Second)))
		err := conn.Connect(ctx, sockaddr(serverAddr, 81))
		assert.ErrorIs(t, err, unix.ECONNREFUSED)

		other := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, other.SetTimeout(mustBounded(t, 5*time.Second)))
		errno, err := other.ConnectEx(ctx, sockaddr(serverAddr, 81))
		require.NoError(t, err)
		assert.Equal(t, unix.ECONNREFUSED, errno)
	})

	t.Run("zero policy", func(t *testing.T) {
		server, client := newLinkedStacks(t)
		listen(t, server, 443, DefaultBacklog)
		conn := newTestSocket(t, client, unix.SOCK_STREAM|unix.SOCK_NONBLOCK)
		errno, err := conn.ConnectEx(ctx, sockaddr(serverAddr, 443))
		require.NoError(t, err)
		assert.Equal(t, unix.EINPROGRESS, errno)
	})

	t.Run("timeout", func(t *testing.T) {
		server, client := newLinkedStacks(t)

		// a zero backlog holds a single pending connection
		// and the next SYN is dropped
		listen(t, server, 8080, 0)
		first := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, first.Connect(ctx, sockaddr(serverAddr, 8080)))

		second := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, second.SetTimeout(mustBounded(t, 50*time.Millisecond)))
		t0 := time.Now()
		err := second.Connect(ctx, sockaddr(serverAddr, 8080))
		assert.ErrorIs(t, err, sockerr.ErrTimedOut)
		assert.GreaterOrEqual(t, time.Since(t0), 50*time.Millisecond)

		third := newTestSocket(t, client, unix.SOCK_STREAM)
		require.NoError(t, third.SetTimeout(mustBounded(t, 10*time.Millisecond)))
		errno, err := third.ConnectEx(ctx, sockaddr(serverAddr, 8080))
		require.NoError(t, err)
		assert.Equal(t, unix.EWOULDBLOCK, errno)
	})
}

func TestNetsimRecvTimeout(t *testing.T) {
	ctx := context.Background()
	conn, accepted := connectedPair(t)

	require.NoError(t, accepted.SetTimeout(mustBounded(t, 50*time.Millisecond)))
	t0 := time.Now()
	_, err := accepted.Recv(ctx, 16, 0)
	assert.ErrorIs(t, err, sockerr.ErrTimedOut)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(t0), 50*time.Millisecond)

	require.NoError(t, accepted.SetBlocking(false))
	_, err = accepted.Recv(ctx, 16, 0)
	assert.ErrorIs(t, err, unix.EAGAIN)

	// data arriving later is received within the timeout
	require.NoError(t, accepted.SetTimeout(mustBounded(t, 5*time.Second)))
	go func() {
		time.Sleep(20 * time.Millisecond)
		conn.Send(ctx, []byte("late"), 0)
	}()
	data, err := accepted.Recv(ctx, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, "late", string(data))
}

func TestNetsimUDP(t *testing.T) {
	ctx := context.Background()
	server, client := newLinkedStacks(t)

	srv := newTestSocket(t, server, unix.SOCK_DGRAM)
	require.NoError(t, srv.Bind(ctx, sockaddr(serverAddr, 53)))
	clnt := newTestSocket(t, client, unix.SOCK_DGRAM)

	n, err := clnt.SendTo(ctx, []byte("query"), 0, sockaddr(serverAddr, 53))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, from, err := srv.RecvFrom(ctx, 512, 0)
	require.NoError(t, err)
	assert.Equal(t, "query", string(data))
	assert.Equal(t, [4]byte{10, 0, 0, 2}, from.(*unix.SockaddrInet4).Addr)

	_, err = srv.SendTo(ctx, []byte("response"), 0, from)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, from, err = clnt.RecvFromInto(ctx, buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "response", string(buf[:n]))
	assert.Equal(t, 53, from.(*unix.SockaddrInet4).Port)
}

func TestNetsimMessages(t *testing.T) {
	ctx := context.Background()
	server, client := newLinkedStacks(t)

	srv := newTestSocket(t, server, unix.SOCK_DGRAM)
	require.NoError(t, srv.Bind(ctx, sockaddr(serverAddr, 5353)))
	clnt := newTestSocket(t, client, unix.SOCK_DGRAM)

	control := []cmsg.Record{{Level: unix.SOL_IP, Type: unix.IP_TOS, Data: []byte{0x10}}}
	n, err := clnt.SendMsg(ctx, iovec.Wrap([]byte("ab"), []byte("cd")), control, 0, sockaddr(serverAddr, 5353))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	space, err := cmsg.Space(1)
	require.NoError(t, err)
	msg, err := srv.RecvMsg(ctx, 64, space, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(msg.Data))
	assert.Zero(t, msg.Flags&unix.MSG_CTRUNC)
	if diff := cmp.Diff(control, msg.Control); diff != "" {
		t.Fatal(diff)
	}

	// descriptor passing is not supported by the simulated stack
	_, err = clnt.SendMsg(ctx, iovec.Wrap([]byte("x")), []cmsg.Record{cmsg.Rights(0)}, 0, sockaddr(serverAddr, 5353))
	assert.ErrorIs(t, err, unix.EINVAL)

	// datagram truncation
	_, err = clnt.SendTo(ctx, []byte("0123456789"), 0, sockaddr(serverAddr, 5353))
	require.NoError(t, err)
	b1, b2 := make([]byte, 2), make([]byte, 3)
	msg, err = srv.RecvMsgInto(ctx, iovec.Wrap(b1, b2), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, msg.N)
	assert.NotZero(t, msg.Flags&unix.MSG_TRUNC)
	assert.Equal(t, "01234", string(b1)+string(b2))
}

func TestNetsimNetConn(t *testing.T) {
	ctx := context.Background()
	client, server := connectedPair(t)
	cconn, sconn := client.NetConn(ctx), server.NetConn(ctx)

	assert.Equal(t, "10.0.0.1:80", cconn.RemoteAddr().String())
	assert.Equal(t, "tcp", cconn.RemoteAddr().Network())
	assert.Equal(t, "10.0.0.1:80", sconn.LocalAddr().String())

	// a deadline in the past fails immediately
	require.NoError(t, sconn.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err := sconn.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// a deadline in the future bounds the wait even though
	// the socket itself blocks forever
	assert.Equal(t, sockcall.Infinite, server.Timeout())
	require.NoError(t, sconn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = sconn.Read(make([]byte, 4))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())

	require.NoError(t, sconn.SetDeadline(time.Time{}))
	_, err = cconn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(sconn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, cconn.Close())
	require.NoError(t, cconn.Close())
	_, err = sconn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

// waitBlocked waits until an operation holds a reference to sock.
func waitBlocked(t *testing.T, sock *Socket) {
	require.Eventually(t, func() bool {
		sock.fdmu.Lock()
		defer sock.fdmu.Unlock()
		return sock.refs > 0
	}, 5*time.Second, time.Millisecond)
}

func TestNetsimCloseWhileBlocked(t *testing.T) {
	ctx := context.Background()

	t.Run("read", func(t *testing.T) {
		client, _ := connectedPair(t)
		conn := client.NetConn(ctx)
		errch := make(chan error, 1)
		go func() {
			_, err := conn.Read(make([]byte, 4))
			errch <- err
		}()
		waitBlocked(t, client)
		require.NoError(t, conn.Close())
		assert.Equal(t, -1, client.Fileno())
		err := <-errch
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.ErrorIs(t, err, sockerr.ErrClosed)
	})

	t.Run("recvfrom", func(t *testing.T) {
		_, client := newLinkedStacks(t)
		sock := newTestSocket(t, client, unix.SOCK_DGRAM)
		require.NoError(t, sock.Bind(ctx, sockaddr(clientAddr, 5353)))
		assert.Equal(t, sockcall.Infinite, sock.Timeout())
		errch := make(chan error, 1)
		go func() {
			_, _, err := sock.RecvFrom(ctx, 512, 0)
			errch <- err
		}()
		waitBlocked(t, sock)
		require.NoError(t, sock.Close())
		err := <-errch
		var opErr *sockerr.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "recvfrom", opErr.Op)
		assert.ErrorIs(t, err, sockerr.ErrClosed)
	})

	t.Run("accept", func(t *testing.T) {
		server, _ := newLinkedStacks(t)
		listener := listen(t, server, 80, DefaultBacklog)
		errch := make(chan error, 1)
		go func() {
			_, _, err := listener.Accept(ctx)
			errch <- err
		}()
		waitBlocked(t, listener)
		require.NoError(t, listener.Close())
		assert.ErrorIs(t, <-errch, sockerr.ErrClosed)
	})

	t.Run("operations after close", func(t *testing.T) {
		client, _ := connectedPair(t)
		conn := client.NetConn(ctx)
		require.NoError(t, client.Close())

		_, err := client.Send(ctx, []byte("abc"), 0)
		assert.ErrorIs(t, err, sockerr.ErrClosed)
		assert.ErrorIs(t, err, unix.EBADF)
		_, err = client.GetSockOptInt(unix.SOL_SOCKET, unix.SO_TYPE)
		assert.ErrorIs(t, err, sockerr.ErrClosed)
		_, err = conn.Write([]byte("abc"))
		assert.ErrorIs(t, err, net.ErrClosed)
		assert.ErrorIs(t, client.SetBlocking(false), sockerr.ErrClosed)
		assert.Empty(t, conn.LocalAddr().String())
	})
}
