// SPDX-License-Identifier: GPL-3.0-or-later

package sockerr_test

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestErrTimedOut(t *testing.T) {
	assert.ErrorIs(t, sockerr.ErrTimedOut, os.ErrDeadlineExceeded)

	var netErr net.Error
	require.True(t, errors.As(sockerr.ErrTimedOut, &netErr))
	assert.True(t, netErr.Timeout())
	assert.Equal(t, "timed out", sockerr.ErrTimedOut.Error())
}

func TestErrClosed(t *testing.T) {
	err := sockerr.NewOpError("recvfrom", 3, sockerr.ErrClosed)
	assert.ErrorIs(t, err, sockerr.ErrClosed)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.NotErrorIs(t, err, unix.ENOTCONN)
	assert.Equal(t, "use of closed socket", sockerr.ErrClosed.Error())
}

func TestInterrupted(t *testing.T) {
	err := sockerr.Interrupted(context.Canceled)
	assert.ErrorIs(t, err, sockerr.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpError(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, sockerr.NewOpError("recv", 3, nil))
	})

	t.Run("errno is wrapped", func(t *testing.T) {
		err := sockerr.NewOpError("connect", 7, unix.ECONNREFUSED)
		var opErr *sockerr.OpError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "connect", opErr.Op)
		assert.Equal(t, 7, opErr.FD)
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		assert.False(t, opErr.Timeout())

		errno, ok := sockerr.Errno(err)
		assert.True(t, ok)
		assert.Equal(t, unix.ECONNREFUSED, errno)
	})

	t.Run("top level kinds are not rewrapped", func(t *testing.T) {
		for _, err := range []error{
			sockerr.ErrTimedOut,
			sockerr.Interrupted(context.Canceled),
			sockerr.Invalid("negative length %d", -1),
		} {
			assert.Equal(t, err, sockerr.NewOpError("send", 1, err))
		}
	})

	t.Run("already wrapped", func(t *testing.T) {
		inner := sockerr.NewOpError("recv", 1, unix.EBADF)
		assert.Equal(t, inner, sockerr.NewOpError("recvmsg", 1, inner))
	})
}

func TestClassifiers(t *testing.T) {
	assert.True(t, sockerr.IsWouldBlock(unix.EAGAIN))
	assert.True(t, sockerr.IsWouldBlock(sockerr.NewOpError("recv", 1, unix.EWOULDBLOCK)))
	assert.False(t, sockerr.IsWouldBlock(unix.EINTR))
	assert.True(t, sockerr.IsInterrupt(unix.EINTR))
	assert.False(t, sockerr.IsInterrupt(unix.EAGAIN))

	_, ok := sockerr.Errno(errors.New("plain"))
	assert.False(t, ok)

	assert.ErrorIs(t, sockerr.Malformed("short header"), sockerr.ErrProtocolViolation)
	assert.ErrorIs(t, sockerr.Invalid("x"), sockerr.ErrInvalidArgument)
}
