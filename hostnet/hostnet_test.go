//go:build linux && (amd64 || arm64)

// SPDX-License-Identifier: GPL-3.0-or-later

package hostnet

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/rbmk-project/stacksock/cmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPassDescriptors(t *testing.T) {
	var p Provider
	left, right := socketpair(t)

	f, err := os.CreateTemp(t.TempDir(), "")
	require.NoError(t, err)
	defer f.Close()

	oob, err := cmsg.Encode([]cmsg.Record{cmsg.Rights(int(f.Fd()))})
	require.NoError(t, err)
	n, err := p.Sendmsg(left, [][]byte{[]byte("he"), []byte("llo")}, oob, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	space, err := cmsg.Space(4)
	require.NoError(t, err)
	ctrl := make([]byte, space)
	n, oobn, flags, _, err := p.Recvmsg(right, [][]byte{buf}, ctrl, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, 0, flags&unix.MSG_CTRUNC)

	records, truncated, err := cmsg.Decode(ctrl[:oobn])
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, records, 1)
	fds, err := records[0].FDs()
	require.NoError(t, err)
	require.Len(t, fds, 1)
	assert.NoError(t, p.Close(fds[0]))
}

func TestNonBlockingFlags(t *testing.T) {
	var p Provider
	left, _ := socketpair(t)

	flags, err := p.FcntlGetFlags(left)
	require.NoError(t, err)
	require.NoError(t, p.FcntlSetFlags(left, flags|unix.O_NONBLOCK))

	_, _, err = p.Recvfrom(left, make([]byte, 4), 0)
	assert.ErrorIs(t, err, unix.EAGAIN)

	n, err := p.Poll([]unix.PollFd{{Fd: int32(left), Events: unix.POLLIN}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSocketOptions(t *testing.T) {
	var p Provider
	fd, err := p.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer p.Close(fd)

	sotype, err := p.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	require.NoError(t, err)
	assert.Equal(t, unix.SOCK_DGRAM, sotype)

	require.NoError(t, p.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
	raw, err := p.GetsockoptBytes(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 4)
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.NotZero(t, binary.NativeEndian.Uint32(raw))

	require.NoError(t, p.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	sa, err := p.Getsockname(fd)
	require.NoError(t, err)
	assert.NotZero(t, sa.(*unix.SockaddrInet4).Port)

	_, err = p.Getpeername(fd)
	assert.ErrorIs(t, err, unix.ENOTCONN)

	dup, err := p.Dup(fd)
	require.NoError(t, err)
	assert.NoError(t, p.Close(dup))
}

func TestNew(t *testing.T) {
	st := New()
	assert.Equal(t, "hostnet", st.Name())
	assert.NoError(t, st.Release())
}
