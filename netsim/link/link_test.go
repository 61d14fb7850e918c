// SPDX-License-Identifier: GPL-3.0-or-later

package link_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/rbmk-project/stacksock/netsim"
	"github.com/rbmk-project/stacksock/netsim/link"
	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/rbmk-project/stacksock/socket"
	"github.com/rbmk-project/stacksock/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLinkCut(t *testing.T) {
	var (
		leftAddr  = netip.MustParseAddr("10.0.0.1")
		rightAddr = netip.MustParseAddr("10.0.0.2")
	)
	left := netsim.NewStack(nil, leftAddr)
	right := netsim.NewStack(nil, rightAddr)
	lnk := link.New(left, right, nil)
	defer lnk.Close()
	leftStack := stack.New("left", left)
	defer leftStack.Release()
	rightStack := stack.New("right", right)
	defer rightStack.Release()

	ctx := context.Background()
	timeout, err := sockcall.Bounded(100 * time.Millisecond)
	require.NoError(t, err)

	srv, err := socket.New(nil, rightStack, unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.SetTimeout(timeout))
	require.NoError(t, srv.Bind(ctx, &unix.SockaddrInet4{Port: 9, Addr: rightAddr.As4()}))

	clnt, err := socket.New(nil, leftStack, unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer clnt.Close()
	dest := &unix.SockaddrInet4{Port: 9, Addr: rightAddr.As4()}

	lnk.SetCut(true)
	_, err = clnt.SendTo(ctx, []byte("lost"), 0, dest)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return lnk.Dropped() == 1
	}, time.Second, time.Millisecond)
	_, _, err = srv.RecvFrom(ctx, 64, 0)
	assert.ErrorIs(t, err, sockerr.ErrTimedOut)

	lnk.SetCut(false)
	_, err = clnt.SendTo(ctx, []byte("delivered"), 0, dest)
	require.NoError(t, err)
	data, _, err := srv.RecvFrom(ctx, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, "delivered", string(data))
	assert.Equal(t, int64(1), lnk.Dropped())
}
