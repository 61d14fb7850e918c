// SPDX-License-Identifier: GPL-3.0-or-later

package sockcall

import (
	"errors"
	"testing"
	"time"

	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWait(t *testing.T) {
	t.Run("closed descriptor is ready", func(t *testing.T) {
		poller := PollerFunc(func(fds []unix.PollFd, timeoutMs int) (int, error) {
			panic("should not be called")
		})
		res, err := Wait(poller, -1, Read, time.Second, false)
		require.NoError(t, err)
		assert.Equal(t, Ready, res)
	})

	t.Run("events and timeout", func(t *testing.T) {
		type observed struct {
			fd        int32
			events    int16
			timeoutMs int
		}
		var got observed
		poller := PollerFunc(func(fds []unix.PollFd, timeoutMs int) (int, error) {
			require.Len(t, fds, 1)
			got = observed{fds[0].Fd, fds[0].Events, timeoutMs}
			return 1, nil
		})

		res, err := Wait(poller, 5, Read, 10*time.Millisecond, false)
		require.NoError(t, err)
		assert.Equal(t, Ready, res)
		assert.Equal(t, observed{5, unix.POLLIN, 10}, got)

		res, err = Wait(poller, 6, Write, -1, true)
		require.NoError(t, err)
		assert.Equal(t, Ready, res)
		assert.Equal(t, observed{6, unix.POLLOUT | unix.POLLERR, -1}, got)
	})

	t.Run("outcomes", func(t *testing.T) {
		tests := []struct {
			name   string
			n      int
			err    error
			expect Readiness
		}{
			{"timeout", 0, nil, TimedOut},
			{"interrupted", -1, unix.EINTR, Interrupted},
			{"failed", -1, unix.EBADF, Failed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				poller := PollerFunc(func(fds []unix.PollFd, timeoutMs int) (int, error) {
					return tt.n, tt.err
				})
				res, err := Wait(poller, 3, Read, time.Second, false)
				assert.Equal(t, tt.expect, res)
				if tt.expect == Failed {
					assert.ErrorIs(t, err, unix.EBADF)
					var opErr *sockerr.OpError
					assert.True(t, errors.As(err, &opErr))
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})
}

func TestDirString(t *testing.T) {
	assert.Equal(t, "read", Read.String())
	assert.Equal(t, "write", Write.String())
}
