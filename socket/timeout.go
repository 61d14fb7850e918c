// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"sync"

	"github.com/rbmk-project/stacksock/sockcall"
	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

var (
	// defaultTimeoutMu protects defaultTimeout.
	defaultTimeoutMu sync.Mutex

	// defaultTimeout is the process-wide default timeout.
	defaultTimeout = sockcall.Infinite
)

// SetDefaultTimeout sets the timeout policy of sockets created
// from now on. Existing sockets are not affected.
func SetDefaultTimeout(t sockcall.Timeout) {
	defaultTimeoutMu.Lock()
	defaultTimeout = t
	defaultTimeoutMu.Unlock()
}

// DefaultTimeout returns the default timeout policy, which is
// [sockcall.Infinite] unless changed by [SetDefaultTimeout].
func DefaultTimeout() sockcall.Timeout {
	defaultTimeoutMu.Lock()
	defer defaultTimeoutMu.Unlock()
	return defaultTimeout
}

// Timeout returns the timeout policy.
func (s *Socket) Timeout() sockcall.Timeout {
	return s.timeout
}

// SetTimeout sets the timeout policy, switching the descriptor
// blocking mode accordingly. On failure, the policy is unchanged.
func (s *Socket) SetTimeout(t sockcall.Timeout) error {
	fd, err := s.incref("fcntl")
	if err != nil {
		return err
	}
	defer s.decref()
	if err := s.setBlockingFD(fd, !t.NonBlockingFD()); err != nil {
		return err
	}
	s.timeout = t
	return nil
}

// Blocking returns false when the policy is [sockcall.Zero].
func (s *Socket) Blocking() bool {
	return s.timeout.Blocking()
}

// SetBlocking selects the [sockcall.Infinite] policy when block
// is true and the [sockcall.Zero] policy otherwise.
func (s *Socket) SetBlocking(block bool) error {
	if block {
		return s.SetTimeout(sockcall.Infinite)
	}
	return s.SetTimeout(sockcall.Zero)
}

// setBlockingFD reads the flags of fd and writes them back
// only when the O_NONBLOCK bit needs to change.
func (s *Socket) setBlockingFD(fd int, block bool) error {
	provider := s.stack.Provider()
	flags, err := provider.FcntlGetFlags(fd)
	if err != nil {
		return sockerr.NewOpError("fcntl", fd, err)
	}
	newflags := flags | unix.O_NONBLOCK
	if block {
		newflags = flags &^ unix.O_NONBLOCK
	}
	if newflags == flags {
		return nil
	}
	if err := provider.FcntlSetFlags(fd, newflags); err != nil {
		return sockerr.NewOpError("fcntl", fd, err)
	}
	return nil
}
