// SPDX-License-Identifier: GPL-3.0-or-later

package sockcall

import (
	"math"
	"time"

	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// Dir is the direction of an operation.
type Dir int

const (
	// Read waits for the descriptor to become readable.
	Read Dir = iota

	// Write waits for the descriptor to become writable.
	Write
)

// String implements [fmt.Stringer].
func (d Dir) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Readiness is the outcome of [Wait].
type Readiness int

const (
	// Ready means the descriptor is ready, or in error.
	Ready Readiness = iota

	// TimedOut means the interval elapsed without events.
	TimedOut

	// Interrupted means the wait was interrupted.
	Interrupted

	// Failed means the wait failed.
	Failed
)

// Poller is the single-descriptor multiplexing primitive.
//
// It follows poll(2): it returns the number of ready
// descriptors, zero on timeout, and a negative timeout
// in milliseconds means "wait forever".
type Poller interface {
	Poll(fds []unix.PollFd, timeoutMs int) (int, error)
}

// PollerFunc adapts a function to the [Poller] interface.
type PollerFunc func(fds []unix.PollFd, timeoutMs int) (int, error)

// Poll implements [Poller].
func (fx PollerFunc) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	return fx(fds, timeoutMs)
}

// Wait waits for fd to become ready for dir within interval.
//
// A negative interval waits forever. With connect, errors on the
// descriptor wake up the wait as well, since a failed asynchronous
// connect only surfaces that way. A closed descriptor (-1) is
// reported as ready so that the subsequent attempt fails with EBADF.
//
// The returned error is only non-nil for [Failed].
func Wait(poller Poller, fd int, dir Dir, interval time.Duration, connect bool) (Readiness, error) {
	if fd == -1 {
		return Ready, nil
	}

	var events int16 = unix.POLLIN
	if dir == Write {
		events = unix.POLLOUT
	}
	if connect {
		events |= unix.POLLERR
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}

	n, err := poller.Poll(fds, PollTimeout(interval))
	switch {
	case err != nil && sockerr.IsInterrupt(err):
		return Interrupted, nil
	case err != nil:
		return Failed, sockerr.NewOpError("poll", fd, err)
	case n == 0:
		return TimedOut, nil
	default:
		return Ready, nil
	}
}

// PollTimeout converts interval to a poll(2) timeout in
// milliseconds rounding up, clamped to [math.MaxInt32],
// and mapping negative intervals to -1.
func PollTimeout(interval time.Duration) int {
	if interval < 0 {
		return -1
	}
	ms := msCeil(interval)
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}
