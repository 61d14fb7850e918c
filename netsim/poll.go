//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Readiness notification.
//

package netsim

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Poll implements [stack.Provider] following poll(2).
func (ns *Stack) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	var timer <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		timer = t.C
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	for {
		if n := ns.pollLocked(fds); n > 0 || timeoutMs == 0 {
			return n, nil
		}
		err := ns.waitLocked(timer)
		if errors.Is(err, errWaitTimeout) {
			return 0, nil
		}
		if err != nil {
			return -1, err
		}
	}
}

// pollLocked fills the returned events and counts ready descriptors.
//
// The caller must hold the mu lock.
func (ns *Stack) pollLocked(fds []unix.PollFd) int {
	var n int
	for idx := range fds {
		fds[idx].Revents = 0
		if fds[idx].Fd < 0 {
			continue
		}
		ep := ns.fds[int(fds[idx].Fd)]
		if ep == nil {
			fds[idx].Revents = unix.POLLNVAL
			n++
			continue
		}
		mask := fds[idx].Events | unix.POLLERR | unix.POLLHUP
		if ev := ep.revents() & mask; ev != 0 {
			fds[idx].Revents = ev
			n++
		}
	}
	return n
}
