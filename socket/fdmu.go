// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"github.com/rbmk-project/stacksock/sockerr"
)

// incref registers an operation using the descriptor and returns
// the descriptor. It fails with [sockerr.ErrClosed] once the socket
// is closing, closed, or detached.
func (s *Socket) incref(op string) (int, error) {
	s.fdmu.Lock()
	defer s.fdmu.Unlock()
	if s.closing || s.fd == -1 {
		return -1, sockerr.NewOpError(op, -1, sockerr.ErrClosed)
	}
	s.refs++
	return s.fd, nil
}

// decref unregisters an operation registered by incref.
func (s *Socket) decref() {
	s.fdmu.Lock()
	defer s.fdmu.Unlock()
	if s.refs--; s.refs <= 0 && s.closing {
		s.drained.Broadcast()
	}
}

// isClosing returns whether Close has been called.
func (s *Socket) isClosing() bool {
	s.fdmu.Lock()
	defer s.fdmu.Unlock()
	return s.closing
}

