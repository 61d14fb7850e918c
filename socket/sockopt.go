// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"github.com/rbmk-project/stacksock/sockerr"
)

// MaxSockOptLen is the largest buffer accepted by [*Socket.GetSockOptBytes].
const MaxSockOptLen = 1024

// GetSockOptInt returns an integer socket option.
func (s *Socket) GetSockOptInt(level, opt int) (int, error) {
	fd, err := s.incref("getsockopt")
	if err != nil {
		return 0, err
	}
	defer s.decref()
	value, err := s.stack.Provider().GetsockoptInt(fd, level, opt)
	if err != nil {
		return 0, sockerr.NewOpError("getsockopt", fd, err)
	}
	return value, nil
}

// GetSockOptBytes returns up to buflen bytes of a socket option,
// where buflen must be positive and at most [MaxSockOptLen].
func (s *Socket) GetSockOptBytes(level, opt, buflen int) ([]byte, error) {
	if buflen <= 0 || buflen > MaxSockOptLen {
		return nil, sockerr.Invalid("getsockopt buflen out of range")
	}
	fd, err := s.incref("getsockopt")
	if err != nil {
		return nil, err
	}
	defer s.decref()
	value, err := s.stack.Provider().GetsockoptBytes(fd, level, opt, buflen)
	if err != nil {
		return nil, sockerr.NewOpError("getsockopt", fd, err)
	}
	return value, nil
}

// SetSockOptInt sets an integer socket option.
func (s *Socket) SetSockOptInt(level, opt, value int) error {
	fd, err := s.incref("setsockopt")
	if err != nil {
		return err
	}
	defer s.decref()
	return sockerr.NewOpError("setsockopt", fd,
		s.stack.Provider().SetsockoptInt(fd, level, opt, value))
}

// SetSockOptBytes sets a socket option from raw bytes.
func (s *Socket) SetSockOptBytes(level, opt int, value []byte) error {
	fd, err := s.incref("setsockopt")
	if err != nil {
		return err
	}
	defer s.decref()
	return sockerr.NewOpError("setsockopt", fd,
		s.stack.Provider().SetsockoptBytes(fd, level, opt, value))
}

// SetSockOptLen sets a socket option passing no value and optlen
// as its length, which some options use as their argument.
func (s *Socket) SetSockOptLen(level, opt, optlen int) error {
	if optlen < 0 {
		return sockerr.Invalid("negative optlen")
	}
	fd, err := s.incref("setsockopt")
	if err != nil {
		return err
	}
	defer s.decref()
	return sockerr.NewOpError("setsockopt", fd,
		s.stack.Provider().SetsockoptLen(fd, level, opt, optlen))
}
