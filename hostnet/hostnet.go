//go:build linux && (amd64 || arm64)

// SPDX-License-Identifier: GPL-3.0-or-later

// Package hostnet implements [stack.Provider] using the host kernel.
//
// Descriptors are real file descriptors created with SOCK_CLOEXEC.
// The provider is stateless, so the zero value is ready to use.
package hostnet

import (
	"unsafe"

	"github.com/rbmk-project/stacksock/stack"
	"golang.org/x/sys/unix"
)

// Provider is the host kernel [stack.Provider].
type Provider struct{}

var _ stack.Provider = Provider{}

// New returns a [*stack.Stack] backed by the host kernel.
func New() *stack.Stack {
	return stack.New("hostnet", Provider{})
}

// Socket implements [stack.Provider].
func (Provider) Socket(family, sotype, proto int) (int, error) {
	return unix.Socket(family, sotype|unix.SOCK_CLOEXEC, proto)
}

// Close implements [stack.Provider].
func (Provider) Close(fd int) error {
	return unix.Close(fd)
}

// Dup implements [stack.Provider].
func (Provider) Dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

// Bind implements [stack.Provider].
func (Provider) Bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

// Listen implements [stack.Provider].
func (Provider) Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Accept implements [stack.Provider].
func (Provider) Accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_CLOEXEC)
}

// Connect implements [stack.Provider].
func (Provider) Connect(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

// Recvfrom implements [stack.Provider].
func (Provider) Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	return unix.Recvfrom(fd, p, flags)
}

// Sendto implements [stack.Provider].
func (Provider) Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return unix.SendmsgN(fd, p, nil, to, flags)
}

// Recvmsg implements [stack.Provider].
func (Provider) Recvmsg(fd int, bufs [][]byte, oob []byte, flags int) (int, int, int, unix.Sockaddr, error) {
	return unix.RecvmsgBuffers(fd, bufs, oob, flags)
}

// Sendmsg implements [stack.Provider].
func (Provider) Sendmsg(fd int, bufs [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return unix.SendmsgBuffers(fd, bufs, oob, to, flags)
}

// GetsockoptInt implements [stack.Provider].
func (Provider) GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// GetsockoptBytes implements [stack.Provider].
func (Provider) GetsockoptBytes(fd, level, opt, buflen int) ([]byte, error) {
	buf := make([]byte, buflen)
	vallen := uint32(buflen)
	var ptr unsafe.Pointer
	if buflen > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level),
		uintptr(opt), uintptr(ptr), uintptr(unsafe.Pointer(&vallen)), 0)
	if errno != 0 {
		return nil, errno
	}
	return buf[:vallen], nil
}

// SetsockoptInt implements [stack.Provider].
func (Provider) SetsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// SetsockoptBytes implements [stack.Provider].
func (Provider) SetsockoptBytes(fd, level, opt int, value []byte) error {
	return unix.SetsockoptString(fd, level, opt, string(value))
}

// SetsockoptLen implements [stack.Provider].
func (Provider) SetsockoptLen(fd, level, opt, optlen int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level),
		uintptr(opt), 0, uintptr(optlen), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Shutdown implements [stack.Provider].
func (Provider) Shutdown(fd, how int) error {
	return unix.Shutdown(fd, how)
}

// Getsockname implements [stack.Provider].
func (Provider) Getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

// Getpeername implements [stack.Provider].
func (Provider) Getpeername(fd int) (unix.Sockaddr, error) {
	return unix.Getpeername(fd)
}

// FcntlGetFlags implements [stack.Provider].
func (Provider) FcntlGetFlags(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
}

// FcntlSetFlags implements [stack.Provider].
func (Provider) FcntlSetFlags(fd, flags int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags)
	return err
}

// Poll implements [stack.Provider].
func (Provider) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	return unix.Poll(fds, timeoutMs)
}
