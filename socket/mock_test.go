// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"sync"

	"github.com/rbmk-project/stacksock/stack"
	"golang.org/x/sys/unix"
)

// mockProvider is a [stack.Provider] for testing.
//
// Unset Mock fields fall back to a minimal in-memory behavior
// tracking descriptors and their flags.
type mockProvider struct {
	MockAccept        func(fd int) (int, unix.Sockaddr, error)
	MockClose         func(fd int) error
	MockConnect       func(fd int, sa unix.Sockaddr) error
	MockFcntlSetFlags func(fd, flags int) error
	MockGetsockoptInt func(fd, level, opt int) (int, error)
	MockPoll          func(fds []unix.PollFd, timeoutMs int) (int, error)
	MockRecvfrom      func(fd int, p []byte, flags int) (int, unix.Sockaddr, error)
	MockRecvmsg       func(fd int, bufs [][]byte, oob []byte, flags int) (int, int, int, unix.Sockaddr, error)
	MockSendmsg       func(fd int, bufs [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error)
	MockSendto        func(fd int, p []byte, flags int, to unix.Sockaddr) (int, error)

	mu         sync.Mutex
	closed     []int
	flags      map[int]int
	nextfd     int
	setflagsNo int
}

var _ stack.Provider = &mockProvider{}

// newMockStack returns a stack using the given provider.
func newMockStack(p *mockProvider) *stack.Stack {
	return stack.New("mock", p)
}

func (p *mockProvider) newfd() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flags == nil {
		p.flags = make(map[int]int)
		p.nextfd = 3
	}
	fd := p.nextfd
	p.nextfd++
	p.flags[fd] = unix.O_RDWR
	return fd
}

// closedFDs returns the descriptors closed so far.
func (p *mockProvider) closedFDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int{}, p.closed...)
}

// fdFlags returns the flags of fd.
func (p *mockProvider) fdFlags(fd int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags[fd]
}

// setFlagsCalls returns the number of F_SETFL calls.
func (p *mockProvider) setFlagsCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setflagsNo
}

func (p *mockProvider) Socket(family, sotype, proto int) (int, error) {
	fd := p.newfd()
	if sotype&unix.SOCK_NONBLOCK != 0 {
		p.mu.Lock()
		p.flags[fd] |= unix.O_NONBLOCK
		p.mu.Unlock()
	}
	return fd, nil
}

func (p *mockProvider) Close(fd int) error {
	p.mu.Lock()
	p.closed = append(p.closed, fd)
	p.mu.Unlock()
	if p.MockClose != nil {
		return p.MockClose(fd)
	}
	return nil
}

func (p *mockProvider) Dup(fd int) (int, error) {
	return p.newfd(), nil
}

func (p *mockProvider) Bind(fd int, sa unix.Sockaddr) error {
	return nil
}

func (p *mockProvider) Listen(fd, backlog int) error {
	return nil
}

func (p *mockProvider) Accept(fd int) (int, unix.Sockaddr, error) {
	if p.MockAccept != nil {
		return p.MockAccept(fd)
	}
	return -1, nil, unix.EAGAIN
}

func (p *mockProvider) Connect(fd int, sa unix.Sockaddr) error {
	if p.MockConnect != nil {
		return p.MockConnect(fd, sa)
	}
	return nil
}

func (p *mockProvider) Recvfrom(fd int, buf []byte, flags int) (int, unix.Sockaddr, error) {
	if p.MockRecvfrom != nil {
		return p.MockRecvfrom(fd, buf, flags)
	}
	return 0, nil, unix.EAGAIN
}

func (p *mockProvider) Sendto(fd int, buf []byte, flags int, to unix.Sockaddr) (int, error) {
	if p.MockSendto != nil {
		return p.MockSendto(fd, buf, flags, to)
	}
	return len(buf), nil
}

func (p *mockProvider) Recvmsg(fd int, bufs [][]byte, oob []byte, flags int) (int, int, int, unix.Sockaddr, error) {
	if p.MockRecvmsg != nil {
		return p.MockRecvmsg(fd, bufs, oob, flags)
	}
	return 0, 0, 0, nil, unix.EAGAIN
}

func (p *mockProvider) Sendmsg(fd int, bufs [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	if p.MockSendmsg != nil {
		return p.MockSendmsg(fd, bufs, oob, to, flags)
	}
	var total int
	for _, buf := range bufs {
		total += len(buf)
	}
	return total, nil
}

func (p *mockProvider) GetsockoptInt(fd, level, opt int) (int, error) {
	if p.MockGetsockoptInt != nil {
		return p.MockGetsockoptInt(fd, level, opt)
	}
	return 0, nil
}

func (p *mockProvider) GetsockoptBytes(fd, level, opt, buflen int) ([]byte, error) {
	return make([]byte, buflen), nil
}

func (p *mockProvider) SetsockoptInt(fd, level, opt, value int) error {
	return nil
}

func (p *mockProvider) SetsockoptBytes(fd, level, opt int, value []byte) error {
	return nil
}

func (p *mockProvider) SetsockoptLen(fd, level, opt, optlen int) error {
	return nil
}

func (p *mockProvider) Shutdown(fd, how int) error {
	return nil
}

func (p *mockProvider) Getsockname(fd int) (unix.Sockaddr, error) {
	return nil, unix.EOPNOTSUPP
}

func (p *mockProvider) Getpeername(fd int) (unix.Sockaddr, error) {
	return nil, unix.ENOTCONN
}

func (p *mockProvider) FcntlGetFlags(fd int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	flags, found := p.flags[fd]
	if !found {
		return 0, unix.EBADF
	}
	return flags, nil
}

func (p *mockProvider) FcntlSetFlags(fd, flags int) error {
	p.mu.Lock()
	p.setflagsNo++
	p.mu.Unlock()
	if p.MockFcntlSetFlags != nil {
		if err := p.MockFcntlSetFlags(fd, flags); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, found := p.flags[fd]; !found {
		return unix.EBADF
	}
	p.flags[fd] = flags
	return nil
}

func (p *mockProvider) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	if p.MockPoll != nil {
		return p.MockPoll(fds, timeoutMs)
	}
	for idx := range fds {
		fds[idx].Revents = fds[idx].Events
	}
	return len(fds), nil
}
