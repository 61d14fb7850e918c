//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Data transfer operations.
//

package netsim

import (
	"bytes"

	"github.com/rbmk-project/stacksock/cmsg"
	"golang.org/x/sys/unix"
)

// recvResult is the result of receiving.
type recvResult struct {
	n     int
	oobn  int
	flags int
	from  unix.Sockaddr
}

// scatter copies data into bufs and returns the bytes copied.
func scatter(bufs [][]byte, data []byte) int {
	var n int
	for _, buf := range bufs {
		if n >= len(data) {
			break
		}
		n += copy(buf, data[n:])
	}
	return n
}

// deliverControl copies control into oob and returns the bytes
// copied along with MSG_CTRUNC when oob is too small.
func deliverControl(oob, control []byte) (int, int) {
	n := copy(oob, control)
	if n < len(control) {
		return n, unix.MSG_CTRUNC
	}
	return n, 0
}

// checkControl rejects malformed ancillary data and descriptor
// passing, which inet sockets do not support.
func checkControl(oob []byte) error {
	if len(oob) <= 0 {
		return nil
	}
	records, _, err := cmsg.Decode(oob)
	if err != nil {
		return EINVAL
	}
	for _, rec := range records {
		if rec.IsRights() {
			return EINVAL
		}
	}
	return nil
}

// Recvmsg implements [stack.Provider].
func (ns *Stack) Recvmsg(fd int, bufs [][]byte, oob []byte, flags int) (int, int, int, unix.Sockaddr, error) {
	dontwait := flags&unix.MSG_DONTWAIT != 0
	res, err := retry(ns, fd, dontwait, func(ep *endpoint) (recvResult, error) {
		if ep.stream() {
			return ns.recvStreamLocked(ep, bufs, oob, flags&unix.MSG_PEEK != 0)
		}
		return ns.recvDatagramLocked(ep, bufs, oob, flags)
	})
	if err != nil {
		return 0, 0, 0, nil, err
	}
	return res.n, res.oobn, res.flags, res.from, nil
}

// Recvfrom implements [stack.Provider].
func (ns *Stack) Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	n, _, _, from, err := ns.Recvmsg(fd, [][]byte{p}, nil, flags)
	return n, from, err
}

// Sendmsg implements [stack.Provider].
//
// Sending never blocks: the payload is copied and queued.
func (ns *Stack) Sendmsg(fd int, bufs [][]byte, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	if err := checkControl(oob); err != nil {
		return 0, err
	}
	payload := bytes.Join(bufs, nil)
	var control []byte
	if len(oob) > 0 {
		control = append([]byte{}, oob...)
	}
	return retry(ns, fd, true, func(ep *endpoint) (int, error) {
		if ep.stream() {
			return ns.sendStreamLocked(ep, payload, control)
		}
		return ns.sendDatagramLocked(ep, payload, control, to)
	})
}

// Sendto implements [stack.Provider].
func (ns *Stack) Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return ns.Sendmsg(fd, [][]byte{p}, nil, to, flags)
}
