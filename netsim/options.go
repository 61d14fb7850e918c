//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Socket options and file status flags.
//

package netsim

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// encodeInt encodes an int option value.
func encodeInt(v int) []byte {
	return binary.NativeEndian.AppendUint32(nil, uint32(int32(v)))
}

// decodeInt decodes an int option value.
func decodeInt(b []byte) int {
	var buf [4]byte
	copy(buf[:], b)
	return int(int32(binary.NativeEndian.Uint32(buf[:])))
}

// getsockoptLocked returns the raw value of an option. Reading
// SO_ERROR clears the pending error.
//
// The caller must hold the mu lock.
func (ns *Stack) getsockoptLocked(ep *endpoint, level, opt int) ([]byte, error) {
	if level == unix.SOL_SOCKET {
		switch opt {
		case unix.SO_ERROR:
			value := int(ep.soerr)
			ep.soerr = 0
			return encodeInt(value), nil
		case unix.SO_TYPE:
			return encodeInt(ep.sotype), nil
		case unix.SO_DOMAIN:
			return encodeInt(ep.family), nil
		case unix.SO_PROTOCOL:
			return encodeInt(int(ep.proto)), nil
		case unix.SO_ACCEPTCONN:
			if ep.state == stateListening {
				return encodeInt(1), nil
			}
			return encodeInt(0), nil
		}
	}
	value, found := ep.opts[optKey{level, opt}]
	if !found {
		return nil, ENOPROTOOPT
	}
	return append([]byte{}, value...), nil
}

// GetsockoptInt implements [stack.Provider].
func (ns *Stack) GetsockoptInt(fd, level, opt int) (int, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return 0, err
	}
	value, err := ns.getsockoptLocked(ep, level, opt)
	if err != nil {
		return 0, err
	}
	return decodeInt(value), nil
}

// GetsockoptBytes implements [stack.Provider].
func (ns *Stack) GetsockoptBytes(fd, level, opt, buflen int) ([]byte, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return nil, err
	}
	if buflen < 0 {
		return nil, EINVAL
	}
	value, err := ns.getsockoptLocked(ep, level, opt)
	if err != nil {
		return nil, err
	}
	return value[:min(len(value), buflen)], nil
}

// setsockoptLocked stores the raw value of an option.
//
// The caller must hold the mu lock.
func (ns *Stack) setsockoptLocked(fd, level, opt int, value []byte) error {
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	if level == unix.SOL_SOCKET {
		switch opt {
		case unix.SO_ERROR, unix.SO_TYPE, unix.SO_DOMAIN, unix.SO_PROTOCOL, unix.SO_ACCEPTCONN:
			return ENOPROTOOPT
		}
	}
	ep.opts[optKey{level, opt}] = value
	return nil
}

// SetsockoptInt implements [stack.Provider].
func (ns *Stack) SetsockoptInt(fd, level, opt, value int) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.setsockoptLocked(fd, level, opt, encodeInt(value))
}

// SetsockoptBytes implements [stack.Provider].
func (ns *Stack) SetsockoptBytes(fd, level, opt int, value []byte) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.setsockoptLocked(fd, level, opt, append([]byte{}, value...))
}

// SetsockoptLen implements [stack.Provider].
func (ns *Stack) SetsockoptLen(fd, level, opt, optlen int) error {
	if optlen < 0 {
		return EINVAL
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.setsockoptLocked(fd, level, opt, make([]byte, optlen))
}

// FcntlGetFlags implements [stack.Provider].
func (ns *Stack) FcntlGetFlags(fd int) (int, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return 0, err
	}
	return ep.flags | unix.O_RDWR, nil
}

// FcntlSetFlags implements [stack.Provider].
func (ns *Stack) FcntlSetFlags(fd, flags int) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ep, err := ns.lookupLocked(fd)
	if err != nil {
		return err
	}
	ep.flags = flags &^ unix.O_ACCMODE
	return nil
}
