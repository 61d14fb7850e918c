// SPDX-License-Identifier: GPL-3.0-or-later

package cmsg

import (
	"encoding/binary"

	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// Rights returns the SCM_RIGHTS [Record] passing fds.
func Rights(fds ...int) Record {
	data := make([]byte, 4*len(fds))
	for idx, fd := range fds {
		binary.NativeEndian.PutUint32(data[4*idx:], uint32(int32(fd)))
	}
	return Record{Level: unix.SOL_SOCKET, Type: unix.SCM_RIGHTS, Data: data}
}

// IsRights returns whether the record passes descriptors.
func (r Record) IsRights() bool {
	return r.Level == unix.SOL_SOCKET && r.Type == unix.SCM_RIGHTS
}

// FDs returns the descriptors carried by an SCM_RIGHTS record.
//
// A truncated record may carry a partial trailing descriptor,
// which is ignored.
func (r Record) FDs() ([]int, error) {
	if !r.IsRights() {
		return nil, sockerr.Invalid("not an SCM_RIGHTS record")
	}
	fds := make([]int, 0, len(r.Data)/4)
	for off := 0; off+4 <= len(r.Data); off += 4 {
		fds = append(fds, int(int32(binary.NativeEndian.Uint32(r.Data[off:]))))
	}
	return fds, nil
}
