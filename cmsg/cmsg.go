// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package cmsg encodes and decodes control-message buffers.

A control-message buffer is a packed sequence of self-describing
records, each made of a header (length, level, type) followed by
the payload and by padding up to the platform alignment. The
[Layout] describes the header geometry and [Native] is the layout
of the running platform.

[Decode] validates every header against the remaining buffer before
reading the payload and reports truncated trailing records rather
than fabricating them. [Encode] is all-or-nothing.
*/
package cmsg

import (
	"encoding/binary"
	"math"

	"github.com/rbmk-project/stacksock/sockerr"
	"golang.org/x/sys/unix"
)

// MaxControlLen is the maximum length of an encoded buffer.
const MaxControlLen = math.MaxInt32

// Layout describes the control-message header geometry.
type Layout struct {
	// HeaderSize is the unpadded header size.
	HeaderSize int

	// LenSize is the width of the length field, either 4 or 8.
	LenSize int

	// Align is the alignment of headers and payloads.
	Align int

	// Order is the byte order of header fields.
	Order binary.ByteOrder
}

// Native is the [Layout] of the running platform.
var Native = Layout{
	HeaderSize: unix.SizeofCmsghdr,
	LenSize:    unix.SizeofCmsghdr - 8,
	Align:      unix.CmsgSpace(1) - unix.CmsgLen(0),
	Order:      binary.NativeEndian,
}

// Record is a single control message.
type Record struct {
	// Level is the protocol level (e.g., SOL_SOCKET).
	Level int

	// Type is the message type (e.g., SCM_RIGHTS).
	Type int

	// Data is the payload.
	Data []byte
}

func (l Layout) align(n int) int {
	return (n + l.Align - 1) &^ (l.Align - 1)
}

// Len returns the header length value for a payload of n bytes.
func (l Layout) Len(n int) int {
	return l.align(l.HeaderSize) + n
}

// Space returns the bytes a record with n bytes of payload
// occupies in a buffer, padding included.
func (l Layout) Space(n int) int {
	return l.align(l.HeaderSize) + l.align(n)
}

// Len is [Layout.Len] for the [Native] layout, i.e., CMSG_LEN.
func Len(n int) (int, error) {
	return Native.checkedLen(n)
}

// Space is [Layout.Space] for the [Native] layout, i.e., CMSG_SPACE.
func Space(n int) (int, error) {
	return Native.checkedSpace(n)
}

// checkedLen is like Len but fails when n is negative or the
// result would not fit a socklen_t.
func (l Layout) checkedLen(n int) (int, error) {
	if n < 0 || n > MaxControlLen-l.align(l.HeaderSize) {
		return 0, sockerr.Invalid("CMSG_LEN() argument out of range")
	}
	return l.Len(n), nil
}

// checkedSpace is like Space but fails when n is negative or the
// result would not fit a socklen_t.
func (l Layout) checkedSpace(n int) (int, error) {
	if n < 0 || n > MaxControlLen-l.align(l.HeaderSize)-l.Align {
		return 0, sockerr.Invalid("CMSG_SPACE() argument out of range")
	}
	return l.Space(n), nil
}

func (l Layout) putLen(b []byte, v int) {
	if l.LenSize == 8 {
		l.Order.PutUint64(b, uint64(v))
		return
	}
	l.Order.PutUint32(b, uint32(v))
}

func (l Layout) getLen(b []byte) uint64 {
	if l.LenSize == 8 {
		return l.Order.Uint64(b)
	}
	return uint64(l.Order.Uint32(b))
}

// Encode is [Layout.Encode] for the [Native] layout.
func Encode(records []Record) ([]byte, error) {
	return Native.Encode(records)
}

// Encode serializes records into a single zero-filled buffer.
//
// Records are validated before writing anything: a level or type
// outside the int32 range, a payload that does not fit a header
// length, or a total exceeding [MaxControlLen] rejects the whole
// sequence.
func (l Layout) Encode(records []Record) ([]byte, error) {
	var total int
	for idx, rec := range records {
		if rec.Level != int(int32(rec.Level)) || rec.Type != int(int32(rec.Type)) {
			return nil, sockerr.Invalid("ancillary data item %d level or type out of range", idx)
		}
		if _, err := l.checkedLen(len(rec.Data)); err != nil {
			return nil, sockerr.Invalid("ancillary data item %d too large", idx)
		}
		space, err := l.checkedSpace(len(rec.Data))
		if err != nil {
			// the last record needs CMSG_LEN only
			if idx != len(records)-1 {
				return nil, sockerr.Invalid("ancillary data item %d too large", idx)
			}
			space = l.Len(len(rec.Data))
		}
		if total > MaxControlLen-space {
			return nil, sockerr.Invalid("too much ancillary data")
		}
		total += space
	}

	buf := make([]byte, total)
	var off int
	for _, rec := range records {
		hdr := buf[off:]
		l.putLen(hdr, l.Len(len(rec.Data)))
		l.Order.PutUint32(hdr[l.LenSize:], uint32(int32(rec.Level)))
		l.Order.PutUint32(hdr[l.LenSize+4:], uint32(int32(rec.Type)))
		copy(hdr[l.align(l.HeaderSize):], rec.Data)
		off += min(l.Space(len(rec.Data)), len(buf)-off)
	}
	return buf, nil
}

// Decode is [Layout.Decode] for the [Native] layout.
func Decode(buf []byte) ([]Record, bool, error) {
	return Native.Decode(buf)
}

// Decode parses buf into records.
//
// A header that does not entirely fit in the remaining bytes ends
// the walk. A header claiming more payload than available yields a
// record with the available bytes only, sets truncated, and ends the
// walk. A header whose length is shorter than the header itself is
// a [sockerr.ErrProtocolViolation].
//
// Records alias buf.
func (l Layout) Decode(buf []byte) (records []Record, truncated bool, err error) {
	dataOff := l.align(l.HeaderSize)
	for off := 0; off < len(buf); {
		remaining := len(buf) - off
		if remaining < l.HeaderSize {
			break
		}
		hdr := buf[off:]
		cmsgLen := l.getLen(hdr)
		if cmsgLen < uint64(dataOff) {
			return records, truncated, sockerr.Malformed(
				"invalid control message length %d at offset %d", cmsgLen, off)
		}
		rec := Record{
			Level: int(int32(l.Order.Uint32(hdr[l.LenSize:]))),
			Type:  int(int32(l.Order.Uint32(hdr[l.LenSize+4:]))),
		}

		available := max(remaining-dataOff, 0)
		want := cmsgLen - uint64(dataOff)
		if want > uint64(available) {
			rec.Data = hdr[min(dataOff, remaining):remaining]
			records = append(records, rec)
			truncated = true
			break
		}
		rec.Data = hdr[dataOff : dataOff+int(want)]
		records = append(records, rec)

		space := uint64(l.Space(int(want)))
		if space >= uint64(remaining) {
			break
		}
		off += int(space)
	}
	return records, truncated, nil
}
