// SPDX-License-Identifier: GPL-3.0-or-later

// Package iovec maps caller buffers to vectored-I/O segments.
//
// Each caller buffer is acquired for the duration of a single
// operation and released exactly once on every exit path.
package iovec

import (
	"sync"

	"github.com/rbmk-project/stacksock/sockerr"
)

// MaxSegments is the default vectored-I/O segment limit (IOV_MAX).
const MaxSegments = 1024

// Buffer is caller memory usable as a segment.
type Buffer interface {
	// Acquire locks the buffer and returns its memory.
	Acquire() ([]byte, error)

	// Release unlocks a buffer previously acquired.
	Release()
}

// Bytes is a [Buffer] wrapping a plain byte slice.
type Bytes []byte

var _ Buffer = Bytes(nil)

// Acquire implements [Buffer].
func (b Bytes) Acquire() ([]byte, error) {
	return b, nil
}

// Release implements [Buffer].
func (b Bytes) Release() {}

// Wrap converts byte slices to a list of [Buffer].
func Wrap(bufs ...[]byte) []Buffer {
	out := make([]Buffer, 0, len(bufs))
	for _, b := range bufs {
		out = append(out, Bytes(b))
	}
	return out
}

// List is an assembled sequence of segments.
//
// Construct using [Assemble] or [AssembleLimit].
type List struct {
	// bufs contains the acquired buffers.
	bufs []Buffer

	// segs contains the acquired memory.
	segs [][]byte

	// once ensures we release just once.
	once sync.Once
}

// Assemble is [AssembleLimit] with [MaxSegments].
func Assemble(bufs []Buffer) (*List, error) {
	return AssembleLimit(bufs, MaxSegments)
}

// AssembleLimit acquires bufs in order and returns the [*List].
//
// The segment count is checked against limit before acquiring
// anything. When acquiring the k-th buffer fails, the first k-1
// buffers are released and the error is returned.
func AssembleLimit(bufs []Buffer, limit int) (*List, error) {
	if len(bufs) > limit {
		return nil, sockerr.Invalid("too many buffers (max %d)", limit)
	}
	list := &List{
		bufs: make([]Buffer, 0, len(bufs)),
		segs: make([][]byte, 0, len(bufs)),
	}
	for _, buf := range bufs {
		seg, err := buf.Acquire()
		if err != nil {
			list.Release()
			return nil, err
		}
		list.bufs = append(list.bufs, buf)
		list.segs = append(list.segs, seg)
	}
	return list, nil
}

// Segments returns the acquired segments.
func (l *List) Segments() [][]byte {
	return l.segs
}

// Len returns the total length of the segments.
func (l *List) Len() int {
	var total int
	for _, seg := range l.segs {
		total += len(seg)
	}
	return total
}

// Release releases every acquired buffer. It is idempotent.
func (l *List) Release() {
	l.once.Do(func() {
		for _, buf := range l.bufs {
			buf.Release()
		}
	})
}

// RecvLength returns the number of bytes to receive into a
// buffer with the given capacity. A zero request means the
// whole capacity; requests exceeding it are rejected.
func RecvLength(requested, capacity int) (int, error) {
	switch {
	case requested < 0:
		return 0, sockerr.Invalid("negative buffersize in recv_into")
	case requested == 0:
		return capacity, nil
	case requested > capacity:
		return 0, sockerr.Invalid("buffer too small for requested bytes")
	default:
		return requested, nil
	}
}
