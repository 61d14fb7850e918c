// SPDX-License-Identifier: GPL-3.0-or-later

package iovec

import (
	"errors"
	"testing"

	"github.com/rbmk-project/stacksock/sockerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBuffer counts acquisitions and releases.
type fakeBuffer struct {
	data     []byte
	err      error
	acquired int
	released int
}

func (b *fakeBuffer) Acquire() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.acquired++
	return b.data, nil
}

func (b *fakeBuffer) Release() {
	b.released++
}

func TestAssemble(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		b1 := &fakeBuffer{data: []byte("abc")}
		b2 := &fakeBuffer{data: []byte("de")}
		list, err := Assemble([]Buffer{b1, b2})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("abc"), []byte("de")}, list.Segments())
		assert.Equal(t, 5, list.Len())

		list.Release()
		list.Release()
		assert.Equal(t, 1, b1.released)
		assert.Equal(t, 1, b2.released)
	})

	t.Run("k-th acquisition fails", func(t *testing.T) {
		expected := errors.New("not contiguous")
		bufs := []*fakeBuffer{
			{data: []byte("a")},
			{data: []byte("b")},
			{data: []byte("c")},
			{err: expected},
			{data: []byte("e")},
		}
		var in []Buffer
		for _, b := range bufs {
			in = append(in, b)
		}
		list, err := Assemble(in)
		assert.ErrorIs(t, err, expected)
		assert.Nil(t, list)
		for idx, b := range bufs {
			if idx < 3 {
				assert.Equal(t, 1, b.released, "buffer %d", idx)
				continue
			}
			assert.Equal(t, 0, b.acquired, "buffer %d", idx)
			assert.Equal(t, 0, b.released, "buffer %d", idx)
		}
	})

	t.Run("too many segments", func(t *testing.T) {
		b := &fakeBuffer{data: []byte("x")}
		_, err := AssembleLimit([]Buffer{b, b, b}, 2)
		assert.ErrorIs(t, err, sockerr.ErrInvalidArgument)
		assert.Equal(t, 0, b.acquired)
	})

	t.Run("wrap", func(t *testing.T) {
		list, err := Assemble(Wrap([]byte("x"), nil, []byte("yz")))
		require.NoError(t, err)
		defer list.Release()
		assert.Equal(t, 3, list.Len())
	})
}

func TestRecvLength(t *testing.T) {
	tests := []struct {
		requested, capacity int
		expect              int
		fails               bool
	}{
		{0, 10, 10, false},
		{5, 10, 5, false},
		{10, 10, 10, false},
		{11, 10, 0, true},
		{-1, 10, 0, true},
		{0, 0, 0, false},
	}
	for _, tt := range tests {
		got, err := RecvLength(tt.requested, tt.capacity)
		if tt.fails {
			assert.ErrorIs(t, err, sockerr.ErrInvalidArgument)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expect, got)
	}
}
