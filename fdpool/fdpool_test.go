// SPDX-License-Identifier: GPL-3.0-or-later

package fdpool_test

import (
	"errors"
	"testing"

	"github.com/rbmk-project/stacksock/fdpool"
	"github.com/stretchr/testify/assert"
)

// mockCloser records closed descriptors.
type mockCloser struct {
	closed []int
	errs   map[int]error
}

func (m *mockCloser) Close(fd int) error {
	m.closed = append(m.closed, fd)
	return m.errs[fd]
}

func TestPool(t *testing.T) {
	t.Run("close order", func(t *testing.T) {
		m := &mockCloser{}
		pool := fdpool.New(m.Close)
		pool.Add(3, 4)
		pool.Add(5)
		assert.Equal(t, 3, pool.Len())

		assert.NoError(t, pool.Close())
		assert.Equal(t, []int{5, 4, 3}, m.closed)
		assert.Equal(t, 0, pool.Len())

		// closing twice closes nothing
		assert.NoError(t, pool.Close())
		assert.Equal(t, []int{5, 4, 3}, m.closed)
	})

	t.Run("error handling", func(t *testing.T) {
		err1 := errors.New("close error #1")
		err2 := errors.New("close error #2")
		m := &mockCloser{errs: map[int]error{3: err1, 5: err2}}
		pool := fdpool.New(m.Close)
		pool.Add(3, 4, 5)

		err := pool.Close()
		assert.ErrorIs(t, err, err1)
		assert.ErrorIs(t, err, err2)
		assert.Equal(t, []int{5, 4, 3}, m.closed)
	})

	t.Run("detach transfers ownership", func(t *testing.T) {
		m := &mockCloser{}
		pool := fdpool.New(m.Close)
		pool.Add(7, 8)
		assert.Equal(t, []int{7, 8}, pool.Detach())
		assert.NoError(t, pool.Close())
		assert.Empty(t, m.closed)
	})
}
