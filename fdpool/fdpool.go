// SPDX-License-Identifier: GPL-3.0-or-later

// Package fdpool tracks descriptors pending cleanup and closes
// them in a single operation unless ownership is transferred.
package fdpool

import (
	"errors"
	"slices"
	"sync"
)

// Pool tracks descriptors pending cleanup.
//
// The zero value is invalid; construct using [New].
type Pool struct {
	// closefn closes a single descriptor.
	closefn func(fd int) error

	// fds contains the descriptors to close.
	fds []int

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// New creates a new [*Pool] closing descriptors using closefn.
func New(closefn func(fd int) error) *Pool {
	return &Pool{closefn: closefn}
}

// Add adds the given descriptors to the pool.
func (p *Pool) Add(fds ...int) {
	p.mu.Lock()
	p.fds = append(p.fds, fds...)
	p.mu.Unlock()
}

// Len returns the number of tracked descriptors.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fds)
}

// Detach transfers ownership of the tracked descriptors to
// the caller, leaving the pool empty.
func (p *Pool) Detach() []int {
	p.mu.Lock()
	fds := p.fds
	p.fds = nil
	p.mu.Unlock()
	return fds
}

// Close closes all the tracked descriptors iterating in backward
// order. The returned error is the join of all the errors that
// occurred when closing descriptors. Close is idempotent.
func (p *Pool) Close() error {
	var errv []error
	for _, fd := range slices.Backward(p.Detach()) {
		if err := p.closefn(fd); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
