//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Deadline management.
//

// Package deadline contains the monotonic clock and the absolute
// deadlines used to bound blocking socket operations.
//
// A [Deadline] is computed once per top-level operation and the
// remaining interval is recomputed from it every time the operation
// loops. Recomputing "now + timeout" in the middle of an operation
// would silently extend the effective timeout.
package deadline

import (
	"sync"
	"time"
)

// Clock is a source of time readings.
//
// Implementations must return readings that carry a monotonic
// component (as [time.Now] does) so that [time.Time.Sub] is not
// affected by wall clock adjustments.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the [Clock] interface.
type ClockFunc func() time.Time

// Now implements [Clock].
func (fx ClockFunc) Now() time.Time {
	return fx()
}

// System is the [Clock] using [time.Now].
var System Clock = ClockFunc(time.Now)

// Deadline is an absolute point in time.
//
// The zero value is an unset deadline, which never expires.
type Deadline struct {
	// at is the absolute deadline.
	at time.Time

	// clock is the clock used to compute the remaining time.
	clock Clock
}

// After returns the [Deadline] expiring timeout after the current
// reading of the given clock. A nil clock means [System].
func After(clock Clock, timeout time.Duration) Deadline {
	if clock == nil {
		clock = System
	}
	return Deadline{at: clock.Now().Add(timeout), clock: clock}
}

// IsZero returns whether the deadline is unset.
func (d Deadline) IsZero() bool {
	return d.clock == nil
}

// Time returns the absolute deadline or the zero [time.Time] if unset.
func (d Deadline) Time() time.Time {
	return d.at
}

// Remaining returns the interval left before the deadline, which
// is negative once the deadline has passed. An unset deadline
// returns a negative value as well; check IsZero first.
func (d Deadline) Remaining() time.Duration {
	if d.clock == nil {
		return -1
	}
	return d.at.Sub(d.clock.Now())
}

// Expired returns whether the deadline is set and has passed.
func (d Deadline) Expired() bool {
	return !d.IsZero() && d.Remaining() < 0
}

// ManualClock is a [Clock] that only moves when told to.
//
// The zero value starts at the zero [time.Time]; construct
// using [NewManualClock] to start from a given instant.
type ManualClock struct {
	// mu protects now.
	mu sync.Mutex

	// now is the current reading.
	now time.Time
}

// NewManualClock creates a new [*ManualClock] reading t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now implements [Clock].
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
