// SPDX-License-Identifier: GPL-3.0-or-later

package sockcall

import (
	"fmt"
	"math"
	"time"

	"github.com/rbmk-project/stacksock/sockerr"
)

// Kind is the kind of a [Timeout].
type Kind int

const (
	// KindInfinite blocks forever.
	KindInfinite Kind = iota

	// KindZero never waits.
	KindZero

	// KindBounded waits up to a given duration.
	KindBounded
)

// Timeout is the timeout policy of a socket.
//
// The zero value is [Infinite].
type Timeout struct {
	kind Kind
	d    time.Duration
}

// Infinite is the [Timeout] that blocks forever.
var Infinite = Timeout{kind: KindInfinite}

// Zero is the [Timeout] that never waits.
var Zero = Timeout{kind: KindZero}

// MaxTimeout is the largest accepted timeout.
const MaxTimeout = time.Duration(math.MaxInt32) * time.Millisecond

// Bounded returns the [Timeout] waiting up to d. A zero duration
// yields [Zero]. Negative durations and durations whose value in
// milliseconds does not fit a C int are rejected.
func Bounded(d time.Duration) (Timeout, error) {
	switch {
	case d < 0:
		return Infinite, sockerr.Invalid("timeout value must be positive")
	case d == 0:
		return Zero, nil
	case msCeil(d) > math.MaxInt32:
		return Infinite, sockerr.Invalid("timeout doesn't fit into C timeval")
	default:
		return Timeout{kind: KindBounded, d: d}, nil
	}
}

// FromDuration maps a nil duration to [Infinite] and
// otherwise behaves like [Bounded].
func FromDuration(d *time.Duration) (Timeout, error) {
	if d == nil {
		return Infinite, nil
	}
	return Bounded(*d)
}

// Kind returns the timeout kind.
func (t Timeout) Kind() Kind {
	return t.kind
}

// Duration returns the bound for [KindBounded], zero for
// [KindZero], and a negative value for [KindInfinite].
func (t Timeout) Duration() time.Duration {
	switch t.kind {
	case KindBounded:
		return t.d
	case KindZero:
		return 0
	default:
		return -1
	}
}

// Blocking returns whether operations may wait, i.e., whether
// the policy is [KindInfinite] or [KindBounded].
func (t Timeout) Blocking() bool {
	return t.kind != KindZero
}

// NonBlockingFD returns whether the provider descriptor must be
// in non-blocking mode for this policy.
func (t Timeout) NonBlockingFD() bool {
	return t.kind != KindInfinite
}

// String implements [fmt.Stringer].
func (t Timeout) String() string {
	switch t.kind {
	case KindBounded:
		return t.d.String()
	case KindZero:
		return "0s"
	default:
		return "none"
	}
}

// GoString implements [fmt.GoStringer].
func (t Timeout) GoString() string {
	return fmt.Sprintf("sockcall.Timeout{%s}", t.String())
}

// msCeil converts d to milliseconds rounding up.
func msCeil(d time.Duration) int64 {
	ms := d / time.Millisecond
	if d%time.Millisecond > 0 {
		ms++
	}
	return int64(ms)
}
