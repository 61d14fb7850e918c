// SPDX-License-Identifier: GPL-3.0-or-later

package sockcall

import (
	"context"
	"sync"

	"github.com/rbmk-project/stacksock/deadline"
	"github.com/rbmk-project/stacksock/sockerr"
)

// Executor drives I/O attempts through readiness waits.
//
// The zero value is invalid; at least Poller must be set.
type Executor struct {
	// Poller is the MANDATORY readiness primitive.
	Poller Poller

	// Clock is the OPTIONAL clock used to compute deadlines.
	//
	// If nil, we use [deadline.System].
	Clock deadline.Clock

	// Lock is the OPTIONAL cooperative scheduling lock.
	//
	// When set, the caller holds it while calling [Do], which
	// releases it around every wait and every attempt and
	// reacquires it before looking at the results.
	Lock sync.Locker
}

// Request describes an operation for [Do].
type Request struct {
	// Op is the operation name used when wrapping errors.
	Op string

	// FD is the provider descriptor.
	FD int

	// Dir is the readiness direction.
	Dir Dir

	// Connect is set for connect attempts, which are
	// polled even under an [Infinite] policy.
	Connect bool

	// Timeout is the socket timeout policy.
	Timeout Timeout

	// Deadline is the OPTIONAL precomputed deadline for
	// operations spanning many calls. When unset and the
	// policy is bounded, [Do] computes it on first entry.
	Deadline deadline.Deadline
}

// Attempt is a single non-blocking try of an operation.
type Attempt[T any] func() (T, error)

// Do runs attempt until it succeeds, fails, or times out.
//
// With a bounded policy or a connect, Do waits for readiness before
// each attempt, recomputing the remaining interval from a deadline
// fixed on first entry. When the interval is already negative, Do
// reports [sockerr.ErrTimedOut] without waiting.
//
// An interrupted wait is retried unless ctx is done. An interrupted
// attempt is retried immediately, again unless ctx is done. A would
// block failure under a bounded policy goes back to waiting since
// readiness may have been spurious. Any other failure is wrapped
// using [sockerr.NewOpError] and returned.
func Do[T any](ctx context.Context, ex *Executor, req Request, attempt Attempt[T]) (T, error) {
	var zero T
	bounded := req.Timeout.Kind() == KindBounded
	dl := req.Deadline

	for {
		if bounded || req.Connect {
			interval := Infinite.Duration()
			if bounded {
				if dl.IsZero() {
					dl = deadline.After(ex.Clock, req.Timeout.Duration())
				}
				interval = dl.Remaining()
				if interval < 0 {
					return zero, sockerr.ErrTimedOut
				}
			}

			ex.unlock()
			res, err := Wait(ex.Poller, req.FD, req.Dir, interval, req.Connect)
			ex.lock()

			switch res {
			case Interrupted:
				if err := ctx.Err(); err != nil {
					return zero, sockerr.Interrupted(err)
				}
				continue
			case TimedOut:
				return zero, sockerr.ErrTimedOut
			case Failed:
				return zero, err
			}
		}

		value, err := try(ctx, ex, attempt)
		if err == nil {
			return value, nil
		}
		if bounded && sockerr.IsWouldBlock(err) {
			continue
		}
		return zero, sockerr.NewOpError(req.Op, req.FD, err)
	}
}

// try invokes attempt until it is not interrupted.
func try[T any](ctx context.Context, ex *Executor, attempt Attempt[T]) (T, error) {
	for {
		ex.unlock()
		value, err := attempt()
		ex.lock()
		if err == nil || !sockerr.IsInterrupt(err) {
			return value, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return value, sockerr.Interrupted(cerr)
		}
	}
}

func (ex *Executor) lock() {
	if ex.Lock != nil {
		ex.Lock.Lock()
	}
}

func (ex *Executor) unlock() {
	if ex.Lock != nil {
		ex.Lock.Unlock()
	}
}
