// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package sockerr contains the error taxonomy of socket operations.

# Kinds

- [ErrTimedOut] when an operation did not complete in the allotted
time. It implements [net.Error] with Timeout() returning true and
matches [os.ErrDeadlineExceeded] through [errors.Is].

- [ErrInterrupted] when a wait or an attempt was interrupted and
the caller's context was done at the same time.

- [*OpError] when the provider reported a hard failure. The wrapped
error is the provider's [syscall.Errno], so [errors.Is] works.

- [ErrProtocolViolation] when a received control-message buffer
is malformed.

- [ErrInvalidArgument] when arguments are rejected before any call
into the provider.

- [ErrClosed] when the socket was closed before or during the
operation. It matches [net.ErrClosed] and EBADF through [errors.Is].
*/
package sockerr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrTimedOut indicates that the operation timed out.
var ErrTimedOut error = &timeoutError{}

// timeoutError is the type of [ErrTimedOut].
type timeoutError struct{}

// Error implements error.
func (*timeoutError) Error() string { return "timed out" }

// Timeout implements [net.Error].
func (*timeoutError) Timeout() bool { return true }

// Temporary implements [net.Error].
func (*timeoutError) Temporary() bool { return true }

// Is allows matching [os.ErrDeadlineExceeded].
func (*timeoutError) Is(target error) bool {
	return target == os.ErrDeadlineExceeded
}

// ErrClosed indicates an operation on a closed socket.
var ErrClosed error = &closedError{}

// closedError is the type of [ErrClosed].
type closedError struct{}

// Error implements error.
func (*closedError) Error() string { return "use of closed socket" }

// Is allows matching [net.ErrClosed] and EBADF.
func (*closedError) Is(target error) bool {
	return target == net.ErrClosed || target == unix.EBADF
}

// ErrInterrupted indicates that an interruption was surfaced.
var ErrInterrupted = errors.New("interrupted")

// ErrProtocolViolation indicates a malformed ancillary-data buffer.
var ErrProtocolViolation = errors.New("malformed ancillary data")

// ErrInvalidArgument indicates arguments rejected before the provider call.
var ErrInvalidArgument = errors.New("invalid argument")

// Interrupted wraps the cause of an interruption (usually the
// error returned by a done context) with [ErrInterrupted].
func Interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

// Invalid returns an error wrapping [ErrInvalidArgument].
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Malformed returns an error wrapping [ErrProtocolViolation].
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// OpError is a failure reported by the provider.
type OpError struct {
	// Op is the operation name (e.g., "recvmsg").
	Op string

	// FD is the provider descriptor.
	FD int

	// Err is the underlying error.
	Err error
}

// NewOpError wraps err into an [*OpError] unless err is nil or one of
// the kinds that must stay recognizable at the top level (timeouts,
// interruptions, invalid arguments, and errors already wrapped).
func NewOpError(op string, fd int, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) ||
		errors.Is(err, ErrTimedOut) ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return &OpError{Op: op, FD: fd, Err: err}
}

// Error implements error.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s fd=%d: %s", e.Op, e.FD, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Timeout implements [net.Error].
func (e *OpError) Timeout() bool {
	return errors.Is(e.Err, ErrTimedOut)
}

// Temporary implements [net.Error].
func (e *OpError) Temporary() bool {
	return e.Timeout()
}

// IsWouldBlock returns whether err means "the operation would block".
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsInterrupt returns whether err is [unix.EINTR].
func IsInterrupt(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// Errno returns the [syscall.Errno] wrapped by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
