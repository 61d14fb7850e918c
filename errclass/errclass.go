// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass implements error classification for socket operations.

The general idea is to classify golang errors to an enum of strings
with names resembling standard Unix error names, so that structured
logs carry a stable `errClass` field next to the original `err`.

# Design Principles

1. Classify the socket error kinds first ([sockerr.ErrTimedOut],
[sockerr.ErrInterrupted], [sockerr.ErrProtocolViolation],
[sockerr.ErrInvalidArgument]) since they wrap other errors. A
[sockerr.ErrClosed] socket maps to EBADF, like closed descriptors.

2. Then classify the errno values that socket providers return
and that the generic classifier does not know about.

3. Fall back to [errclass.New] from the common module.

4. Map the nil error to an empty string.

The errno constants live in unix.go, since this module only
targets Unix-like systems.
*/
package errclass

import (
	"errors"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/stacksock/sockerr"
)

const (
	// EADDRNOTAVAIL is the address not available error.
	EADDRNOTAVAIL = errclass.EADDRNOTAVAIL

	// EADDRINUSE is the address in use error.
	EADDRINUSE = errclass.EADDRINUSE

	// ECONNABORTED is the connection aborted error.
	ECONNABORTED = errclass.ECONNABORTED

	// ECONNREFUSED is the connection refused error.
	ECONNREFUSED = errclass.ECONNREFUSED

	// ECONNRESET is the connection reset by peer error.
	ECONNRESET = errclass.ECONNRESET

	// EEOF indicates an unexpected EOF.
	EEOF = errclass.EEOF

	// EINVAL is the invalid argument error.
	EINVAL = errclass.EINVAL

	// EINTR is the interrupted system call error.
	EINTR = errclass.EINTR

	// ENOTCONN is the not connected error.
	ENOTCONN = errclass.ENOTCONN

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = errclass.ETIMEDOUT

	// EGENERIC is the generic, unclassified error.
	EGENERIC = errclass.EGENERIC

	// EAGAIN is the operation would block error.
	EAGAIN = "EAGAIN"

	// EBADF is the bad file descriptor error.
	EBADF = "EBADF"

	// EINPROGRESS is the operation in progress error.
	EINPROGRESS = "EINPROGRESS"

	// EISCONN is the already connected error.
	EISCONN = "EISCONN"

	// EMSGSIZE is the message too long error.
	EMSGSIZE = "EMSGSIZE"

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = "ENOBUFS"

	// EPROTO is the protocol error, used for malformed ancillary data.
	EPROTO = "EPROTO"
)

// classEntry maps an error to its class.
type classEntry struct {
	err   error
	class string
}

// errorsIsList is checked in order using [errors.Is].
var errorsIsList = []classEntry{
	{sockerr.ErrTimedOut, ETIMEDOUT},
	{sockerr.ErrInterrupted, EINTR},
	{sockerr.ErrProtocolViolation, EPROTO},
	{sockerr.ErrInvalidArgument, EINVAL},
	{sockerr.ErrClosed, EBADF},
	{errEAGAIN, EAGAIN},
	{errEBADF, EBADF},
	{errEINPROGRESS, EINPROGRESS},
	{errEISCONN, EISCONN},
	{errEMSGSIZE, EMSGSIZE},
	{errENOBUFS, ENOBUFS},
}

// New returns the class of the given error.
func New(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorsIsList {
		if errors.Is(err, entry.err) {
			return entry.class
		}
	}
	return errclass.New(err)
}
