// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package socket implements socket handles performing I/O through a
[*stack.Stack] with POSIX-like blocking, non-blocking and timeout
semantics.

Each [*Socket] owns a provider descriptor and a reference on its
stack. Its [sockcall.Timeout] selects how operations behave:

- with [sockcall.Infinite], the descriptor is blocking and every
operation blocks inside the provider;

- with [sockcall.Zero], the descriptor is non-blocking and operations
that cannot complete immediately fail with EAGAIN;

- with a bounded timeout, the descriptor is non-blocking and
operations wait for readiness until a deadline computed when the
operation starts, failing with [sockerr.ErrTimedOut].

New sockets snapshot the process-wide default timeout, which is
[sockcall.Infinite] unless changed using [SetDefaultTimeout].

When [Config] contains a logger, every operation emits structured
<op>Start and <op>Done events.
*/
package socket
