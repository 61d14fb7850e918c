// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package sockcall implements the blocking and timeout semantics of
socket operations on top of non-blocking provider attempts.

A [Timeout] is the policy of a socket: [Infinite], [Zero], or
[Bounded]. [Wait] waits for a single descriptor to become ready
using a [Poller]. [Do] is the retry loop turning an [Attempt]
into a blocking operation honoring the policy.

Attempts are plain closures, so the same loop serves connect,
accept, send, receive and their message variants.
*/
package sockcall
