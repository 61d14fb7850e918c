// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netsim provides a simulated, user-space network stack that
implements [stack.Provider], so sockets can run without the kernel.

# Usage and Features

The [NewStack] function creates a new, simulated network stack
using the given IP addresses. The stack exposes a descriptor table
with the usual BSD socket primitives (Socket, Bind, Listen, Accept,
Connect, Sendmsg, Recvmsg, Poll, ...) for TCP and UDP over IPv4
and IPv6. Descriptors are blocking unless created with SOCK_NONBLOCK
or switched to O_NONBLOCK, in which case operations that cannot
complete fail with EAGAIN, and connect fails with EINPROGRESS.

When an endpoint sends data, the data is wrapped inside a [*Packet]
emitted on the channel returned by [*Stack.Output]. The [*Link]
type allows connecting two [*Stack] such that they can send [*Packet]
to each other. To send a [*Packet] to a [*Stack], you need to post
the packet on the channel returned by [*Stack.Input]. Packets
directed to one of the stack own addresses never leave the stack.

The TCP model assumes a reliable, in-order link: there are no
sequence numbers and no retransmissions. A SYN directed to a
listener whose backlog is full is silently dropped, which is
handy to simulate connect timeouts. Ancillary data travels along
with the payload, except for SCM_RIGHTS, which inet sockets do not
support (EINVAL).

The errors returned by these types are the same [syscall.Errno] the
kernel would generate in similar cases (we use the [x/sys] repository
to pull system-dependent error values).
*/
package netsim
