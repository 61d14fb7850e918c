//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Network stack
//

package netsim

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rbmk-project/stacksock/stack"
)

// Config contains the [*Stack] configuration.
//
// The zero value is ready to use.
type Config struct {
	// Logger is the OPTIONAL logger for port and packet events.
	//
	// If nil, we don't emit logs.
	Logger *slog.Logger

	// MaxDatagrams is the OPTIONAL capacity of each datagram
	// socket receive queue. Packets beyond it are dropped.
	//
	// If zero, we use [DefaultMaxDatagrams].
	MaxDatagrams int
}

// DefaultMaxDatagrams is the default datagram queue capacity.
const DefaultMaxDatagrams = 128

// Stack models a user-space network stack and implements
// [stack.Provider] on top of simulated TCP and UDP endpoints.
//
// The zero value is invalid; construct using [NewStack].
type Stack struct {
	// addrs contains the stack network addresses.
	addrs []netip.Addr

	// changed is closed and replaced whenever the state
	// of any endpoint changes, waking up waiters.
	changed chan struct{}

	// eof unblocks any blocking operation when the stack is closed.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// fds is the descriptor table.
	fds map[int]*endpoint

	// input is the input channel for packets.
	input chan *Packet

	// logger is the OPTIONAL logger.
	logger *slog.Logger

	// maxDatagrams is the datagram queue capacity.
	maxDatagrams int

	// mu protects changed, fds, nextfd, nextport, outq, ports,
	// and the state of every endpoint.
	mu sync.Mutex

	// nextfd is the next descriptor number to try.
	nextfd int

	// nextport tracks the next available ephemeral port.
	nextport map[IPProtocol]uint16

	// outq contains the packets waiting to be emitted.
	outq *queue.Queue

	// outReady signals that outq is not empty.
	outReady chan struct{}

	// output is the output channel for packets.
	output chan *Packet

	// ports contains the registered endpoints.
	ports map[PortAddr]*endpoint
}

var _ stack.Provider = &Stack{}

// NewStack creates a new [*Stack] instance using the given
// config (nil means defaults) and addresses, and starts the
// goroutines muxing and demuxing traffic. Remember to invoke
// CloseStack to stop them.
func NewStack(config *Config, addrs ...netip.Addr) *Stack {
	const firstEphemeralPort = 49152
	if config == nil {
		config = &Config{}
	}
	maxDatagrams := config.MaxDatagrams
	if maxDatagrams <= 0 {
		maxDatagrams = DefaultMaxDatagrams
	}
	ns := &Stack{
		changed:      make(chan struct{}),
		eof:          make(chan struct{}),
		eofOnce:      sync.Once{},
		fds:          map[int]*endpoint{},
		input:        make(chan *Packet),
		logger:       config.Logger,
		maxDatagrams: maxDatagrams,
		mu:           sync.Mutex{},
		nextfd:       3,
		nextport: map[IPProtocol]uint16{
			IPProtocolTCP: firstEphemeralPort,
			IPProtocolUDP: firstEphemeralPort,
		},
		outq:     queue.New(),
		outReady: make(chan struct{}, 1),
		output:   make(chan *Packet),
		ports:    map[PortAddr]*endpoint{},
	}
	for _, addr := range addrs {
		ns.addrs = append(ns.addrs, addr.Unmap())
	}
	go ns.demuxLoop()
	go ns.muxLoop()
	return ns
}

// New returns a [*stack.Stack] owning a new [*Stack].
func New(config *Config, addrs ...netip.Addr) *stack.Stack {
	return stack.New("netsim", NewStack(config, addrs...))
}

// Addresses returns the network stack addresses.
func (ns *Stack) Addresses() []netip.Addr {
	return append([]netip.Addr{}, ns.addrs...)
}

// EOF returns the channel to wait for the stack to close.
func (ns *Stack) EOF() <-chan struct{} {
	return ns.eof
}

// Output returns the channel from which to read outgoing packets.
func (ns *Stack) Output() <-chan *Packet {
	return ns.output
}

// Input returns the channel where to write incoming packets.
func (ns *Stack) Input() chan<- *Packet {
	return ns.input
}

// CloseStack closes the network stack, stops all traffic muxing
// and demuxing, and wakes up every blocked operation. It implements
// [stack.StackCloser] and is idempotent.
func (ns *Stack) CloseStack() error {
	ns.eofOnce.Do(func() {
		ns.mu.Lock()
		close(ns.eof)
		ns.notifyLocked()
		ns.mu.Unlock()
	})
	return nil
}

// closed returns whether the stack has been closed.
func (ns *Stack) closed() bool {
	select {
	case <-ns.eof:
		return true
	default:
		return false
	}
}

// demuxLoop demuxes incoming traffic to the proper endpoint.
func (ns *Stack) demuxLoop() {
	for {
		select {
		case <-ns.eof:
			return
		case pkt := <-ns.input:
			ns.deliver(pkt)
		}
	}
}

// deliver delivers a single incoming [*Packet].
func (ns *Stack) deliver(pkt *Packet) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.demuxLocked(pkt); err != nil {
		ns.debug("packetDrop", slog.String("packet", pkt.String()), slog.Any("err", err))
	}
}

// demuxLocked demuxes a single incoming [*Packet].
//
// The caller must hold the mu lock.
func (ns *Stack) demuxLocked(pkt *Packet) error {
	// Discard packet if the address is not local.
	if !ns.isLocalAddr(pkt.DstAddr) {
		return EHOSTUNREACH
	}
	defer ns.notifyLocked()

	ep := ns.findPortLocked(pkt)
	switch pkt.IPProtocol {
	case IPProtocolTCP:
		return ns.demuxTCPLocked(ep, pkt)
	case IPProtocolUDP:
		return ns.demuxUDPLocked(ep, pkt)
	default:
		return EPROTONOSUPPORT
	}
}

// emitLocked queues an outgoing packet.
//
// The caller must hold the mu lock.
func (ns *Stack) emitLocked(pkt *Packet) {
	ns.outq.Add(pkt)
	select {
	case ns.outReady <- struct{}{}:
	default:
	}
}

// muxLoop moves queued packets to the output channel, or
// directly back into the stack when they are local.
func (ns *Stack) muxLoop() {
	for {
		ns.mu.Lock()
		var pkt *Packet
		if ns.outq.Length() > 0 {
			pkt = ns.outq.Remove().(*Packet)
		}
		ns.mu.Unlock()

		if pkt == nil {
			select {
			case <-ns.eof:
				return
			case <-ns.outReady:
				continue
			}
		}

		if ns.isLocalAddr(pkt.DstAddr) {
			ns.deliver(pkt)
			continue
		}

		select {
		case <-ns.eof:
			return
		case ns.output <- pkt:
		}
	}
}

// notifyLocked wakes up all the goroutines waiting for changes.
//
// The caller must hold the mu lock.
func (ns *Stack) notifyLocked() {
	close(ns.changed)
	ns.changed = make(chan struct{})
}

// errWaitTimeout indicates that waitLocked timed out.
var errWaitTimeout = errors.New("netsim: wait timeout")

// waitLocked releases mu until the state changes, the timer fires, or
// the stack is closed. A nil timer never fires.
//
// The caller must hold the mu lock.
func (ns *Stack) waitLocked(timer <-chan time.Time) error {
	changed := ns.changed
	ns.mu.Unlock()
	defer ns.mu.Lock()
	select {
	case <-changed:
		return nil
	case <-timer:
		return errWaitTimeout
	case <-ns.eof:
		return ENETDOWN
	}
}

// debug emits a debug log message, if we have a logger.
func (ns *Stack) debug(msg string, args ...any) {
	if ns.logger != nil {
		ns.logger.Debug(msg, args...)
	}
}
