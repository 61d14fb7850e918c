// SPDX-License-Identifier: GPL-3.0-or-later

// Package router connects several simulated stacks using a star topology.
package router

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/stacksock/netsim/packet"
)

// Device is a [packet.NetworkDevice] with addresses.
type Device interface {
	packet.NetworkDevice

	// Addresses returns the device addresses.
	Addresses() []netip.Addr
}

// Router forwards packets between attached [Device].
//
// The zero value is not ready to use; construct using [New].
type Router struct {
	// eof unblocks any blocking channel operation.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// logger is the OPTIONAL logger for dropped packets.
	logger *slog.Logger

	// mu protects srt.
	mu sync.RWMutex

	// srt is the static routing table.
	srt map[netip.Addr]Device
}

// New creates a new [*Router]. The logger may be nil.
func New(logger *slog.Logger) *Router {
	return &Router{
		eof:    make(chan struct{}),
		logger: logger,
		srt:    make(map[netip.Addr]Device),
	}
}

// Attach attaches a [Device] to the [*Router] and adds
// routes for all its addresses.
func (r *Router) Attach(dev Device) {
	r.mu.Lock()
	for _, addr := range dev.Addresses() {
		r.srt[addr] = dev
	}
	r.mu.Unlock()
	go r.readLoop(dev)
}

// Close stops background goroutines forwarding traffic.
func (r *Router) Close() error {
	r.eofOnce.Do(func() { close(r.eof) })
	return nil
}

// readLoop reads packets from a [Device] until EOF.
func (r *Router) readLoop(dev Device) {
	for {
		select {
		case <-r.eof:
			return
		case <-dev.EOF():
			return
		case pkt := <-dev.Output():
			if err := r.route(pkt); err != nil && r.logger != nil {
				r.logger.Debug("packetDrop", slog.String("packet", pkt.String()), slog.Any("err", err))
			}
		}
	}
}

var (
	// errNoRouteToHost is returned when there is no route to the host.
	errNoRouteToHost = errors.New("no route to host")

	// errDeviceClosed is returned when the next hop is closed.
	errDeviceClosed = errors.New("device closed")
)

// route routes a given packet to its destination.
func (r *Router) route(pkt *packet.Packet) error {
	r.mu.RLock()
	nextHop := r.srt[pkt.DstAddr.Unmap()]
	r.mu.RUnlock()
	if nextHop == nil {
		return errNoRouteToHost
	}

	// the simulated TCP assumes a lossless path
	select {
	case <-r.eof:
		return errDeviceClosed
	case <-nextHop.EOF():
		return errDeviceClosed
	case nextHop.Input() <- pkt:
		return nil
	}
}
