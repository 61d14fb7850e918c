// SPDX-License-Identifier: GPL-3.0-or-later

// Package link models a point-to-point network link.
package link

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbmk-project/stacksock/netsim/packet"
)

// LinkStack is the [*Stack] as seen by a [*Link].
type LinkStack = packet.NetworkDevice

// Link moves packets in both directions between two stacks.
//
// A link can be cut, in which case it silently drops every packet
// until restored, which simulates a network partition.
//
// The zero value is not ready to use; construct using [New].
type Link struct {
	// cut is true while the link drops packets.
	cut atomic.Bool

	// dropped counts the packets dropped while cut.
	dropped atomic.Int64

	// eof unblocks any blocking channel operation.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// logger is the OPTIONAL logger for in-flight packets.
	logger *slog.Logger
}

// New creates a new [*Link] between the left and right stacks and
// starts moving packets between them. Use Close to stop moving. The
// logger may be nil, otherwise in-flight and dropped packets are
// logged at debug level.
func New(left, right LinkStack, logger *slog.Logger) *Link {
	lnk := &Link{
		eof:    make(chan struct{}),
		logger: logger,
	}
	go lnk.forward(left, right)
	go lnk.forward(right, left)
	return lnk
}

// Close stops moving packets. It is idempotent.
func (lnk *Link) Close() error {
	lnk.eofOnce.Do(func() { close(lnk.eof) })
	return nil
}

// SetCut cuts (true) or restores (false) the link.
func (lnk *Link) SetCut(cut bool) {
	lnk.cut.Store(cut)
}

// Dropped returns the number of packets dropped while cut.
func (lnk *Link) Dropped() int64 {
	return lnk.dropped.Load()
}

func (lnk *Link) debug(msg string, pkt *packet.Packet) {
	if lnk.logger != nil {
		lnk.logger.Debug(msg, slog.String("packet", pkt.String()))
	}
}

// forward moves packets from src to dst until either
// the link or one of the two stacks is closed.
func (lnk *Link) forward(src, dst LinkStack) {
	for {
		var pkt *packet.Packet
		select {
		case <-lnk.eof:
			return
		case <-src.EOF():
			return
		case pkt = <-src.Output():
		}

		if lnk.cut.Load() {
			lnk.dropped.Add(1)
			lnk.debug("packetDrop", pkt)
			continue
		}

		lnk.debug("inflight", pkt)
		select {
		case <-lnk.eof:
			return
		case <-dst.EOF():
			return
		case dst.Input() <- pkt:
		}
	}
}
