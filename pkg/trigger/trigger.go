// Package trigger turns raw sensor edges into a single debounced pending
// trigger shared between the input goroutine and the controller loop.
//
// The pending flag and the time of the last accepted edge live in one
// atomic word so that every reader sees them as a unit:
//
//	bit 63   pending
//	bit 62   an edge has been accepted at least once
//	bit 0-61 nanoseconds since the debouncer was created
package trigger

import (
	"sync/atomic"
	"time"

	"cat-shutter-pi/pkg/clock"
)

const (
	pendingBit  = uint64(1) << 63
	acceptedBit = uint64(1) << 62
	stampMask   = acceptedBit - 1

	ActiveLow  = 0
	ActiveHigh = 1
)

type Event struct {
	Pending bool
	// At is the monotonic offset of the last accepted edge.
	At time.Duration
	// Seen is false until the first edge is accepted.
	Seen bool
}

type Stats struct {
	Accepted uint64
	Dropped  uint64
}

type Debouncer struct {
	interval    time.Duration
	activeLevel int
	since       clock.Since

	state atomic.Uint64
	wake  chan struct{}

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

func New(interval time.Duration, activeLevel int, c clock.Clock) *Debouncer {
	return &Debouncer{
		interval:    interval,
		activeLevel: activeLevel,
		since:       clock.NewSince(c),
		wake:        make(chan struct{}, 1),
	}
}

// OnRawEdge is called from the input goroutine for every edge. It never
// blocks and reports whether the edge was accepted.
func (d *Debouncer) OnRawEdge(level int) bool {
	if level != d.activeLevel {
		d.dropped.Add(1)
		return false
	}
	now := uint64(d.since.Elapsed()) & stampMask
	for {
		old := d.state.Load()
		if old&acceptedBit != 0 && time.Duration(now-(old&stampMask)) < d.interval {
			d.dropped.Add(1)
			return false
		}
		if d.state.CompareAndSwap(old, pendingBit|acceptedBit|now) {
			break
		}
	}
	d.accepted.Add(1)
	select {
	case d.wake <- struct{}{}:
	default:
	}

	return true
}

func (d *Debouncer) Pending() bool {
	return d.state.Load()&pendingBit != 0
}

// Consume clears the pending flag and reports whether it was set. Only one
// caller observes true per accepted trigger.
func (d *Debouncer) Consume() bool {
	for {
		old := d.state.Load()
		if old&pendingBit == 0 {
			return false
		}
		if d.state.CompareAndSwap(old, old&^pendingBit) {
			return true
		}
	}
}

func (d *Debouncer) Snapshot() Event {
	s := d.state.Load()
	return Event{
		Pending: s&pendingBit != 0,
		Seen:    s&acceptedBit != 0,
		At:      time.Duration(s & stampMask),
	}
}

// Wake receives a value after an edge is accepted.
func (d *Debouncer) Wake() <-chan struct{} {
	return d.wake
}

func (d *Debouncer) Stats() Stats {
	return Stats{Accepted: d.accepted.Load(), Dropped: d.dropped.Load()}
}
