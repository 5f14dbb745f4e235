// Package clock provides the monotonic time source shared by the trigger
// debouncer, the calibration scheduler and the capture machine.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(1_700_000_000, 0)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Since is a monotonic offset from a fixed base instant.
type Since struct {
	c    Clock
	base time.Time
}

func NewSince(c Clock) Since {
	if c == nil {
		c = Real{}
	}
	return Since{c: c, base: c.Now()}
}

func (s Since) Elapsed() time.Duration {
	return s.c.Now().Sub(s.base)
}
