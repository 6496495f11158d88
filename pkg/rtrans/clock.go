// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

import (
	"math"
	"time"
)

// Tick is the transport time unit, 1/10 of a second
type Tick uint64

// TicksPerSecond is the number of ticks in one second
const TicksPerSecond = 10

// Duration converts a tick count to a time.Duration
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * (time.Second / TicksPerSecond)
}

// TicksFromDuration converts d to whole ticks, rounding down
func TicksFromDuration(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d / (time.Second / TicksPerSecond))
}

// Clock is a monotonic source of ticks
type Clock interface {
	Now() Tick
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() Tick

// Now implements Clock
func (f ClockFunc) Now() Tick {
	return f()
}

// wrapPeriod is the tick span of one full turn of a 32-bit millisecond counter
const wrapPeriod = Tick(math.MaxUint32 / 100)

// WrapClock derives ticks from a wrapping 32-bit millisecond counter.
// Every time a sample is lower than the previous one the counter is assumed
// to have wrapped once, and a full wrap period is added to the offset.
// Now must be called at least once per wrap period.
type WrapClock struct {
	millis func() uint32
	last   uint32
	offset Tick
}

// NewWrapClock creates a clock reading the given millisecond counter
func NewWrapClock(millis func() uint32) *WrapClock {
	c := &WrapClock{millis: millis}
	c.last = millis() / 100
	return c
}

// Now implements Clock
func (c *WrapClock) Now() Tick {
	sample := c.millis() / 100
	if sample < c.last {
		c.offset += wrapPeriod
	}
	c.last = sample
	return c.offset + Tick(sample)
}

// SystemMillis returns a 32-bit millisecond counter measured from the first
// call. It wraps after roughly 49.7 days.
func SystemMillis() func() uint32 {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}

// NewSystemClock returns a wrap-extended clock driven by the system timer
func NewSystemClock() *WrapClock {
	return NewWrapClock(SystemMillis())
}
