// Package timer provides the restartable one-second countdown used by timed
// assessment stages.
package timer

import (
	"fmt"
	"sync"
	"time"
)

// Urgency classifies the remaining time for presentation.
type Urgency string

const (
	UrgencyNormal  Urgency = "normal"
	UrgencyWarning Urgency = "warning"
	UrgencyDanger  Urgency = "danger"
)

const (
	warningThreshold = 30
	dangerThreshold  = 10
)

// Classify maps remaining seconds to an urgency level.
func Classify(remaining int) Urgency {
	switch {
	case remaining <= dangerThreshold:
		return UrgencyDanger
	case remaining <= warningThreshold:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// FormatClock renders seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithTick overrides the one-second tick interval.
func WithTick(d time.Duration) Option {
	return func(c *Countdown) { c.tick = d }
}

// Countdown decrements once per tick and calls onEnd when it reaches zero.
// Every Start mints a new generation; ticks and end callbacks belonging to
// an older generation are dropped. The end callback runs asynchronously
// through the clock and fires at most once per generation.
type Countdown struct {
	mu        sync.Mutex
	clock     Clock
	tick      time.Duration
	onEnd     func(gen uint64)
	gen       uint64
	remaining int
	running   bool
	settled   bool
	pending   Stopper
}

// New creates a stopped countdown.
func New(clock Clock, onEnd func(gen uint64), opts ...Option) *Countdown {
	if clock == nil {
		clock = SystemClock{}
	}
	c := &Countdown{clock: clock, tick: time.Second, onEnd: onEnd}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start resets the countdown to seconds and begins ticking, superseding any
// previous activation. It returns the new generation.
func (c *Countdown) Start(seconds int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	c.gen++
	g := c.gen
	c.settled = false
	if seconds <= 0 {
		c.remaining = 0
		c.running = false
		c.pending = c.clock.AfterFunc(0, func() { c.expire(g) })
		return g
	}
	c.remaining = seconds
	c.running = true
	c.pending = c.clock.AfterFunc(c.tick, func() { c.onTick(g) })
	return g
}

// Stop halts the countdown without firing the end callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.running = false
	c.settled = true
}

func (c *Countdown) cancelLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Countdown) onTick(g uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g != c.gen || !c.running {
		return
	}
	c.remaining--
	if c.remaining > 0 {
		c.pending = c.clock.AfterFunc(c.tick, func() { c.onTick(g) })
		return
	}
	c.remaining = 0
	c.running = false
	c.pending = c.clock.AfterFunc(0, func() { c.expire(g) })
}

func (c *Countdown) expire(g uint64) {
	c.mu.Lock()
	if g != c.gen || c.settled {
		c.mu.Unlock()
		return
	}
	c.settled = true
	c.pending = nil
	c.mu.Unlock()

	if c.onEnd != nil {
		c.onEnd(g)
	}
}

// Remaining returns the seconds left in the current activation.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// isRunning reports whether the countdown is ticking.
func (c *Countdown) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Urgency classifies the remaining time.
func (c *Countdown) Urgency() Urgency {
	return Classify(c.Remaining())
}
