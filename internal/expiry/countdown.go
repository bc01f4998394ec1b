package expiry

import (
	"sync"
	"time"
)

// Countdown runs a function once a fixed period has passed without a Reset.
// The owner restarts it on activity and stops it on shutdown.
type Countdown struct {
	d  time.Duration
	fn func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewCountdown returns an unarmed countdown. A period of zero or less
// yields a countdown that never fires.
func NewCountdown(d time.Duration, fn func()) *Countdown {
	return &Countdown{d: d, fn: fn}
}

// Enabled reports whether the countdown can fire at all.
func (c *Countdown) Enabled() bool {
	return c != nil && c.d > 0
}

// Reset (re)arms the countdown for its full period.
func (c *Countdown) Reset() {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.d, func() { c.fire(gen) })
}

// Stop disarms the countdown for good. It reports whether a pending run
// was cancelled.
func (c *Countdown) Stop() bool {
	if !c.Enabled() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.gen++
	if c.timer == nil {
		return false
	}
	pending := c.timer.Stop()
	c.timer = nil
	return pending
}

func (c *Countdown) fire(gen uint64) {
	c.mu.Lock()
	// a Reset or Stop raced with the timer
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.fn()
}
