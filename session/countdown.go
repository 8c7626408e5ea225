package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown tracks the whole seconds left until token expiry and publishes
// every change on the bus. It is purely informational and never triggers a
// renewal itself.
type Countdown struct {
	clock clockwork.Clock
	bus   *Bus

	mu      sync.Mutex
	ticker  clockwork.Ticker
	done    chan struct{}
	running bool
	last    int64
}

// NewCountdown creates a stopped countdown publishing on bus.
func NewCountdown(clock clockwork.Clock, bus *Bus) *Countdown {
	return &Countdown{clock: clock, bus: bus}
}

// Start begins a fresh countdown toward expiresAt, replacing any running
// one. The current value is published when it differs from the last
// published one, then once per second whenever the whole-second remainder
// changes, until it reaches 0.
func (c *Countdown) Start(expiresAt time.Time) {
	c.mu.Lock()
	c.stopLocked()
	remaining := c.remainingUntil(expiresAt)
	changed := remaining != c.last
	c.last = remaining
	if remaining > 0 {
		c.done = make(chan struct{})
		c.ticker = c.clock.NewTicker(time.Second)
		c.running = true
		go c.run(c.done, c.ticker, expiresAt)
	}
	c.mu.Unlock()

	if changed {
		c.bus.EmitTick(remaining)
	}
}

// Stop halts the countdown and publishes a 0 if the last published value
// was not already 0.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopLocked()
	emit := c.last != 0
	c.last = 0
	c.mu.Unlock()

	if emit {
		c.bus.EmitTick(0)
	}
}

// Remaining returns the last published countdown value.
func (c *Countdown) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Countdown) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	close(c.done)
	c.done = nil
	c.ticker.Stop()
	c.ticker = nil
}

func (c *Countdown) run(done chan struct{}, ticker clockwork.Ticker, expiresAt time.Time) {
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.done != done {
				// replaced by a newer countdown
				c.mu.Unlock()
				return
			}
			remaining := c.remainingUntil(expiresAt)
			changed := remaining != c.last
			c.last = remaining
			finished := remaining <= 0
			if finished {
				c.stopLocked()
			}
			c.mu.Unlock()

			if changed {
				c.bus.EmitTick(remaining)
			}
			if finished {
				return
			}
		}
	}
}

func (c *Countdown) remainingUntil(expiresAt time.Time) int64 {
	d := expiresAt.Sub(c.clock.Now())
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
