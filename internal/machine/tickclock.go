// internal/machine/tickclock.go

package machine

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickClock plays the programmable interval timer: it emits ticks on Ch and
// counts them atomically. Ticks that find the buffer full are dropped and
// counted as missed, the way a late IRQ0 coalesces on real hardware.
type TickClock struct {
	Ch     chan struct{}
	count  atomic.Int64
	missed atomic.Int64
	stop   chan struct{}
	once   sync.Once
}

// NewTickClock creates a clock but does not start it.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Pulse()
			case <-c.stop:
				return
			}
		}
	}()
}

// Pulse emits one tick by hand. Used for single stepping.
func (c *TickClock) Pulse() {
	select {
	case <-c.stop:
		return
	default:
	}
	select {
	case c.Ch <- struct{}{}:
		c.count.Add(1)
	default:
		c.missed.Add(1)
	}
}

// Stop signals the clock to stop emitting ticks. Safe to call twice.
func (c *TickClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Count returns the number of ticks delivered.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

// Missed returns the number of ticks dropped on a full buffer.
func (c *TickClock) Missed() int64 {
	return c.missed.Load()
}
