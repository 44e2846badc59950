package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and timers. Components that sleep or
// timestamp take a Clock so tests can drive time by hand.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a manually advanced Clock. Channels returned by After fire
// once Advance moves CurrentTime past their deadline.
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
	waiters     []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentTime
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.CurrentTime.Add(d)
	if d <= 0 {
		ch <- c.CurrentTime
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward and fires every timer that is now due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CurrentTime = c.CurrentTime.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if w.deadline.After(c.CurrentTime) {
			pending = append(pending, w)
			continue
		}
		w.ch <- c.CurrentTime
	}
	c.waiters = pending
}

// Waiters reports how many After timers have not fired yet.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
