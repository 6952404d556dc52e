package clock

import (
	"sync"
	"time"
)

// Clock is the time source of the stores. Every timestamp written to a
// record comes from one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns the wall clock in UTC.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// StepClock hands out strictly increasing instants, starting at Start and
// advancing by Step on each call. Tests use it to get deterministic
// creation ordering.
type StepClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Millisecond
	}
	return &StepClock{current: start.UTC(), step: step}
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Advance moves the clock forward by d without handing out an instant.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
