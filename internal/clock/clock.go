package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type Real struct{}

func NewReal() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

// Mock is a manually advanced clock for tests. Safe for concurrent use.
type Mock struct {
	mu      sync.RWMutex
	current time.Time
}

func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

func (c *Mock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (c *Mock) Add(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
