package relay

import "sync/atomic"

// Counter tracks live relay connections. It never goes below zero.
type Counter struct {
	n atomic.Int64
}

// Inc adds one connection and returns the new count
func (c *Counter) Inc() int64 {
	return c.n.Add(1)
}

// Dec removes one connection and returns the new count. Dec at zero is a no-op.
func (c *Counter) Dec() int64 {
	for {
		cur := c.n.Load()
		if cur <= 0 {
			return 0
		}
		if c.n.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Load returns the current count
func (c *Counter) Load() int64 {
	return c.n.Load()
}
