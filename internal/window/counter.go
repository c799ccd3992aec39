// Package window implements the sliding-window event counter used to
// estimate the recent request rate.
//
// The counter keeps raw event timestamps in a ring buffer. When a capacity is
// set the ring never grows past it: recording into a full ring overwrites the
// oldest entry. Under sustained load above capacity/window events per second
// the counter therefore under-reports the true number of events in the window.
// This is an accepted approximation; size the capacity at least
// window_seconds * threshold_rps so that eviction only happens once the
// threshold is already exceeded.
package window

import (
	"errors"
	"sync"
	"time"
)

const minGrowSize = 16

var (
	ErrInvalidWindow   = errors.New("window must be positive")
	ErrInvalidCapacity = errors.New("capacity cannot be negative")
)

// Counter counts events newer than now - window.
// A Counter is bound to a single window for its whole lifetime because
// pruning discards entries that fall out of that window.
type Counter struct {
	mu sync.Mutex

	window   time.Duration
	capacity int // 0 means unbounded

	// Ring storage, oldest entry at head
	buf  []time.Time
	head int
	size int

	evicted int64
}

// New creates a counter for the given window. capacity == 0 disables the bound.
// Storage grows on demand up to capacity.
func New(window time.Duration, capacity int) (*Counter, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	return &Counter{
		window:   window,
		capacity: capacity,
	}, nil
}

// Record appends a timestamp. When the ring is full the oldest entry is evicted.
func (c *Counter) Record(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && c.size == c.capacity {
		// Overwrite the oldest slot and advance head
		c.buf[c.head] = ts
		c.head = (c.head + 1) % len(c.buf)
		c.evicted++
		return
	}

	if c.size == len(c.buf) {
		c.grow()
	}
	c.buf[(c.head+c.size)%len(c.buf)] = ts
	c.size++
}

// CountSince returns the number of retained events with timestamp > now - window.
// Leading entries that are already outside the window are pruned.
func (c *Counter) CountSince(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	c.prune(cutoff)

	// Concurrent handlers may record slightly out of order, so entries
	// behind the head are checked individually.
	count := 0
	for i := 0; i < c.size; i++ {
		if c.buf[(c.head+i)%len(c.buf)].After(cutoff) {
			count++
		}
	}
	return count
}

// Entries returns a copy of the retained timestamps, oldest first
func (c *Counter) Entries() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Time, c.size)
	for i := 0; i < c.size; i++ {
		out[i] = c.buf[(c.head+i)%len(c.buf)]
	}
	return out
}

// Allocated returns the number of slots currently backing the ring
func (c *Counter) Allocated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Len returns the number of retained entries, stale ones included
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Evicted returns how many entries were dropped by the capacity bound
func (c *Counter) Evicted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *Counter) Window() time.Duration { return c.window }

func (c *Counter) Capacity() int { return c.capacity }

// prune drops leading entries <= cutoff. Must be called with mu held.
func (c *Counter) prune(cutoff time.Time) {
	for c.size > 0 && !c.buf[c.head].After(cutoff) {
		c.buf[c.head] = time.Time{}
		c.head = (c.head + 1) % len(c.buf)
		c.size--
	}
	if c.size == 0 {
		c.head = 0
	}
}

// grow doubles the ring, never past capacity when one is set
func (c *Counter) grow() {
	n := len(c.buf) * 2
	if n < minGrowSize {
		n = minGrowSize
	}
	if c.capacity > 0 && n > c.capacity {
		n = c.capacity
	}
	buf := make([]time.Time, n)
	for i := 0; i < c.size; i++ {
		buf[i] = c.buf[(c.head+i)%len(c.buf)]
	}
	c.buf = buf
	c.head = 0
}
