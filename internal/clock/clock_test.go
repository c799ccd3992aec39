package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystemClockMovesForward(t *testing.T) {
	c := System()
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
