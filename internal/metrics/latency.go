package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencySeries is a bounded FIFO of request latencies.
// Storage grows on demand up to capacity; once full, each new observation
// evicts the oldest one.
type LatencySeries struct {
	mu       sync.RWMutex
	values   []time.Duration
	head     int
	size     int
	capacity int
	sum      time.Duration
}

// NewLatencySeries creates a new series holding at most capacity samples
func NewLatencySeries(capacity int) *LatencySeries {
	if capacity < 1 {
		capacity = 1
	}
	return &LatencySeries{capacity: capacity}
}

const minLatencyGrowSize = 16

// Observe adds a latency sample
func (s *LatencySeries) Observe(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == s.capacity {
		// Remove oldest value
		s.sum -= s.values[s.head]
		s.values[s.head] = d
		s.head = (s.head + 1) % len(s.values)
	} else {
		if s.size == len(s.values) {
			s.grow()
		}
		s.values[(s.head+s.size)%len(s.values)] = d
		s.size++
	}
	s.sum += d
}

// MeanSeconds returns the mean latency in seconds, 0 when empty
func (s *LatencySeries) MeanSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return 0
	}
	return s.sum.Seconds() / float64(s.size)
}

// Percentile returns the p-th percentile (0-100) using nearest rank
func (s *LatencySeries) Percentile(p float64) time.Duration {
	s.mu.RLock()
	sorted := make([]time.Duration, s.size)
	for i := 0; i < s.size; i++ {
		sorted[i] = s.values[(s.head+i)%len(s.values)]
	}
	s.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}
	return sorted[index]
}

// Len returns the number of retained samples
func (s *LatencySeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *LatencySeries) Capacity() int { return s.capacity }

// grow doubles the storage up to capacity. Must be called with mu held.
func (s *LatencySeries) grow() {
	n := len(s.values) * 2
	if n < minLatencyGrowSize {
		n = minLatencyGrowSize
	}
	if n > s.capacity {
		n = s.capacity
	}
	values := make([]time.Duration, n)
	for i := 0; i < s.size; i++ {
		values[i] = s.values[(s.head+i)%len(s.values)]
	}
	s.values = values
	s.head = 0
}
