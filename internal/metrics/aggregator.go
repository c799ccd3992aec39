// Package metrics aggregates admission outcomes into request-rate, latency
// and drop figures, and exports them for reporting.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/clock"
	"github.com/Milad-Afdasta/ratewindow/internal/window"
	log "github.com/sirupsen/logrus"
)

// Options configures an Aggregator
type Options struct {
	// Window is the trailing period used for the request rate
	Window time.Duration

	// Capacity bounds the retained request timestamps (0 = unbounded)
	Capacity int

	// LatencyCapacity bounds the latency series; defaults to Capacity
	LatencyCapacity int

	// RecordHistory makes Sample append to the history buffer
	RecordHistory bool

	Clock clock.Clock
}

// Aggregator owns the request counter, the latency series and the drop counter.
// All methods are safe for concurrent use.
type Aggregator struct {
	window    time.Duration
	requests  *window.Counter
	latencies *LatencySeries
	clock     clock.Clock

	admitted atomic.Int64
	dropped  atomic.Int64

	recordHistory bool
	historyMu     sync.Mutex
	history       []Snapshot
}

// NewAggregator creates a new aggregator
func NewAggregator(opts Options) (*Aggregator, error) {
	counter, err := window.New(opts.Window, opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	latencyCap := opts.LatencyCapacity
	if latencyCap <= 0 {
		latencyCap = opts.Capacity
	}
	if latencyCap <= 0 {
		latencyCap = defaultLatencyCapacity
	}

	c := opts.Clock
	if c == nil {
		c = clock.System()
	}

	return &Aggregator{
		window:        opts.Window,
		requests:      counter,
		latencies:     NewLatencySeries(latencyCap),
		clock:         c,
		recordHistory: opts.RecordHistory,
	}, nil
}

const defaultLatencyCapacity = 10000

// RecordAdmitted counts an admitted request started at ts that took latency
func (a *Aggregator) RecordAdmitted(ts time.Time, latency time.Duration) {
	if latency < 0 {
		a.fail(&InconsistencyError{Field: "latency", Value: latency})
	}
	a.requests.Record(ts)
	a.latencies.Observe(latency)
	a.admitted.Add(1)
}

// RecordDropped counts a rejected request
func (a *Aggregator) RecordDropped() {
	a.dropped.Add(1)
}

// Snapshot computes the metrics as seen at now. It does not modify the history.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	count := a.requests.CountSince(now)
	s := Snapshot{
		RequestsPerSecond: float64(count) / a.window.Seconds(),
		AverageLatency:    a.latencies.MeanSeconds(),
		Dropped:           a.dropped.Load(),
		Timestamp:         now,
	}
	if err := s.Validate(); err != nil {
		a.fail(err)
	}
	return s
}

// Current returns a snapshot at the aggregator clock's current time
func (a *Aggregator) Current() Snapshot {
	return a.Snapshot(a.clock.Now())
}

// Sample takes a snapshot at now and appends it to the history when
// history recording is enabled.
func (a *Aggregator) Sample(now time.Time) Snapshot {
	s := a.Snapshot(now)
	if a.recordHistory {
		a.historyMu.Lock()
		a.history = append(a.history, s)
		a.historyMu.Unlock()
	}
	return s
}

// History returns a copy of the sampled snapshots in sampling order
func (a *Aggregator) History() []Snapshot {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	out := make([]Snapshot, len(a.history))
	copy(out, a.history)
	return out
}

// Admitted returns the total number of admitted requests
func (a *Aggregator) Admitted() int64 { return a.admitted.Load() }

// Dropped returns the total number of rejected requests
func (a *Aggregator) Dropped() int64 { return a.dropped.Load() }

// Evicted returns the number of request timestamps lost to the capacity bound
func (a *Aggregator) Evicted() int64 { return a.requests.Evicted() }

// LatencyPercentile returns a percentile of the retained latency samples
func (a *Aggregator) LatencyPercentile(p float64) time.Duration {
	return a.latencies.Percentile(p)
}

func (a *Aggregator) Window() time.Duration { return a.window }

func (a *Aggregator) Now() time.Time { return a.clock.Now() }

// fail surfaces a broken invariant. It never returns.
func (a *Aggregator) fail(err error) {
	log.WithError(err).Error("Aggregated metrics are inconsistent")
	panic(err)
}
