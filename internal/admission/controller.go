// Package admission decides whether an incoming request is served or rejected
// based on the request rate observed over the trailing metrics window.
package admission

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/clock"
	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Metrics is the part of the aggregator the controller reads and writes
type Metrics interface {
	Snapshot(now time.Time) metrics.Snapshot
	RecordAdmitted(ts time.Time, latency time.Duration)
	RecordDropped()
}

// Observer receives every decision, e.g. a Prometheus exporter
type Observer interface {
	ObserveAdmitted(latency time.Duration)
	ObserveDropped()
}

// Policy selects how the rate check and the recording are sequenced
type Policy string

const (
	// PolicyReadThenRecord checks the rate, then records without holding a
	// lock across both steps. Concurrent requests arriving in the same instant
	// can all pass the check, so the threshold may be briefly overshot.
	PolicyReadThenRecord Policy = "read-then-record"

	// PolicyReserve runs check and record as one critical section, so the
	// admitted rate never exceeds the threshold by more than one request.
	PolicyReserve Policy = "reserve"
)

// ParsePolicy converts a configuration string into a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyReadThenRecord, PolicyReserve:
		return Policy(s), nil
	case "":
		return PolicyReadThenRecord, nil
	}
	return "", fmt.Errorf("unknown admission policy %q", s)
}

// Decision is the outcome for one request
type Decision struct {
	Admitted bool
	// RPS is the rate observed before this request was counted
	RPS float64
}

// Controller is the admission-controlled request handler
type Controller struct {
	metrics   Metrics
	threshold float64
	policy    Policy
	clock     clock.Clock
	observer  Observer

	// Held across check and record only with PolicyReserve
	reserveMu sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// NewController creates a controller rejecting traffic once the windowed
// rate exceeds threshold requests per second.
func NewController(m Metrics, threshold float64, opts ...Option) *Controller {
	c := &Controller{
		metrics:   m,
		threshold: threshold,
		policy:    PolicyReadThenRecord,
		clock:     clock.System(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit runs the admission state machine for a request that started at start.
// Rejected requests only bump the drop counter; their timestamp and latency
// are never recorded.
func (c *Controller) Admit(start time.Time) Decision {
	if c.policy == PolicyReserve {
		c.reserveMu.Lock()
		defer c.reserveMu.Unlock()
	}

	rps := c.metrics.Snapshot(c.clock.Now()).RequestsPerSecond
	if rps > c.threshold {
		c.metrics.RecordDropped()
		if c.observer != nil {
			c.observer.ObserveDropped()
		}
		return Decision{Admitted: false, RPS: rps}
	}

	latency := c.clock.Now().Sub(start)
	c.metrics.RecordAdmitted(start, latency)
	if c.observer != nil {
		c.observer.ObserveAdmitted(latency)
	}
	return Decision{Admitted: true, RPS: rps}
}

// ServeHTTP answers 200 for admitted requests and 429 otherwise
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := c.clock.Now()
	d := c.Admit(start)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.Admitted {
		log.WithFields(log.Fields{
			"remote": r.RemoteAddr,
			"rps":    d.RPS,
		}).Debug("Request dropped")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("Too Many Requests"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (c *Controller) Threshold() float64 { return c.threshold }

func (c *Controller) Policy() Policy { return c.policy }
