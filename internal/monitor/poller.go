// Package monitor polls the metrics endpoint while a run is in progress.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	"github.com/Milad-Afdasta/ratewindow/internal/version"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"
)

// Poller periodically fetches GET /metrics. Every fetch is an explicit sample
// on the server side, which is how the history buffer grows during a run.
type Poller struct {
	url      string
	interval time.Duration
	client   *fasthttp.Client

	// Guards the parser and the fields below; Poll is not reentrant
	mu       sync.Mutex
	parser   fastjson.Parser
	polls    int
	failures int
	last     metrics.Snapshot
}

// NewPoller creates a poller for the given metrics URL
func NewPoller(url string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		url:      url,
		interval: interval,
		client:   &fasthttp.Client{Name: version.UserAgent(version.Monitor)},
	}
}

// Start polls until ctx is cancelled. Poll errors are logged and skipped.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := p.Poll()
			if err != nil {
				log.WithError(err).Warn("Failed to poll metrics")
				continue
			}
			log.WithFields(log.Fields{
				"rps":         snap.RequestsPerSecond,
				"avg_latency": snap.AverageLatency,
				"dropped":     snap.Dropped,
			}).Info("Live metrics")
		}
	}
}

// Poll fetches and parses a single snapshot
func (p *Poller) Poll() (metrics.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++

	status, body, err := p.client.GetTimeout(nil, p.url, p.interval)
	if err != nil {
		p.failures++
		return metrics.Snapshot{}, fmt.Errorf("failed to fetch %s: %w", p.url, err)
	}
	if status != fasthttp.StatusOK {
		p.failures++
		return metrics.Snapshot{}, fmt.Errorf("unexpected status %d from %s", status, p.url)
	}

	snap, err := p.parse(body)
	if err != nil {
		p.failures++
		return metrics.Snapshot{}, err
	}
	p.last = snap
	return snap, nil
}

func (p *Poller) parse(body []byte) (metrics.Snapshot, error) {
	v, err := p.parser.ParseBytes(body)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("failed to parse metrics: %w", err)
	}

	rps := v.Get("requests_per_second")
	latency := v.Get("average_latency")
	dropped := v.Get("dropped_requests")
	if rps == nil || latency == nil || dropped == nil {
		return metrics.Snapshot{}, fmt.Errorf("metrics response is missing fields: %s", body)
	}

	snap := metrics.Snapshot{
		RequestsPerSecond: rps.GetFloat64(),
		AverageLatency:    latency.GetFloat64(),
		Dropped:           dropped.GetInt64(),
		Timestamp:         time.Now(),
	}
	return snap, snap.Validate()
}

// Last returns the most recent successfully polled snapshot
func (p *Poller) Last() metrics.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Polls returns how many polls were attempted and how many failed
func (p *Poller) Polls() (total, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls, p.failures
}
