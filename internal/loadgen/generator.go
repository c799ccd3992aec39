// Package loadgen simulates a population of clients issuing paced requests
// against the admission-controlled endpoint.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/version"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Config controls the simulated client population
type Config struct {
	Clients           int
	RequestsPerClient int
	Rate              float64 // requests per second per client
	Target            string
	Timeout           time.Duration

	// Progress renders a progress bar on ProgressWriter (stderr by default)
	Progress       bool
	ProgressWriter io.Writer
}

// Outcome is the result of a single request
type Outcome struct {
	Client    int
	Seq       int
	Status    int
	Latency   time.Duration
	Timestamp time.Time
	Err       error
}

// ClientRequestError describes a failed or non-successful request
type ClientRequestError struct {
	Client int
	Seq    int
	Status int
	Err    error
}

func (e *ClientRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client %d request %d failed: %v", e.Client, e.Seq, e.Err)
	}
	return fmt.Sprintf("client %d request %d: unexpected status %d", e.Client, e.Seq, e.Status)
}

func (e *ClientRequestError) Unwrap() error { return e.Err }

// Stats holds live counters updated by the workers
type Stats struct {
	sent     atomic.Int64
	ok       atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func (s *Stats) Sent() int64     { return s.sent.Load() }
func (s *Stats) OK() int64       { return s.ok.Load() }
func (s *Stats) Rejected() int64 { return s.rejected.Load() }
func (s *Stats) Failed() int64   { return s.failed.Load() }

// Generator runs the client workers
type Generator struct {
	config Config
	client *fasthttp.Client
	stats  *Stats
}

// New creates a generator
func New(config Config) (*Generator, error) {
	if config.Clients <= 0 || config.RequestsPerClient <= 0 {
		return nil, errors.New("clients and requests per client must be positive")
	}
	if config.Rate <= 0 {
		return nil, errors.New("rate must be positive")
	}
	if config.Target == "" {
		return nil, errors.New("target is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.ProgressWriter == nil {
		config.ProgressWriter = os.Stderr
	}

	return &Generator{
		config: config,
		client: &fasthttp.Client{
			Name:                version.UserAgent(version.LoadGenerator),
			MaxConnsPerHost:     config.Clients * 2,
			MaxIdleConnDuration: 10 * time.Second,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
		},
		stats: &Stats{},
	}, nil
}

// Stats returns the live counters
func (g *Generator) Stats() *Stats { return g.stats }

// Run starts every worker and returns once all of them issued their quota or
// ctx is cancelled. Individual request failures never stop a worker.
func (g *Generator) Run(ctx context.Context) *Result {
	start := time.Now()
	total := g.config.Clients * g.config.RequestsPerClient
	bar := g.newProgressBar(total)

	var wg sync.WaitGroup
	perWorker := make([][]Outcome, g.config.Clients)
	for i := 0; i < g.config.Clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			perWorker[id] = g.worker(ctx, id, bar)
		}(i)
	}
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	outcomes := make([]Outcome, 0, total)
	for _, o := range perWorker {
		outcomes = append(outcomes, o...)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Client != outcomes[j].Client {
			return outcomes[i].Client < outcomes[j].Client
		}
		return outcomes[i].Seq < outcomes[j].Seq
	})

	return newResult(outcomes, time.Since(start), total)
}

// worker issues its requests strictly one after another
func (g *Generator) worker(ctx context.Context, id int, bar *progressbar.ProgressBar) []Outcome {
	interval := time.Duration(float64(time.Second) / g.config.Rate)
	outcomes := make([]Outcome, 0, g.config.RequestsPerClient)

	for seq := 1; seq <= g.config.RequestsPerClient; seq++ {
		if ctx.Err() != nil {
			return outcomes
		}

		outcome := g.send(id, seq)
		outcomes = append(outcomes, outcome)
		g.account(outcome)
		if bar != nil {
			bar.Add(1)
		}

		if seq < g.config.RequestsPerClient {
			// Paced at the nominal rate, not compensated for latency
			select {
			case <-ctx.Done():
				return outcomes
			case <-time.After(interval):
			}
		}
	}
	return outcomes
}

func (g *Generator) send(id, seq int) Outcome {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.config.Target)
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	err := g.client.DoTimeout(req, resp, g.config.Timeout)
	outcome := Outcome{
		Client:    id,
		Seq:       seq,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		outcome.Err = &ClientRequestError{Client: id, Seq: seq, Err: err}
		return outcome
	}

	outcome.Status = resp.StatusCode()
	if outcome.Status != fasthttp.StatusOK {
		outcome.Err = &ClientRequestError{Client: id, Seq: seq, Status: outcome.Status}
	}
	return outcome
}

func (g *Generator) account(o Outcome) {
	g.stats.sent.Add(1)

	fields := log.Fields{
		"client":  o.Client,
		"request": o.Seq,
		"status":  o.Status,
		"latency": o.Latency,
	}
	switch {
	case o.Status == fasthttp.StatusOK:
		g.stats.ok.Add(1)
		log.WithFields(fields).Debug("Request completed")
	case o.Status == fasthttp.StatusTooManyRequests:
		g.stats.rejected.Add(1)
		log.WithFields(fields).Debug("Request rejected")
	default:
		g.stats.failed.Add(1)
		log.WithFields(fields).WithError(o.Err).Warn("Request failed")
	}
}

func (g *Generator) newProgressBar(total int) *progressbar.ProgressBar {
	if !g.config.Progress {
		return nil
	}
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(g.config.ProgressWriter),
		progressbar.OptionThrottle(time.Second/3),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("req"),
		progressbar.OptionSetDescription(fmt.Sprintf("%d clients", g.config.Clients)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
