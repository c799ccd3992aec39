// Package orchestrator sequences a simulation run: server startup, live
// monitoring, load generation, settling, reporting and shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/admission"
	"github.com/Milad-Afdasta/ratewindow/internal/config"
	"github.com/Milad-Afdasta/ratewindow/internal/loadgen"
	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	"github.com/Milad-Afdasta/ratewindow/internal/monitor"
	"github.com/Milad-Afdasta/ratewindow/internal/report"
	"github.com/Milad-Afdasta/ratewindow/internal/server"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Run stages
const (
	StageConfig   = "config"
	StageListen   = "listen"
	StageReady    = "ready"
	StageLoad     = "load"
	StageServe    = "serve"
	StageShutdown = "shutdown"
	StageExport   = "export"
)

const (
	metricsNamespace = "ratewindow"
	shutdownTimeout  = 5 * time.Second
)

// StageError is a fatal error tagged with the stage that produced it
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Orchestrator owns every component of a run
type Orchestrator struct {
	config     *config.Config
	aggregator *metrics.Aggregator
	exporter   *metrics.Exporter
	controller *admission.Controller
	server     *server.Server
}

// New validates cfg and builds the components without touching the network
func New(cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &StageError{Stage: StageConfig, Err: err}
	}

	agg, err := metrics.NewAggregator(metrics.Options{
		Window:        cfg.Window(),
		Capacity:      cfg.CounterCapacity(),
		RecordHistory: cfg.RecordHistory,
	})
	if err != nil {
		return nil, &StageError{Stage: StageConfig, Err: err}
	}

	exporter := metrics.NewExporter(metricsNamespace, agg)
	controller := admission.NewController(agg, cfg.Threshold,
		admission.WithPolicy(cfg.Policy()),
		admission.WithObserver(exporter),
	)
	srv := server.New(server.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	}, controller, agg, exporter)

	return &Orchestrator{
		config:     cfg,
		aggregator: agg,
		exporter:   exporter,
		controller: controller,
		server:     srv,
	}, nil
}

// Aggregator exposes the run metrics
func (o *Orchestrator) Aggregator() *metrics.Aggregator { return o.aggregator }

// Run executes one simulation. Cancelling ctx stops the load early; the
// summary is still produced and marked interrupted. Only failures to bind,
// start or export are returned as errors.
func (o *Orchestrator) Run(ctx context.Context) (report.Summary, error) {
	cfg := o.config

	if err := o.server.Listen(); err != nil {
		return report.Summary{}, &StageError{Stage: StageListen, Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(o.server.Serve)

	if err := o.server.WaitReady(gctx, cfg.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			log.Warn("Run interrupted before the server was ready")
			summary := report.Build(o.aggregator, nil, true)
			summary.Log()
			return summary, o.shutdown(g)
		}
		o.shutdown(g)
		return report.Summary{}, &StageError{Stage: StageReady, Err: err}
	}

	log.WithFields(log.Fields{
		"clients":   cfg.Clients,
		"requests":  cfg.RequestsPerClient,
		"rate":      cfg.Rate,
		"threshold": cfg.Threshold,
		"window":    cfg.Window(),
		"capacity":  cfg.CounterCapacity(),
		"policy":    cfg.Policy(),
	}).Info("Starting simulation")

	pollCtx, stopPolling := context.WithCancel(gctx)
	poller := monitor.NewPoller(o.server.URL()+"/metrics", cfg.PollInterval)
	g.Go(func() error {
		poller.Start(pollCtx)
		return nil
	})

	gen, err := loadgen.New(loadgen.Config{
		Clients:           cfg.Clients,
		RequestsPerClient: cfg.RequestsPerClient,
		Rate:              cfg.Rate,
		Target:            o.server.URL() + "/",
		Timeout:           cfg.Timeout,
		Progress:          cfg.Progress,
	})
	if err != nil {
		stopPolling()
		o.shutdown(g)
		return report.Summary{}, &StageError{Stage: StageLoad, Err: err}
	}

	result := gen.Run(gctx)
	log.WithFields(log.Fields{
		"sent":     result.Sent,
		"duration": result.Duration,
	}).Info("Load generation finished")

	if !sleepCtx(gctx, cfg.Settle) {
		log.Warn("Settle delay cut short")
	}
	stopPolling()

	interrupted := ctx.Err() != nil || !result.Complete()
	if interrupted {
		log.Warn("Run interrupted, reporting partial results")
	}

	summary := report.Build(o.aggregator, result, interrupted)
	summary.Log()

	if total, failed := poller.Polls(); total > 0 {
		log.WithFields(log.Fields{
			"polls":  total,
			"failed": failed,
		}).Debug("Monitor finished")
	}

	if err := o.shutdown(g); err != nil {
		return summary, err
	}
	if err := o.export(result); err != nil {
		return summary, &StageError{Stage: StageExport, Err: err}
	}
	return summary, nil
}

// shutdown stops the server and waits for the serve and poll goroutines
func (o *Orchestrator) shutdown(g *errgroup.Group) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := o.server.Shutdown(ctx)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return &StageError{Stage: StageServe, Err: err}
	}
	if shutdownErr != nil {
		return &StageError{Stage: StageShutdown, Err: shutdownErr}
	}
	log.Info("Server stopped")
	return nil
}

func (o *Orchestrator) export(result *loadgen.Result) error {
	cfg := o.config

	if cfg.HistoryOut != "" {
		h := report.History{
			ThresholdRPS:  cfg.Threshold,
			WindowSeconds: cfg.WindowSeconds,
			Samples:       o.aggregator.History(),
		}
		if err := report.WriteHistory(cfg.HistoryOut, cfg.Format(), h); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		log.WithFields(log.Fields{
			"path":    cfg.HistoryOut,
			"format":  cfg.Format(),
			"samples": len(h.Samples),
		}).Info("History written")
	}

	if cfg.OutcomesOut != "" && result != nil {
		if err := report.WriteOutcomes(cfg.OutcomesOut, result.Outcomes); err != nil {
			return fmt.Errorf("failed to write outcomes: %w", err)
		}
		log.WithFields(log.Fields{
			"path":     cfg.OutcomesOut,
			"outcomes": len(result.Outcomes),
		}).Info("Outcomes written")
	}
	return nil
}

// Run builds an orchestrator for cfg and executes it
func Run(ctx context.Context, cfg *config.Config) (report.Summary, error) {
	o, err := New(cfg)
	if err != nil {
		return report.Summary{}, err
	}
	return o.Run(ctx)
}

// sleepCtx waits for d and reports whether it elapsed before ctx was done
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
