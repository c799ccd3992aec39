package report

import (
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/loadgen"
	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Summary is the end-of-run report
type Summary struct {
	Final    metrics.Snapshot
	Admitted int64
	Dropped  int64
	Evicted  int64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration

	// Load is nil when the run stopped before the load generator started
	Load *loadgen.Result

	Interrupted bool
}

// Source is the aggregator view needed to build a summary
type Source interface {
	Sample(now time.Time) metrics.Snapshot
	Now() time.Time
	Admitted() int64
	Dropped() int64
	Evicted() int64
	LatencyPercentile(p float64) time.Duration
}

// Build takes the final sample and collects the run totals
func Build(src Source, load *loadgen.Result, interrupted bool) Summary {
	return Summary{
		Final:       src.Sample(src.Now()),
		Admitted:    src.Admitted(),
		Dropped:     src.Dropped(),
		Evicted:     src.Evicted(),
		LatencyP50:  src.LatencyPercentile(50),
		LatencyP95:  src.LatencyPercentile(95),
		LatencyP99:  src.LatencyPercentile(99),
		Load:        load,
		Interrupted: interrupted,
	}
}

// Accounted reports whether every answered client request shows up on the
// server side as either admitted or dropped.
func (s Summary) Accounted() bool {
	if s.Load == nil {
		return true
	}
	return int64(s.Load.OK+s.Load.Rejected) == s.Admitted+s.Dropped
}

// Log writes the summary through logrus
func (s Summary) Log() {
	log.Infof("Final metrics: RPS=%.2f, Avg Latency=%.4fs, Dropped=%d",
		s.Final.RequestsPerSecond, s.Final.AverageLatency, s.Final.Dropped)

	fields := log.Fields{
		"admitted":    s.Admitted,
		"dropped":     s.Dropped,
		"evicted":     s.Evicted,
		"p50_latency": s.LatencyP50,
		"p95_latency": s.LatencyP95,
		"p99_latency": s.LatencyP99,
		"interrupted": s.Interrupted,
	}
	if s.Load != nil {
		fields["sent"] = s.Load.Sent
		fields["planned"] = s.Load.Planned
		fields["ok"] = s.Load.OK
		fields["rejected"] = s.Load.Rejected
		fields["failed"] = s.Load.Failed
		fields["client_avg_latency"] = s.Load.MeanLatency()
		fields["achieved_rate"] = s.Load.AchievedRate()
	}
	log.WithFields(fields).Info("Run summary")

	if !s.Accounted() {
		log.WithFields(fields).Warn("Client and server request totals disagree")
	}
}
