package loadgen

import "time"

// Result aggregates the outcomes of a run
type Result struct {
	Outcomes []Outcome
	Duration time.Duration

	// Planned is the number of requests the run should have issued
	Planned  int
	Sent     int
	OK       int
	Rejected int
	Failed   int

	MinLatency time.Duration
	MaxLatency time.Duration
	sumLatency time.Duration
	answered   int
}

func newResult(outcomes []Outcome, duration time.Duration, planned int) *Result {
	r := &Result{
		Outcomes: outcomes,
		Duration: duration,
		Planned:  planned,
		Sent:     len(outcomes),
	}

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			r.OK++
		case o.Status == 429:
			r.Rejected++
		default:
			r.Failed++
		}

		// Latency stats cover every request that got an HTTP response
		if o.Status == 0 {
			continue
		}
		if r.MinLatency == 0 || o.Latency < r.MinLatency {
			r.MinLatency = o.Latency
		}
		if o.Latency > r.MaxLatency {
			r.MaxLatency = o.Latency
		}
		r.sumLatency += o.Latency
		r.answered++
	}
	return r
}

// MeanLatency returns the mean client-observed latency of answered requests
func (r *Result) MeanLatency() time.Duration {
	if r.answered == 0 {
		return 0
	}
	return r.sumLatency / time.Duration(r.answered)
}

// AchievedRate returns requests issued per second over the whole run
func (r *Result) AchievedRate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Sent) / r.Duration.Seconds()
}

// Complete reports whether every planned request was issued
func (r *Result) Complete() bool { return r.Sent == r.Planned }
