package metrics

import (
	"fmt"
	"math"
	"time"
)

// Snapshot is a point-in-time read of the aggregated metrics
type Snapshot struct {
	RequestsPerSecond float64   `json:"requests_per_second" yaml:"requests_per_second"`
	AverageLatency    float64   `json:"average_latency" yaml:"average_latency"`
	Dropped           int64     `json:"dropped_requests" yaml:"dropped_requests"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
}

// InconsistencyError reports aggregated state that can only come from a
// synchronization defect, e.g. a negative counter.
type InconsistencyError struct {
	Field string
	Value interface{}
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("metrics inconsistency: %s = %v", e.Field, e.Value)
}

// Validate checks the snapshot invariants
func (s Snapshot) Validate() error {
	if s.RequestsPerSecond < 0 || math.IsNaN(s.RequestsPerSecond) || math.IsInf(s.RequestsPerSecond, 0) {
		return &InconsistencyError{Field: "requests_per_second", Value: s.RequestsPerSecond}
	}
	if s.AverageLatency < 0 || math.IsNaN(s.AverageLatency) || math.IsInf(s.AverageLatency, 0) {
		return &InconsistencyError{Field: "average_latency", Value: s.AverageLatency}
	}
	if s.Dropped < 0 {
		return &InconsistencyError{Field: "dropped_requests", Value: s.Dropped}
	}
	return nil
}
