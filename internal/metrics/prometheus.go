package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes aggregator state in Prometheus format
type Exporter struct {
	registry *prometheus.Registry

	decisions *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewExporter creates an exporter backed by its own registry so that several
// simulator instances can live in one process (tests).
func NewExporter(namespace string, agg *Aggregator) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admitted_latency_seconds",
				Help:      "Handling latency of admitted requests",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
			},
		),
	}

	rps := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_per_second",
			Help:      "Admitted requests per second over the trailing window",
		},
		func() float64 { return agg.Current().RequestsPerSecond },
	)
	avgLatency := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_latency_seconds",
			Help:      "Mean latency of retained admitted samples",
		},
		func() float64 { return agg.Current().AverageLatency },
	)
	evicted := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_evictions_total",
			Help:      "Request timestamps evicted by the counter capacity",
		},
		func() float64 { return float64(agg.Evicted()) },
	)

	e.registry.MustRegister(e.decisions, e.latency, rps, avgLatency, evicted)
	return e
}

// ObserveAdmitted records an admitted request
func (e *Exporter) ObserveAdmitted(latency time.Duration) {
	e.decisions.WithLabelValues("admitted").Inc()
	e.latency.Observe(latency.Seconds())
}

// ObserveDropped records a rejected request
func (e *Exporter) ObserveDropped() {
	e.decisions.WithLabelValues("dropped").Inc()
}

// Handler serves the registry
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
