package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for one linkboard process. A nil
// *Collector is valid and records nothing, so components can be built
// without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	AnalysisRuns         *prometheus.CounterVec
	CollaboratorDuration prometheus.Histogram
	PersistFailures      *prometheus.CounterVec
	BinaryWrites         prometheus.Counter
	MetadataSaves        prometheus.Counter
}

// New creates a collector with its own registry under the given namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		AnalysisRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_runs_total",
				Help:      "Analysis rounds by layer and outcome",
			},
			[]string{"layer", "outcome"},
		),
		CollaboratorDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "collaborator_duration_seconds",
				Help:      "Relationship finder call latency",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Persistence failures by tier and kind",
			},
			[]string{"tier", "kind"},
		),
		BinaryWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "binary_writes_total",
				Help:      "Binary payloads written to the binary tier",
			},
		),
		MetadataSaves: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_saves_total",
				Help:      "Successful metadata record writes",
			},
		),
	}

	registry.MustRegister(
		c.AnalysisRuns,
		c.CollaboratorDuration,
		c.PersistFailures,
		c.BinaryWrites,
		c.MetadataSaves,
		prometheus.NewGoCollector(),
	)
	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collector) AnalysisOutcome(layer, outcome string) {
	if c == nil {
		return
	}
	c.AnalysisRuns.WithLabelValues(layer, outcome).Inc()
}

func (c *Collector) ObserveCollaborator(d time.Duration) {
	if c == nil {
		return
	}
	c.CollaboratorDuration.Observe(d.Seconds())
}

func (c *Collector) PersistFailure(tier, kind string) {
	if c == nil {
		return
	}
	c.PersistFailures.WithLabelValues(tier, kind).Inc()
}

func (c *Collector) BinaryWritten() {
	if c == nil {
		return
	}
	c.BinaryWrites.Inc()
}

func (c *Collector) MetadataSaved() {
	if c == nil {
		return
	}
	c.MetadataSaves.Inc()
}
