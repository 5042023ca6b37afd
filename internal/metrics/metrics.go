// Package metrics exposes compile pipeline observations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cgast/jobproto/pkg/spec"
)

// Collector records outcomes, stage latency and diagnostic keywords of the
// compile pipeline. It satisfies spec.Recorder.
type Collector struct {
	compiles      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	diagnostics   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ spec.Recorder = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg. A nil reg
// registers with a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobproto_compiles_total",
			Help: "Total number of compile runs by outcome",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobproto_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"stage"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobproto_diagnostics_total",
			Help: "Validation diagnostics reported, by rule keyword",
		}, []string{"keyword"}),
		gatherer: reg,
	}

	reg.MustRegister(c.compiles)
	reg.MustRegister(c.stageDuration)
	reg.MustRegister(c.diagnostics)

	return c
}

func (c *Collector) ObserveStage(stage spec.Stage, elapsed time.Duration) {
	c.stageDuration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
}

func (c *Collector) RecordOutcome(outcome string) {
	c.compiles.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordDiagnostic(keyword string) {
	if keyword == "" {
		keyword = "unknown"
	}
	c.diagnostics.WithLabelValues(keyword).Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
