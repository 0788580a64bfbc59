// Package metrics records launch counters in a private Prometheus registry.
// A launcher exits right after its child, so instead of being scraped the
// registry is written to a node-exporter textfile on the way out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/sealaunch/internal/sweep"
)

// Metrics holds the launcher collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	selections         *prometheus.CounterVec
	extractionDuration prometheus.Histogram
	childExits         *prometheus.CounterVec
	childRuntime       prometheus.Histogram
	interrupts         prometheus.Counter
	sweptDirs          *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealaunch_generation_selections_total",
				Help: "Generation directories selected, by whether they were reused or extracted",
			},
			[]string{"mode"},
		),
		extractionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sealaunch_extraction_duration_seconds",
				Help:    "Time spent unpacking all artifacts into a new generation",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		childExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealaunch_child_exits_total",
				Help: "Child process exits by reason",
			},
			[]string{"reason"},
		),
		childRuntime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sealaunch_child_runtime_seconds",
				Help:    "Wall clock runtime of the child process",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
		),
		interrupts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sealaunch_interrupts_forwarded_total",
				Help: "Termination requests forwarded to the child process",
			},
		),
		sweptDirs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealaunch_sweep_directories_total",
				Help: "Stale generation directories handled by the sweeper, by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.selections,
		m.extractionDuration,
		m.childExits,
		m.childRuntime,
		m.interrupts,
		m.sweptDirs,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSelection records a reused or freshly extracted generation
func (m *Metrics) ObserveSelection(reused bool, extraction time.Duration) {
	if m == nil {
		return
	}
	if reused {
		m.selections.WithLabelValues("reused").Inc()
		return
	}
	m.selections.WithLabelValues("extracted").Inc()
	m.extractionDuration.Observe(extraction.Seconds())
}

// ObserveExit records how the child ended and how long it ran
func (m *Metrics) ObserveExit(reason string, runtime time.Duration) {
	if m == nil {
		return
	}
	m.childExits.WithLabelValues(reason).Inc()
	m.childRuntime.Observe(runtime.Seconds())
}

// ObserveInterrupt counts one forwarded interrupt
func (m *Metrics) ObserveInterrupt() {
	if m == nil {
		return
	}
	m.interrupts.Inc()
}

// ObserveSweep implements sweep.Observer
func (m *Metrics) ObserveSweep(r sweep.Report) {
	if m == nil {
		return
	}
	m.sweptDirs.WithLabelValues("removed").Add(float64(len(r.Removed)))
	m.sweptDirs.WithLabelValues("in_use").Add(float64(len(r.InUse)))
	m.sweptDirs.WithLabelValues("failed").Add(float64(len(r.Failed)))
}

// WriteTextfile writes every collected metric to path in the text
// exposition format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
