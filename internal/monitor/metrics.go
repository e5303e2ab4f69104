package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the compiler.
type Metrics struct {
	Registry *prometheus.Registry

	CompilationsTotal   *prometheus.CounterVec
	CompilationDuration *prometheus.HistogramVec
	CompilationErrors   *prometheus.CounterVec
	FilterGroups        prometheus.Counter
	Rules               *prometheus.CounterVec
	ProgramInstructions prometheus.Histogram
	ArtifactSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CompilationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seccompiler",
				Name:      "compilations_total",
				Help:      "Total number of compilation runs by target architecture and status.",
			},
			[]string{"arch", "status"},
		),

		CompilationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "seccompiler",
				Name:      "compilation_duration_seconds",
				Help:      "Duration of compilation runs in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"arch"},
		),

		CompilationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seccompiler",
				Name:      "compilation_errors_total",
				Help:      "Total compilation failures by error kind.",
			},
			[]string{"type"},
		),

		FilterGroups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "seccompiler",
				Name:      "filter_groups_total",
				Help:      "Total filter groups compiled into programs.",
			},
		),

		Rules: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seccompiler",
				Name:      "rules_total",
				Help:      "Total rules handed to the backend by kind.",
			},
			[]string{"kind"},
		),

		ProgramInstructions: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "seccompiler",
				Name:      "program_instructions",
				Help:      "Number of BPF instructions per compiled program.",
				Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
			},
		),

		ArtifactSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "seccompiler",
				Name:      "artifact_size_bytes",
				Help:      "Size of written artifacts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.CompilationsTotal,
		m.CompilationDuration,
		m.CompilationErrors,
		m.FilterGroups,
		m.Rules,
		m.ProgramInstructions,
		m.ArtifactSizeBytes,
	)

	return m
}

// RecordCompilation records metrics for a finished run.
func (m *Metrics) RecordCompilation(arch, status string, durationSec float64) {
	m.CompilationsTotal.WithLabelValues(arch, status).Inc()
	m.CompilationDuration.WithLabelValues(arch).Observe(durationSec)
}

// RecordError records a compilation failure by kind.
func (m *Metrics) RecordError(errType string) {
	m.CompilationErrors.WithLabelValues(errType).Inc()
}

// RecordGroup records one compiled filter group.
func (m *Metrics) RecordGroup(unconditional, conditional, instructions int) {
	m.FilterGroups.Inc()
	m.Rules.WithLabelValues("unconditional").Add(float64(unconditional))
	m.Rules.WithLabelValues("conditional").Add(float64(conditional))
	m.ProgramInstructions.Observe(float64(instructions))
}

// RecordArtifact records the size of a written artifact.
func (m *Metrics) RecordArtifact(size int) {
	m.ArtifactSizeBytes.Observe(float64(size))
}

// WriteTextfile dumps the registry in text exposition format for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
