// Package metrics records compiler activity on a private Prometheus registry.
//
// Metrics:
//   - rdt_compile_duration_seconds: time spent per pipeline stage
//   - rdt_compile_objects_total: resolved objects by kind
//   - rdt_compile_errors_total: diagnostics by kind
//   - rdt_cache_hits_total and rdt_cache_misses_total: compile cache lookups
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marte-community/register-dev-tools/internal/diag"
)

const namespace = "rdt"

// Stage names used for the duration histogram.
const (
	StageLoad     = "load"
	StageSchema   = "schema"
	StageConfig   = "config"
	StageModel    = "model"
	StageResolve  = "resolve"
	StageValidate = "validate"
	StageCodegen  = "codegen"
)

type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	objects       *prometheus.CounterVec
	errors        *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "compile",
				Name:      "duration_seconds",
				Help:      "Time spent in each compiler stage",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"stage"},
		),
		objects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compile",
				Name:      "objects_total",
				Help:      "Resolved objects by kind",
			},
			[]string{"kind"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compile",
				Name:      "errors_total",
				Help:      "Diagnostics reported by kind",
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Compile cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Compile cache misses",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.objects, m.errors, m.cacheHits, m.cacheMisses)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Time starts a stage timer; call the returned func when the stage ends.
func (m *Metrics) Time(stage string) func() {
	start := time.Now()
	return func() { m.ObserveStage(stage, time.Since(start)) }
}

func (m *Metrics) CountObjects(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.objects.WithLabelValues(kind).Add(float64(n))
}

// CountErrors adds one per diagnostic in err. Errors that are not
// diagnostics count under "other".
func (m *Metrics) CountErrors(err error) {
	if m == nil || err == nil {
		return
	}
	var l *diag.List
	if errors.As(err, &l) {
		for _, e := range l.Errors {
			m.errors.WithLabelValues(e.Kind.String()).Inc()
		}
		return
	}
	var e *diag.Error
	if errors.As(err, &e) {
		m.errors.WithLabelValues(e.Kind.String()).Inc()
		return
	}
	m.errors.WithLabelValues("other").Inc()
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
