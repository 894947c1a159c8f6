package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "radio_scanner"

// Candidate outcomes
const (
	OutcomeSearched  = "searched"
	OutcomeLocked    = "locked"
	OutcomeOverlap   = "overlap"
	OutcomeBelowLock = "below_lock"
)

// Metrics holds the scanner collectors. A nil *Metrics is valid and records
// nothing, so components can take it unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec // Commands sent to the receiver (by command)
	commandErrors   *prometheus.CounterVec // Failed commands (by kind)
	commandDuration prometheus.Histogram   // Command round trip time
	steps           prometheus.Counter     // Range scanner steps sampled
	candidates      *prometheus.CounterVec // Candidate runs (by outcome)
	signals         prometheus.Counter     // Confirmed signals
	peakPasses      prometheus.Histogram   // Passes taken by the peak locator
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total commands sent to the receiver",
			},
			[]string{"command"},
		),
		commandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_errors_total",
				Help:      "Total failed receiver commands",
			},
			[]string{"kind"},
		),
		commandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Receiver command round trip time",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		steps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total frequency steps sampled by the range scanner",
			},
		),
		candidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Total candidate runs by outcome",
			},
			[]string{"outcome"},
		),
		signals: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Total confirmed signals",
			},
		),
		peakPasses: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "peak_passes",
				Help:      "Passes taken by the peak locator to converge",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21, 50, 100},
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command).Inc()
	m.commandDuration.Observe(d.Seconds())
}

func (m *Metrics) CommandError(kind string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Step() {
	if m == nil {
		return
	}
	m.steps.Inc()
}

func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Signal() {
	if m == nil {
		return
	}
	m.signals.Inc()
}

func (m *Metrics) PeakPasses(passes int) {
	if m == nil {
		return
	}
	m.peakPasses.Observe(float64(passes))
}
