package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/analysis"
	"github.com/roman-kulish/radio-scanner/internal/metrics"
	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/signallog"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
	"github.com/roman-kulish/radio-scanner/internal/telemetry"
)

// Sink receives scan results as they are produced. Sink errors are logged and
// never abort a scan.
type Sink interface {
	Sample(ctx context.Context, r Reading) error
	Signal(ctx context.Context, s spectrum.Signal) error
}

// WithLogger sets the logger for the scanner
func WithLogger(logger *slog.Logger) func(*Scanner) {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors updated by the scanner
func WithMetrics(m *metrics.Metrics) func(*Scanner) {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// WithAnalyzer enables analysis of every locked signal
func WithAnalyzer(a analysis.Analyzer) func(*Scanner) {
	return func(s *Scanner) {
		s.analyzer = a
	}
}

// WithLocation sets the provider of the location hint passed to the analyzer
func WithLocation(p telemetry.Provider) func(*Scanner) {
	return func(s *Scanner) {
		s.location = p
	}
}

// WithSinks adds result sinks
func WithSinks(sinks ...Sink) func(*Scanner) {
	return func(s *Scanner) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithScannerMaxPasses overrides the pass limit of the peak locator
func WithScannerMaxPasses(n int) func(*Scanner) {
	return func(s *Scanner) {
		if n > 0 {
			s.maxPasses = n
		}
	}
}

// Scanner sweeps a frequency range and locks onto the peaks above the lock
// level. It owns the controller for the duration of Run.
type Scanner struct {
	ctrl    *receiver.Controller
	session Session

	analyzer  analysis.Analyzer
	location  telemetry.Provider
	sinks     []Sink
	maxPasses int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(ctrl *receiver.Controller, session Session, options ...func(*Scanner)) *Scanner {
	s := Scanner{
		ctrl:      ctrl,
		session:   session,
		maxPasses: MaxPeakPasses,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// scan holds the state of one Run.
type scan struct {
	log       *signallog.ScanLog
	history   *History
	window    CandidateWindow
	locator   *PeakLocator
	prev      float64 // previous sample, survives the history reset
	lastLock  int64
	hasLocked bool
}

// Run scans the session range. The log is flushed on start, after every
// detection and on return, so it retains every signal found before a
// failure. The controller is closed on return.
func (s *Scanner) Run(ctx context.Context) (log *signallog.ScanLog, err error) {
	if err = s.validate(); err != nil {
		return nil, err
	}

	defer func() {
		if cErr := s.ctrl.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing connection: %w", cErr)
		}
	}()

	log = signallog.New(s.session.ID, s.now())
	if err = log.Flush(s.session.LogPath); err != nil {
		return nil, err
	}
	defer func() {
		log.Touch(s.now())
		if fErr := log.Flush(s.session.LogPath); fErr != nil && err == nil {
			err = fErr
		}
	}()

	if err = s.prepare(ctx); err != nil {
		return log, err
	}

	st := scan{
		log:     log,
		history: NewHistory(HistoryCapacity),
		prev:    math.Inf(-1),
		locator: NewPeakLocator(s.sample, s.session.Step(),
			WithPeakLogger(s.logger),
			WithMaxPasses(s.maxPasses),
		),
	}

	s.logger.Info("scan started",
		slog.String("from", spectrum.HumanHz(float64(s.session.StartHz))),
		slog.String("to", spectrum.HumanHz(float64(s.session.TargetHz))),
		slog.String("step", spectrum.HumanHz(float64(s.session.Step()))),
	)

	for hz := range s.session.Steps() {
		if err = ctx.Err(); err != nil {
			return log, err
		}

		var r Reading
		if r, err = s.sample(ctx, hz); err != nil {
			return log, err
		}
		s.metrics.Step()
		s.toSinks(func(sink Sink) error { return sink.Sample(ctx, r) })

		prev := st.prev
		st.prev = r.StrengthDBFS
		st.history.Push(r.StrengthDBFS)

		if r.StrengthDBFS >= s.session.StrengthLock && r.StrengthDBFS > prev {
			st.window.Add(r)
			continue
		}

		if st.window.Len() > 0 {
			if err = s.processCandidate(ctx, &st); err != nil {
				return log, err
			}
		}
	}

	if st.window.Len() > 0 {
		if err = s.processCandidate(ctx, &st); err != nil {
			return log, err
		}
	}

	s.logger.Info("scan complete",
		slog.Int("signals", len(log.Signals)),
		slog.String("duration", log.Duration),
	)

	return log, nil
}

func (s *Scanner) validate() error {
	if err := s.session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", receiver.ErrInvalidConfiguration, err)
	}

	return s.ctrl.Validate(s.lockRequest(s.session.StartHz))
}

// prepare sets squelch, mode and gains once for the whole scan.
func (s *Scanner) prepare(ctx context.Context) error {
	if err := s.ctrl.SetLevel(ctx, receiver.LevelSquelch, s.session.Squelch); err != nil {
		return fmt.Errorf("setting squelch: %w", err)
	}
	if err := s.ctrl.SetMode(ctx, s.session.Mode, s.session.BandwidthHz); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if _, err := s.ctrl.SetGains(ctx, s.session.Gains); err != nil {
		return err
	}
	return nil
}

// sample tunes to hz and reads the strength there.
func (s *Scanner) sample(ctx context.Context, hz int64) (Reading, error) {
	if err := s.ctrl.SetFrequency(ctx, hz); err != nil {
		return Reading{}, fmt.Errorf("tuning to %s: %w", spectrum.HzToDisplay(hz), err)
	}

	strength, err := s.ctrl.Strength(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("reading strength at %s: %w", spectrum.HzToDisplay(hz), err)
	}

	return Reading{FrequencyHz: hz, StrengthDBFS: strength, Timestamp: s.now()}, nil
}

// processCandidate searches the finished run for its peak and locks onto it.
// The run and the history are cleared whatever the outcome.
func (s *Scanner) processCandidate(ctx context.Context, st *scan) error {
	defer func() {
		st.window.Reset()
		st.history.Reset()
	}()

	step := s.session.Step()
	begHz, topHz := st.window.Bounds(step)
	average := st.history.Mean()

	logger := s.logger.With(
		slog.String("from", spectrum.HzToDisplay(begHz)),
		slog.String("to", spectrum.HzToDisplay(topHz+step)),
	)

	if s.session.OverlapProtection && st.hasLocked && abs(begHz-st.lastLock) < s.session.BandwidthHz/2 {
		logger.Debug("candidate overlaps the last lock", slog.Int64("last", st.lastLock))
		s.metrics.Candidate(metrics.OutcomeOverlap)
		return nil
	}

	s.metrics.Candidate(metrics.OutcomeSearched)

	peak, passes, err := st.locator.FindPeak(ctx, begHz, topHz)
	if err != nil {
		return fmt.Errorf("searching peak: %w", err)
	}
	s.metrics.PeakPasses(passes)

	if peak.StrengthDBFS <= s.session.StrengthLock {
		logger.Debug("peak below lock level", slog.Float64("strength", spectrum.RoundDB(peak.StrengthDBFS)))
		s.metrics.Candidate(metrics.OutcomeBelowLock)
		return nil
	}

	state, err := s.ctrl.InitFrequency(ctx, s.lockRequest(peak.FrequencyHz))
	if err != nil {
		return fmt.Errorf("locking %s: %w", spectrum.HzToDisplay(peak.FrequencyHz), err)
	}
	s.metrics.Candidate(metrics.OutcomeLocked)

	// the moving average of the run is the reported strength
	strength := average
	if math.IsNaN(strength) {
		strength = peak.StrengthDBFS
		if state.StrengthDBFS != nil {
			strength = *state.StrengthDBFS
		}
	}
	signal := s.analyze(ctx, spectrum.NewSignal(state, strength))

	st.log.Record(signal, s.now())
	if err = st.log.Flush(s.session.LogPath); err != nil {
		return err
	}
	st.lastLock, st.hasLocked = peak.FrequencyHz, true

	s.metrics.Signal()
	s.toSinks(func(sink Sink) error { return sink.Signal(ctx, signal) })

	logger.Info("signal locked",
		slog.String("frequency", spectrum.HumanHz(float64(signal.FrequencyHz))),
		slog.Float64("strength", signal.StrengthDBFS),
		slog.Int("passes", passes),
	)

	return nil
}

func (s *Scanner) lockRequest(hz int64) receiver.TuneRequest {
	return receiver.TuneRequest{
		FrequencyHz:    hz,
		Mode:           s.session.Mode,
		BandwidthHz:    s.session.BandwidthHz,
		Decoder:        s.session.Decoder,
		RecordDir:      s.session.RecordDir,
		RecordDuration: s.session.RecordDuration,
		KeepAlive:      true,
	}
}

// analyze annotates signal when an analyzer is configured. Failures leave
// the signal without an analysis.
func (s *Scanner) analyze(ctx context.Context, signal spectrum.Signal) spectrum.Signal {
	if s.analyzer == nil {
		return signal
	}

	metadata, err := json.Marshal(signal)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("encoding signal metadata: %s", err.Error()))
		return signal
	}

	var hint string
	if s.location != nil {
		hint = telemetry.LocationHint(s.location.Get())
	}

	text, err := s.analyzer.Analyze(ctx, metadata, hint)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("analysis failed: %s", err.Error()),
			slog.Int64("frequency", signal.FrequencyHz),
		)
		return signal
	}

	return signal.WithAnalysis(text)
}

func (s *Scanner) toSinks(fn func(Sink) error) {
	for _, sink := range s.sinks {
		if err := fn(sink); err != nil {
			s.logger.Warn(fmt.Sprintf("sink failed: %s", err.Error()))
		}
	}
}
