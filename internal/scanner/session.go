package scanner

import (
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

const (
	DefaultPrecision    = 4
	DefaultBandwidthHz  = 160_000
	DefaultStrengthLock = -70.0
	DefaultSquelch      = -80.0

	MinPrecision = 1
	MaxPrecision = 10

	// HistoryCapacity is the length of the trailing strength history
	HistoryCapacity = 5

	// MaxPeakPasses bounds the peak locator
	MaxPeakPasses = 100
)

// Session describes one range scan.
type Session struct {
	ID                string
	StartHz           int64
	TargetHz          int64
	Precision         int // step is 10^(precision-1) Hz
	Mode              spectrum.DemodulatorMode
	BandwidthHz       int64
	StrengthLock      float64 // dBFS a step must reach to join a candidate run
	Squelch           float64 // dBFS
	OverlapProtection bool
	Gains             spectrum.Gains
	LogPath           string

	Decoder        string
	RecordDir      string
	RecordDuration time.Duration
}

// Step returns the scan granularity in Hz.
func (s *Session) Step() int64 {
	step := int64(1)
	for i := 1; i < s.Precision; i++ {
		step *= 10
	}
	return step
}

// Direction returns +1 when scanning up, -1 when scanning down and 0 when
// start and target are equal.
func (s *Session) Direction() int64 {
	return sign(s.TargetHz - s.StartHz)
}

// Steps returns the frequencies visited by the session.
func (s *Session) Steps() iter.Seq[int64] {
	return Steps(s.StartHz, s.TargetHz, s.Step())
}

func (s *Session) Validate() error {
	if s.StartHz < 0 || s.TargetHz < 0 {
		return fmt.Errorf("scanner.Session: frequencies must not be negative: %d, %d", s.StartHz, s.TargetHz)
	}
	if s.Precision < MinPrecision || s.Precision > MaxPrecision {
		return fmt.Errorf("scanner.Session: precision must be between %d and %d, %d given", MinPrecision, MaxPrecision, s.Precision)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("scanner.Session: invalid demodulator mode %q", s.Mode)
	}
	if s.BandwidthHz <= 0 {
		return fmt.Errorf("scanner.Session: bandwidth must be positive, %d given", s.BandwidthHz)
	}
	if s.LogPath == "" {
		return fmt.Errorf("scanner.Session: log path is required")
	}
	if s.Decoder != "" && s.RecordDir == "" {
		return fmt.Errorf("scanner.Session: decoder %q requires a record directory", s.Decoder)
	}
	return nil
}

// Steps yields every frequency from start to target inclusive, step Hz apart,
// in the direction of target. Equal start and target yield start once.
func Steps(start, target, step int64) iter.Seq[int64] {
	if step < 1 {
		step = 1
	}
	dir := sign(target - start)

	return func(yield func(int64) bool) {
		if dir == 0 {
			yield(start)
			return
		}

		n := abs(target-start) / step
		for i := int64(0); i <= n; i++ {
			if !yield(start + i*step*dir) {
				return
			}
		}
	}
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// floorDB floors a dB value to one decimal place.
func floorDB(v float64) float64 {
	return math.Floor(v*10) / 10
}
