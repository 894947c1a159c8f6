package scanner

import (
	"context"
	"io"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// Sampler tunes to hz and returns the strength measured there.
type Sampler func(ctx context.Context, hz int64) (Reading, error)

// WithPeakLogger sets the logger for the peak locator
func WithPeakLogger(logger *slog.Logger) func(*PeakLocator) {
	return func(p *PeakLocator) {
		p.logger = logger
	}
}

// WithMaxPasses overrides the pass limit of the peak locator
func WithMaxPasses(n int) func(*PeakLocator) {
	return func(p *PeakLocator) {
		if n > 0 {
			p.maxPasses = n
		}
	}
}

// PeakLocator converges on the strongest frequency of a candidate run by
// resampling a shrinking window in alternating directions. Samples from all
// passes are pooled, so the point where repeated samples agree wins over a
// single lucky reading.
type PeakLocator struct {
	sample    Sampler
	step      int64
	maxPasses int
	logger    *slog.Logger
}

func NewPeakLocator(sample Sampler, step int64, options ...func(*PeakLocator)) *PeakLocator {
	p := PeakLocator{
		sample:    sample,
		step:      max(step, 1),
		maxPasses: MaxPeakPasses,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// FindPeak searches [begHz, topHz+step] and returns the best averaged sample
// along with the number of passes taken. It stops once the best sample is
// unchanged for one pass, when a single frequency is left, or after the pass
// limit, in which case the best sample so far is returned.
func (p *PeakLocator) FindPeak(ctx context.Context, begHz, topHz int64) (best Reading, passes int, err error) {
	lo, hi := begHz, topHz+p.step
	if lo > hi {
		lo, hi = hi, lo
	}

	pool := make(map[int64][]float64)
	forward := true
	stable := 0
	found := false

	for passes = 1; passes <= p.maxPasses; passes++ {
		if err = ctx.Err(); err != nil {
			return best, passes - 1, err
		}

		from, to := lo, hi
		if !forward {
			from, to = hi, lo
		}
		forward = !forward

		for hz := range Steps(from, to, p.step) {
			r, err := p.sample(ctx, hz)
			if err != nil {
				return best, passes, err
			}
			pool[hz] = append(pool[hz], r.StrengthDBFS)
		}

		averaged := averages(pool, lo, hi)
		peak := strongest(averaged)
		threshold := floorDB(meanDeviation(samples(pool, lo, hi), peak.StrengthDBFS))

		// trim weak ends, the peak itself always survives
		i, j := 0, len(averaged)-1
		for i < j && averaged[i].StrengthDBFS < peak.StrengthDBFS-threshold {
			i++
		}
		for j > i && averaged[j].StrengthDBFS < peak.StrengthDBFS-threshold {
			j--
		}
		averaged = averaged[i : j+1]
		lo, hi = averaged[0].FrequencyHz, averaged[len(averaged)-1].FrequencyHz

		current := strongest(averaged)
		if found && current.same(best) {
			stable++
		} else {
			stable = 0
		}
		best, found = current, true

		p.logger.Debug("peak pass",
			slog.Int("pass", passes),
			slog.String("window", spectrum.HzToDisplay(lo)+" - "+spectrum.HzToDisplay(hi)),
			slog.Float64("threshold", threshold),
			slog.Int64("best", best.FrequencyHz),
			slog.Float64("strength", best.StrengthDBFS),
		)

		if stable > 0 || len(averaged) == 1 {
			return best, passes, nil
		}
	}

	p.logger.Warn("peak search did not converge", slog.Int("passes", p.maxPasses))
	return best, p.maxPasses, nil
}

// averages returns the mean strength per frequency inside [lo, hi], ordered
// by frequency.
func averages(pool map[int64][]float64, lo, hi int64) []Reading {
	out := make([]Reading, 0, len(pool))
	for hz, values := range pool {
		if hz < lo || hz > hi {
			continue
		}
		out = append(out, Reading{FrequencyHz: hz, StrengthDBFS: stat.Mean(values, nil)})
	}

	slices.SortFunc(out, func(a, b Reading) int {
		return int(sign(a.FrequencyHz - b.FrequencyHz))
	})
	return out
}

// strongest returns the strongest reading, the lowest frequency on a tie.
func strongest(readings []Reading) Reading {
	best := readings[0]
	for _, r := range readings[1:] {
		if r.StrengthDBFS > best.StrengthDBFS {
			best = r
		}
	}
	return best
}

// samples returns every pooled sample taken inside [lo, hi].
func samples(pool map[int64][]float64, lo, hi int64) []float64 {
	var out []float64
	for hz, values := range pool {
		if hz >= lo && hz <= hi {
			out = append(out, values...)
		}
	}
	return out
}

// meanDeviation returns the mean absolute deviation of values from ref.
func meanDeviation(values []float64, ref float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - ref)
	}
	return stat.Mean(deviations, nil)
}
