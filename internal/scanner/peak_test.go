package scanner

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

const (
	peakStep   = 1_000
	peakCenter = 100_010_000
)

// bell is a noise free peak at peakCenter, -90 dBFS away from it.
func bell(hz int64) float64 {
	d := float64(hz-peakCenter) / peakStep
	return max(-50-2*d*d, -90)
}

func sampler(strength func(int64) float64) (Sampler, *int) {
	var calls int
	return func(ctx context.Context, hz int64) (Reading, error) {
		calls++
		return Reading{FrequencyHz: hz, StrengthDBFS: strength(hz)}, nil
	}, &calls
}

func TestFindPeak_Bell(t *testing.T) {
	tests := []struct {
		name string
		beg  int64
		top  int64
	}{
		{"centered window", peakCenter - 4*peakStep, peakCenter + 3*peakStep},
		{"peak at the top", peakCenter - 6*peakStep, peakCenter - peakStep},
		{"peak at the bottom", peakCenter, peakCenter + 5*peakStep},
		{"reversed bounds", peakCenter + 3*peakStep, peakCenter - 4*peakStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, _ := sampler(bell)
			p := NewPeakLocator(sample, peakStep)

			best, passes, err := p.FindPeak(context.Background(), tt.beg, tt.top)
			if err != nil {
				t.Fatalf("FindPeak failed: %v", err)
			}
			if passes < 1 || passes > MaxPeakPasses {
				t.Errorf("Unexpected number of passes %d", passes)
			}
			if best.FrequencyHz != peakCenter || best.StrengthDBFS != -50 {
				t.Errorf("Expected the peak at %d with -50 dBFS, got %d with %v", peakCenter, best.FrequencyHz, best.StrengthDBFS)
			}
		})
	}
}

func TestFindPeak_Noisy(t *testing.T) {
	for seed := range uint64(20) {
		rnd := rand.New(rand.NewPCG(seed, seed*31+7))
		noisy := func(hz int64) float64 {
			return bell(hz) + rnd.NormFloat64()*1.5
		}

		sample, _ := sampler(noisy)
		p := NewPeakLocator(sample, peakStep)

		best, passes, err := p.FindPeak(context.Background(), peakCenter-5*peakStep, peakCenter+4*peakStep)
		if err != nil {
			t.Fatalf("seed %d: FindPeak failed: %v", seed, err)
		}
		if passes > MaxPeakPasses {
			t.Errorf("seed %d: exceeded pass limit with %d passes", seed, passes)
		}
		if d := abs(best.FrequencyHz - peakCenter); d > peakStep {
			t.Errorf("seed %d: peak %d is more than one step from %d", seed, best.FrequencyHz, peakCenter)
		}
	}
}

func TestFindPeak_PassLimit(t *testing.T) {
	var calls int
	// both frequencies tie on every pass but the level drifts, so the best
	// sample never repeats and nothing is trimmed
	sample := func(ctx context.Context, hz int64) (Reading, error) {
		strength := -60 - float64(calls/2)
		calls++
		return Reading{FrequencyHz: hz, StrengthDBFS: strength}, nil
	}
	p := NewPeakLocator(sample, peakStep, WithMaxPasses(5))

	best, passes, err := p.FindPeak(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FindPeak failed: %v", err)
	}
	if passes != 5 || calls != 10 {
		t.Errorf("Expected 5 passes and 10 samples, got %d passes and %d samples", passes, calls)
	}
	if best.FrequencyHz != 0 {
		t.Errorf("Expected the lowest frequency on a tie, got %d", best.FrequencyHz)
	}
}

func TestFindPeak_SingleFrequency(t *testing.T) {
	sample, calls := sampler(bell)
	p := NewPeakLocator(sample, peakStep)

	// top one step below beg collapses the window to a single frequency
	best, passes, err := p.FindPeak(context.Background(), peakCenter, peakCenter-peakStep)
	if err != nil {
		t.Fatalf("FindPeak failed: %v", err)
	}
	if passes != 1 || *calls != 1 {
		t.Errorf("Expected a single pass with a single sample, got %d passes and %d samples", passes, *calls)
	}
	if best.FrequencyHz != peakCenter {
		t.Errorf("Expected %d, got %d", peakCenter, best.FrequencyHz)
	}
}

func TestFindPeak_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	sample := func(ctx context.Context, hz int64) (Reading, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return Reading{FrequencyHz: hz, StrengthDBFS: -60 + float64(calls%2)}, nil
	}
	p := NewPeakLocator(sample, peakStep)

	_, _, err := p.FindPeak(ctx, 0, 10*peakStep)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls > 11 {
		t.Errorf("Expected the search to stop after the first pass, got %d samples", calls)
	}
}

func TestFindPeak_SamplerError(t *testing.T) {
	boom := errors.New("boom")
	sample := func(ctx context.Context, hz int64) (Reading, error) {
		return Reading{}, boom
	}

	_, _, err := NewPeakLocator(sample, peakStep).FindPeak(context.Background(), 0, peakStep)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected sampler error, got %v", err)
	}
}

func TestMeanDeviation(t *testing.T) {
	if got := meanDeviation([]float64{-50, -60, -70}, -50); math.Abs(got-10) > 1e-9 {
		t.Errorf("meanDeviation() = %v, want 10", got)
	}
}

func TestMeanDeviation_EverySample(t *testing.T) {
	pool := map[int64][]float64{
		0:         {-50, -50},
		peakStep:  {-40, -80},
		-peakStep: {-90}, // outside the window
	}

	// the averages are -50 and -60, which would give a deviation of 5
	got := meanDeviation(samples(pool, 0, peakStep), -50)
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("meanDeviation() = %v, want 10", got)
	}
}
