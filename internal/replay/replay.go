package replay

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// Pauser holds the replay on a tuned signal until the operator moves on.
// It returns false to stop the replay.
type Pauser interface {
	Pause(ctx context.Context, index, total int, signal spectrum.Signal, state *spectrum.FrequencyState) (next bool, err error)
}

// PauserFunc adapts a function to Pauser
type PauserFunc func(ctx context.Context, index, total int, signal spectrum.Signal, state *spectrum.FrequencyState) (bool, error)

func (f PauserFunc) Pause(ctx context.Context, index, total int, signal spectrum.Signal, state *spectrum.FrequencyState) (bool, error) {
	return f(ctx, index, total, signal, state)
}

// WithLogger sets the logger for the replayer
func WithLogger(logger *slog.Logger) func(*Replayer) {
	return func(r *Replayer) {
		r.logger = logger
	}
}

// Replayer re-tunes the receiver to previously detected signals, one at a
// time, in frequency order.
type Replayer struct {
	ctrl   *receiver.Controller
	pauser Pauser
	logger *slog.Logger
}

func New(ctrl *receiver.Controller, pauser Pauser, options ...func(*Replayer)) *Replayer {
	r := Replayer{
		ctrl:   ctrl,
		pauser: pauser,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run replays signals and returns the number of signals visited. The
// connection is closed on return.
func (r *Replayer) Run(ctx context.Context, signals []spectrum.Signal) (visited int, err error) {
	defer func() {
		if cErr := r.ctrl.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing connection: %w", cErr)
		}
	}()

	ordered := slices.SortedStableFunc(slices.Values(signals), func(a, b spectrum.Signal) int {
		return cmp.Compare(a.FrequencyHz, b.FrequencyHz)
	})

	for i, signal := range ordered {
		if err = ctx.Err(); err != nil {
			return visited, err
		}

		var state *spectrum.FrequencyState
		if state, err = r.tune(ctx, signal); err != nil {
			return visited, fmt.Errorf("tuning %s: %w", spectrum.HzToDisplay(signal.FrequencyHz), err)
		}
		visited++

		attrs := []any{
			slog.Int("signal", i+1),
			slog.Int("of", len(ordered)),
			slog.String("frequency", spectrum.HumanHz(float64(state.FrequencyHz))),
			slog.String("mode", state.Mode.String()),
			slog.Float64("recorded_strength", signal.StrengthDBFS),
		}
		if state.StrengthDBFS != nil {
			attrs = append(attrs, slog.Float64("strength", *state.StrengthDBFS))
		}
		if signal.AIAnalysis != nil {
			attrs = append(attrs, slog.String("analysis", *signal.AIAnalysis))
		}
		r.logger.Info("replaying", attrs...)

		var next bool
		if next, err = r.pauser.Pause(ctx, i, len(ordered), signal, state); err != nil {
			return visited, err
		}
		if !next {
			r.logger.Info("replay stopped")
			return visited, nil
		}
	}

	return visited, nil
}

// tune restores the full receiver state of signal on the open connection.
func (r *Replayer) tune(ctx context.Context, signal spectrum.Signal) (*spectrum.FrequencyState, error) {
	req := receiver.TuneRequest{
		FrequencyHz: signal.FrequencyHz,
		Mode:        signal.Mode,
		BandwidthHz: signal.BandwidthHz,
		KeepAlive:   true,
	}
	if err := r.ctrl.Validate(req); err != nil {
		return nil, err
	}

	if err := r.ctrl.SetMode(ctx, signal.Mode, signal.BandwidthHz); err != nil {
		return nil, fmt.Errorf("setting mode: %w", err)
	}
	if _, err := r.ctrl.SetGains(ctx, signal.Gains); err != nil {
		return nil, err
	}

	return r.ctrl.InitFrequency(ctx, req)
}
