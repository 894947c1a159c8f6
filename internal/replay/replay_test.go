package replay

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// rig answers every command like a receiver without optional gain stages.
type rig struct {
	hz       int64
	mode     string
	passband int64
	commands []string
	closed   bool
}

func (r *rig) Execute(ctx context.Context, command, expect string) (receiver.Reply, error) {
	r.commands = append(r.commands, command)

	fields := strings.Fields(command)
	lines := []string{receiver.AckOK}

	switch fields[0] {
	case "F":
		r.hz, _ = strconv.ParseInt(fields[1], 10, 64)
	case "f":
		lines = []string{strconv.FormatInt(r.hz, 10)}
	case "M":
		r.mode = fields[1]
		r.passband, _ = strconv.ParseInt(fields[2], 10, 64)
	case "m":
		lines = []string{r.mode, strconv.FormatInt(r.passband, 10)}
	case "l":
		lines = []string{"-42.04"}
	}

	return receiver.Reply{Lines: lines}, nil
}

func (r *rig) Close() error {
	r.closed = true
	return nil
}

func newReplayer(r *rig, pauser Pauser) *Replayer {
	return New(receiver.NewController(r, receiver.WithSettleTimes(0, 0)), pauser)
}

func TestReplayer_Run(t *testing.T) {
	rf := 20.0
	signals := []spectrum.Signal{
		{FrequencyHz: 433_920_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000, StrengthDBFS: -40},
		{FrequencyHz: 145_500_000, Mode: spectrum.ModeFM, BandwidthHz: 12_500, StrengthDBFS: -55, Gains: spectrum.Gains{RF: &rf}},
	}

	r := &rig{}
	var visited []int64
	pauser := PauserFunc(func(ctx context.Context, index, total int, signal spectrum.Signal, state *spectrum.FrequencyState) (bool, error) {
		if total != 2 {
			t.Errorf("Expected total 2, got %d", total)
		}
		if state.FrequencyHz != signal.FrequencyHz || state.Mode != signal.Mode || state.BandwidthHz != signal.BandwidthHz {
			t.Errorf("Receiver state %+v does not match signal %+v", state, signal)
		}
		if state.StrengthDBFS == nil || *state.StrengthDBFS != -42.0 {
			t.Errorf("Expected the live strength to be read back")
		}
		visited = append(visited, signal.FrequencyHz)
		return true, nil
	})

	n, err := newReplayer(r, pauser).Run(context.Background(), signals)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 signals visited, got %d", n)
	}
	if !slices.Equal(visited, []int64{145_500_000, 433_920_000}) {
		t.Errorf("Expected frequency order, got %v", visited)
	}
	if signals[0].FrequencyHz != 433_920_000 {
		t.Errorf("Expected the input slice to be left untouched")
	}
	if !slices.Contains(r.commands, "L RF_GAIN 20") || !slices.Contains(r.commands, "M AM 10000") {
		t.Errorf("Expected mode and gains to be restored, got %v", r.commands)
	}
	if !r.closed {
		t.Errorf("Expected the connection to be closed")
	}
}

func TestReplayer_Quit(t *testing.T) {
	signals := []spectrum.Signal{
		{FrequencyHz: 1_000_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000},
		{FrequencyHz: 2_000_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000},
	}

	r := &rig{}
	quit := PauserFunc(func(context.Context, int, int, spectrum.Signal, *spectrum.FrequencyState) (bool, error) {
		return false, nil
	})

	n, err := newReplayer(r, quit).Run(context.Background(), signals)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the replay to stop after one signal, got %d", n)
	}
	if slices.Contains(r.commands, "F 2000000") {
		t.Errorf("Expected the second signal not to be tuned")
	}
	if !r.closed {
		t.Errorf("Expected the connection to be closed")
	}
}

func TestReplayer_InvalidSignal(t *testing.T) {
	r := &rig{}
	next := PauserFunc(func(context.Context, int, int, spectrum.Signal, *spectrum.FrequencyState) (bool, error) {
		return true, nil
	})

	_, err := newReplayer(r, next).Run(context.Background(), []spectrum.Signal{{FrequencyHz: 1_000_000, Mode: "FMN", BandwidthHz: 10_000}})
	if !errors.Is(err, receiver.ErrInvalidConfiguration) {
		t.Fatalf("Expected ErrInvalidConfiguration, got %v", err)
	}
	if len(r.commands) != 0 {
		t.Errorf("Expected no commands, got %v", r.commands)
	}
}

func TestReplayer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := []spectrum.Signal{
		{FrequencyHz: 1_000_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000},
		{FrequencyHz: 2_000_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000},
	}
	cancelling := PauserFunc(func(context.Context, int, int, spectrum.Signal, *spectrum.FrequencyState) (bool, error) {
		cancel()
		return true, nil
	})

	n, err := newReplayer(&rig{}, cancelling).Run(ctx, signals)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if n != 1 {
		t.Errorf("Expected one signal visited, got %d", n)
	}
}
