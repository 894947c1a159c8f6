package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

const (
	// DefaultPollInterval is how often the recording file is checked for new data
	DefaultPollInterval = 200 * time.Millisecond

	// waitDelay bounds the wait for the decoder to exit once its input is closed
	waitDelay = 5 * time.Second
)

// ErrUnknownDecoder is returned when a decoder key is not in the table
var ErrUnknownDecoder = errors.New("unknown decoder")

// Spec describes an external decoder process. The process reads the
// receiver's WAV recording on stdin and prints one decoded message per line.
type Spec struct {
	Name    string
	Command string
	Args    []string
}

// DefaultSpecs is the decoder table keyed by decoder identifier.
var DefaultSpecs = map[string]Spec{
	"pocsag": {
		Name:    "POCSAG",
		Command: "multimon-ng",
		Args:    []string{"-q", "-t", "wav", "-a", "POCSAG512", "-a", "POCSAG1200", "-a", "POCSAG2400", "-"},
	},
	"flex": {
		Name:    "FLEX",
		Command: "multimon-ng",
		Args:    []string{"-q", "-t", "wav", "-a", "FLEX", "-"},
	},
	"aprs": {
		Name:    "APRS",
		Command: "multimon-ng",
		Args:    []string{"-q", "-t", "wav", "-a", "AFSK1200", "-A", "-"},
	},
	"dtmf": {
		Name:    "DTMF",
		Command: "multimon-ng",
		Args:    []string{"-q", "-t", "wav", "-a", "DTMF", "-"},
	},
}

// WithLogger sets the logger for the registry and the decoders it starts
func WithLogger(logger *slog.Logger) func(*Registry) {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPollInterval sets how often a growing recording is polled for data
func WithPollInterval(d time.Duration) func(*Registry) {
	return func(r *Registry) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// Registry resolves decoder keys and starts decoders.
type Registry struct {
	specs        map[string]Spec
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRegistry creates a registry over specs. A nil map selects DefaultSpecs.
func NewRegistry(specs map[string]Spec, options ...func(*Registry)) *Registry {
	if specs == nil {
		specs = DefaultSpecs
	}

	r := Registry{
		specs:        specs,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Known reports whether key is in the decoder table.
func (r *Registry) Known(key string) bool {
	_, ok := r.specs[key]
	return ok
}

// Keys returns the sorted decoder keys.
func (r *Registry) Keys() []string {
	return slices.Sorted(maps.Keys(r.specs))
}

// Start runs the decoder for key over the recording the receiver writes to
// recordingPath, started at started. Recordings older than started are never
// followed. The decoder keeps following the file until Stop is called.
func (r *Registry) Start(ctx context.Context, key string, state *spectrum.FrequencyState, recordingPath string, started time.Time) (*Handle, error) {
	spec, ok := r.specs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecoder, key)
	}

	logger := r.logger.With(
		slog.String("decoder", key),
		slog.String("frequency", spectrum.HumanHz(float64(state.FrequencyHz))),
	)

	followCtx, stopFollow := context.WithCancel(ctx)
	input := newFollower(followCtx, recordingPath, state.FrequencyHz, started, r.pollInterval)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Stdin = input
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		stopFollow()
		_ = input.Close()
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	h := Handle{
		key:        key,
		input:      input,
		stopFollow: stopFollow,
		logger:     logger,
	}

	logger.Info("decoder started", slog.String("recording", recordingPath))

	h.g.Go(func() error {
		defer closeQuietly(input)

		err := cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()

		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("%s exited with error: %w", spec.Command, err)
		}
		return nil
	})
	h.g.Go(func() error {
		return h.handleStdout(stdoutR)
	})
	h.g.Go(func() error {
		return h.handleStderr(stderrR)
	})

	return &h, nil
}

// Handle is a running decoder.
type Handle struct {
	key        string
	input      *follower
	stopFollow context.CancelFunc
	g          errgroup.Group

	mu       sync.Mutex
	messages []string

	stopOnce sync.Once
	info     *spectrum.DecoderInfo
	err      error

	logger *slog.Logger
}

// Messages returns the messages decoded so far.
func (h *Handle) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages)
}

// Stop closes the decoder input and waits for the decoder to exit. When Stop
// returns no goroutine of the decoder is running any more.
func (h *Handle) Stop() (*spectrum.DecoderInfo, error) {
	h.stopOnce.Do(func() {
		h.stopFollow()
		h.err = h.g.Wait()

		h.info = &spectrum.DecoderInfo{
			Decoder:       h.key,
			RecordingPath: h.input.Path(),
			Messages:      h.Messages(),
		}
		if h.err != nil {
			h.info.Error = h.err.Error()
		}

		h.logger.Info("decoder stopped", slog.Int("messages", len(h.info.Messages)))
	})

	return h.info, h.err
}

func (h *Handle) handleStdout(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		h.mu.Lock()
		h.messages = append(h.messages, line)
		h.mu.Unlock()

		h.logger.Info("decoded", slog.String("message", line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading decoder output: %w", err)
	}
	return nil
}

func (h *Handle) handleStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.logger.Warn(fmt.Sprintf("%s >> %s", h.key, line))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading decoder errors: %w", err)
	}
	return nil
}

// RecordingPath returns the file name the receiver gives a recording started
// at t while tuned to hz.
func RecordingPath(dir string, t time.Time, hz int64) string {
	return filepath.Join(dir, fmt.Sprintf("gqrx_%s_%d.wav", t.UTC().Format("20060102_150405"), hz))
}

func closeQuietly(cl io.Closer) {
	_ = cl.Close()
}
