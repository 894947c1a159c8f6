package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/decoder"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// Level names understood by the L and l commands
const (
	LevelSquelch  = "SQL"
	LevelAF       = "AF"
	LevelStrength = "STRENGTH"
	LevelRFGain   = "RF_GAIN"
	LevelIFGain   = "IF_GAIN"
	LevelBBGain   = "BB_GAIN"
)

const (
	DefaultSettleTime         = 100 * time.Millisecond
	DefaultModeSettleTime     = 500 * time.Millisecond
	DefaultRecordPollInterval = time.Second
)

// DecoderStarter starts decoders over a receiver recording.
type DecoderStarter interface {
	Known(key string) bool
	Start(ctx context.Context, key string, state *spectrum.FrequencyState, recordingPath string, started time.Time) (*decoder.Handle, error)
}

// TuneRequest describes one InitFrequency call.
type TuneRequest struct {
	FrequencyHz int64
	Mode        spectrum.DemodulatorMode
	BandwidthHz int64
	Squelch     *float64        // set before tuning unless KeepAlive
	Gains       *spectrum.Gains // set after tuning unless KeepAlive

	Decoder        string        // decoder key, empty for none
	RecordDir      string        // directory the receiver writes recordings to
	RecordDuration time.Duration // how long to hold the lock while recording

	SuppressDetails bool // skip the gain, squelch and strength read back
	KeepAlive       bool // reuse mode and squelch, keep the connection open
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithSettleTimes sets the waits after a frequency change and after a mode change
func WithSettleTimes(settle, modeSettle time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.settleTime = settle
		c.modeSettleTime = modeSettle
	}
}

// WithDecoders sets the decoder table used when a TuneRequest names a decoder
func WithDecoders(d DecoderStarter) func(*Controller) {
	return func(c *Controller) {
		c.decoders = d
	}
}

// WithRecordPollInterval sets how often strength is polled while recording
func WithRecordPollInterval(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		if d > 0 {
			c.recordPollInterval = d
		}
	}
}

// Controller issues composite command sequences over a Commander.
type Controller struct {
	cmd      Commander
	decoders DecoderStarter

	settleTime         time.Duration
	modeSettleTime     time.Duration
	recordPollInterval time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewController creates a new Controller with a discard logger
func NewController(cmd Commander, options ...func(*Controller)) *Controller {
	c := Controller{
		cmd:                cmd,
		settleTime:         DefaultSettleTime,
		modeSettleTime:     DefaultModeSettleTime,
		recordPollInterval: DefaultRecordPollInterval,
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:                time.Now,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Close closes the underlying connection.
func (c *Controller) Close() error {
	return c.cmd.Close()
}

// SetFrequency tunes the receiver and waits for it to settle.
func (c *Controller) SetFrequency(ctx context.Context, hz int64) error {
	if _, err := c.cmd.Execute(ctx, fmt.Sprintf("F %d", hz), AckOK); err != nil {
		return err
	}
	return sleep(ctx, c.settleTime)
}

// Frequency returns the tuned frequency in Hz.
func (c *Controller) Frequency(ctx context.Context) (int64, error) {
	reply, err := c.cmd.Execute(ctx, "f", "")
	if err != nil {
		return 0, err
	}
	return reply.Int()
}

// SetMode sets the demodulator and its passband and waits for it to settle.
func (c *Controller) SetMode(ctx context.Context, mode spectrum.DemodulatorMode, passbandHz int64) error {
	if _, err := c.cmd.Execute(ctx, fmt.Sprintf("M %s %d", mode, passbandHz), AckOK); err != nil {
		return err
	}
	return sleep(ctx, c.modeSettleTime)
}

// Mode returns the demodulator and its passband in Hz.
func (c *Controller) Mode(ctx context.Context) (spectrum.DemodulatorMode, int64, error) {
	reply, err := c.cmd.Execute(ctx, "m", "")
	if err != nil {
		return "", 0, err
	}

	fields := reply.Fields()
	if len(fields) < 2 {
		return "", 0, &UnexpectedResponseError{Command: "m", Expected: "<MODE> <passband>", Got: reply.String()}
	}

	mode, err := spectrum.ParseDemodulatorMode(fields[0])
	if err != nil {
		return "", 0, err
	}
	passband, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing passband %q: %w", fields[1], err)
	}

	return mode, passband, nil
}

// SetLevel sets a named level, e.g. SQL or AF.
func (c *Controller) SetLevel(ctx context.Context, name string, v float64) error {
	_, err := c.cmd.Execute(ctx, fmt.Sprintf("L %s %s", name, strconv.FormatFloat(v, 'f', -1, 64)), AckOK)
	return err
}

// Level reads a named level.
func (c *Controller) Level(ctx context.Context, name string) (float64, error) {
	reply, err := c.cmd.Execute(ctx, "l "+name, "")
	if err != nil {
		return 0, err
	}
	return reply.Float()
}

// Strength reads the signal strength in dBFS.
func (c *Controller) Strength(ctx context.Context) (float64, error) {
	return c.Level(ctx, LevelStrength)
}

// SetGains applies the audio gain and the gain stages present in g. Stages
// the backend rejects are reported as a warning and left nil in the result.
func (c *Controller) SetGains(ctx context.Context, g spectrum.Gains) (spectrum.Gains, error) {
	var applied spectrum.Gains

	if g.AF != nil {
		if err := c.SetLevel(ctx, LevelAF, *g.AF); err != nil {
			return applied, fmt.Errorf("setting audio gain: %w", err)
		}
		applied.AF = g.AF
	}

	stages := []struct {
		name  string
		value *float64
		dst   **float64
	}{
		{LevelRFGain, g.RF, &applied.RF},
		{LevelIFGain, g.IF, &applied.IF},
		{LevelBBGain, g.BB, &applied.BB},
	}
	for _, stage := range stages {
		if stage.value == nil {
			continue
		}

		err := c.SetLevel(ctx, stage.name, *stage.value)
		switch {
		case c.unsupported(err, fmt.Sprintf("L %s %s", stage.name, strconv.FormatFloat(*stage.value, 'f', -1, 64))):
		case err != nil:
			return applied, fmt.Errorf("setting %s: %w", stage.name, err)
		default:
			*stage.dst = stage.value
		}
	}

	return applied, nil
}

// Gains reads the audio gain and the gain stages supported by the backend.
func (c *Controller) Gains(ctx context.Context) (spectrum.Gains, error) {
	var g spectrum.Gains

	af, err := c.Level(ctx, LevelAF)
	if err != nil {
		return g, fmt.Errorf("reading audio gain: %w", err)
	}
	g.AF = &af

	stages := []struct {
		name string
		dst  **float64
	}{
		{LevelRFGain, &g.RF},
		{LevelIFGain, &g.IF},
		{LevelBBGain, &g.BB},
	}
	for _, stage := range stages {
		v, err := c.Level(ctx, stage.name)
		switch {
		case c.unsupported(err, "l "+stage.name):
		case err != nil:
			return g, fmt.Errorf("reading %s: %w", stage.name, err)
		default:
			*stage.dst = &v
		}
	}

	return g, nil
}

// Recording reports whether the receiver recorder is on.
func (c *Controller) Recording(ctx context.Context) (bool, error) {
	reply, err := c.cmd.Execute(ctx, "u RECORD", "")
	if err != nil {
		return false, err
	}
	return reply.String() == "1", nil
}

// SetRecording switches the receiver recorder.
func (c *Controller) SetRecording(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}
	_, err := c.cmd.Execute(ctx, fmt.Sprintf("U RECORD %d", state), AckOK)
	return err
}

// InitFrequency tunes the receiver to the requested state and reads it back.
// When a decoder is requested the receiver records while the lock is held and
// the decoder output is attached to the returned state. Recording is always
// switched off before returning, and the connection is closed unless
// KeepAlive is set.
func (c *Controller) InitFrequency(ctx context.Context, req TuneRequest) (state *spectrum.FrequencyState, err error) {
	if err = c.Validate(req); err != nil {
		return nil, err
	}

	if !req.KeepAlive {
		defer func() {
			if cErr := c.cmd.Close(); cErr != nil && err == nil {
				err = fmt.Errorf("closing connection: %w", cErr)
			}
		}()
	}

	if !req.KeepAlive && req.Squelch != nil {
		if err = c.SetLevel(ctx, LevelSquelch, *req.Squelch); err != nil {
			return nil, fmt.Errorf("setting squelch: %w", err)
		}
	}

	if err = c.SetFrequency(ctx, req.FrequencyHz); err != nil {
		return nil, fmt.Errorf("setting frequency: %w", err)
	}

	if !req.KeepAlive {
		if err = c.SetMode(ctx, req.Mode, req.BandwidthHz); err != nil {
			return nil, fmt.Errorf("setting mode: %w", err)
		}
		if req.Gains != nil {
			if _, err = c.SetGains(ctx, *req.Gains); err != nil {
				return nil, err
			}
		}
	}

	state = &spectrum.FrequencyState{}
	if state.Mode, state.BandwidthHz, err = c.Mode(ctx); err != nil {
		return nil, fmt.Errorf("reading mode: %w", err)
	}
	if state.FrequencyHz, err = c.Frequency(ctx); err != nil {
		return nil, fmt.Errorf("reading frequency: %w", err)
	}

	if !req.SuppressDetails {
		if err = c.readDetails(ctx, state); err != nil {
			return nil, err
		}

		c.logger.Info("tuned",
			slog.String("frequency", spectrum.HumanHz(float64(state.FrequencyHz))),
			slog.String("mode", state.Mode.String()),
			slog.Int64("bandwidth", state.BandwidthHz),
		)
	}

	if req.Decoder != "" {
		if state.Decoder, err = c.record(ctx, req, state); err != nil {
			return state, err
		}
	}

	return state, nil
}

func (c *Controller) readDetails(ctx context.Context, state *spectrum.FrequencyState) error {
	gains, err := c.Gains(ctx)
	if err != nil {
		return err
	}
	state.Gains = gains

	strength, err := c.Strength(ctx)
	if err != nil {
		return fmt.Errorf("reading strength: %w", err)
	}
	strength = spectrum.RoundDB(strength)
	state.StrengthDBFS = &strength

	squelch, err := c.Level(ctx, LevelSquelch)
	if err != nil {
		return fmt.Errorf("reading squelch: %w", err)
	}
	state.SquelchDBFS = &squelch

	return nil
}

// record runs the decoder around a receiver recording. The decoder is
// stopped before recording is switched off.
func (c *Controller) record(ctx context.Context, req TuneRequest, state *spectrum.FrequencyState) (info *spectrum.DecoderInfo, err error) {
	on, err := c.Recording(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading recorder state: %w", err)
	}
	if on {
		if err = c.SetRecording(ctx, false); err != nil {
			return nil, fmt.Errorf("disabling recording: %w", err)
		}
	}

	// registered first: the receiver may have started recording even when
	// the acknowledgement is lost
	defer func() {
		if rErr := c.SetRecording(context.WithoutCancel(ctx), false); rErr != nil && err == nil {
			err = fmt.Errorf("disabling recording: %w", rErr)
		}
	}()

	started := c.now()
	if err = c.SetRecording(ctx, true); err != nil {
		return nil, fmt.Errorf("enabling recording: %w", err)
	}

	handle, err := c.decoders.Start(ctx, req.Decoder, state, decoder.RecordingPath(req.RecordDir, started, state.FrequencyHz), started)
	if err != nil {
		return nil, fmt.Errorf("starting decoder %q: %w", req.Decoder, err)
	}

	holdErr := c.hold(ctx, req.RecordDuration)

	info, stopErr := handle.Stop()
	if stopErr != nil {
		c.logger.Warn(fmt.Sprintf("decoder failed: %s", stopErr.Error()), slog.String("decoder", req.Decoder))
	}

	return info, holdErr
}

// hold keeps the lock for d, polling strength on the control connection. It
// ends early without error when ctx is done.
func (c *Controller) hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()

	ticker := time.NewTicker(c.recordPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-ticker.C:
			strength, err := c.Strength(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("polling strength: %w", err)
			}
			c.logger.Debug("recording", slog.Float64("strength", spectrum.RoundDB(strength)))
		}
	}
}

// Validate checks req without sending any command.
func (c *Controller) Validate(req TuneRequest) error {
	if req.FrequencyHz < 0 {
		return invalidConfiguration("negative frequency %d", req.FrequencyHz)
	}
	if !req.Mode.Valid() {
		return invalidConfiguration("invalid demodulator mode %q", req.Mode)
	}
	if req.BandwidthHz <= 0 {
		return invalidConfiguration("bandwidth must be positive, %d given", req.BandwidthHz)
	}

	if req.Decoder == "" {
		return nil
	}
	if c.decoders == nil || !c.decoders.Known(req.Decoder) {
		return invalidConfiguration("unknown decoder %q", req.Decoder)
	}
	stat, err := os.Stat(req.RecordDir)
	if err != nil || !stat.IsDir() {
		return invalidConfiguration("record directory %q does not exist", req.RecordDir)
	}

	return nil
}

// unsupported reports whether err is a rejected gain stage and logs it.
func (c *Controller) unsupported(err error, command string) bool {
	if !errors.Is(err, ErrUnsupportedCapability) {
		return false
	}
	c.logger.Warn("gain stage not supported by the receiver backend", slog.String("command", command))
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
