package spectrum

import (
	"fmt"
	"math"
	"strings"
)

const (
	ModeOff       DemodulatorMode = "OFF"
	ModeRaw       DemodulatorMode = "RAW"
	ModeAM        DemodulatorMode = "AM"
	ModeAMSync    DemodulatorMode = "AMS"
	ModeLSB       DemodulatorMode = "LSB"
	ModeUSB       DemodulatorMode = "USB"
	ModeCWL       DemodulatorMode = "CWL"
	ModeCWU       DemodulatorMode = "CWU"
	ModeCWR       DemodulatorMode = "CWR"
	ModeCW        DemodulatorMode = "CW"
	ModeFM        DemodulatorMode = "FM"
	ModeWFM       DemodulatorMode = "WFM"
	ModeWFMStereo DemodulatorMode = "WFM_ST"
	ModeWFMOIRT   DemodulatorMode = "WFM_ST_OIRT"
)

var validModes = map[DemodulatorMode]struct{}{
	ModeOff:       {},
	ModeRaw:       {},
	ModeAM:        {},
	ModeAMSync:    {},
	ModeLSB:       {},
	ModeUSB:       {},
	ModeCWL:       {},
	ModeCWU:       {},
	ModeCWR:       {},
	ModeCW:        {},
	ModeFM:        {},
	ModeWFM:       {},
	ModeWFMStereo: {},
	ModeWFMOIRT:   {},
}

// DemodulatorMode is the demodulation scheme applied by the receiver at the
// tuned frequency.
type DemodulatorMode string

func (m DemodulatorMode) String() string {
	return string(m)
}

// Valid reports whether m is one of the modes understood by the receiver.
func (m DemodulatorMode) Valid() bool {
	_, ok := validModes[m]
	return ok
}

// UnmarshalText reads a mode name in any case. Unknown names are kept as
// given, upper-cased, for Valid to reject.
func (m *DemodulatorMode) UnmarshalText(text []byte) error {
	*m = normalizeMode(string(text))
	return nil
}

// ParseDemodulatorMode parses a case-insensitive mode name.
func ParseDemodulatorMode(s string) (DemodulatorMode, error) {
	m := normalizeMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid demodulator mode: %q", s)
	}
	return m, nil
}

func normalizeMode(s string) DemodulatorMode {
	return DemodulatorMode(strings.ToUpper(strings.TrimSpace(s)))
}

// Gains holds the audio gain and the three receiver gain stages. A nil stage
// means the value was not requested or the backend does not support it.
type Gains struct {
	AF *float64 `json:"af,omitempty" yaml:"af"` // Audio gain in dB
	RF *float64 `json:"rf,omitempty" yaml:"rf"` // RF gain stage
	IF *float64 `json:"if,omitempty" yaml:"if"` // IF gain stage
	BB *float64 `json:"bb,omitempty" yaml:"bb"` // Baseband gain stage
}

// FrequencyState is the receiver state read back after tuning.
type FrequencyState struct {
	FrequencyHz  int64           `json:"freq_hz"`
	Mode         DemodulatorMode `json:"demodulator_mode"`
	BandwidthHz  int64           `json:"bandwidth_hz"`
	SquelchDBFS  *float64        `json:"squelch_dbfs,omitempty"`
	Gains        Gains           `json:"gains"`
	StrengthDBFS *float64        `json:"strength_dbfs,omitempty"` // rounded to 0.1 dB
	Decoder      *DecoderInfo    `json:"decoder_info,omitempty"`
}

// DecoderInfo describes the output of a decoder run while the receiver was
// recording a locked frequency.
type DecoderInfo struct {
	Decoder       string   `json:"decoder"`
	RecordingPath string   `json:"recording_path"`
	Messages      []string `json:"messages,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Signal is a confirmed peak. It is created once and never mutated afterwards.
type Signal struct {
	FrequencyHz  int64           `json:"freq_hz"`
	Mode         DemodulatorMode `json:"demodulator_mode"`
	BandwidthHz  int64           `json:"bandwidth_hz"`
	StrengthDBFS float64         `json:"strength_dbfs"`
	Gains        Gains           `json:"gains"`
	AIAnalysis   *string         `json:"ai_analysis"`
	DecoderInfo  *DecoderInfo    `json:"decoder_info,omitempty"`
}

// NewSignal builds a Signal from the locked receiver state, reporting
// strength rather than the strength read back on lock.
func NewSignal(state *FrequencyState, strength float64) Signal {
	return Signal{
		FrequencyHz:  state.FrequencyHz,
		Mode:         state.Mode,
		BandwidthHz:  state.BandwidthHz,
		StrengthDBFS: RoundDB(strength),
		Gains:        state.Gains,
		DecoderInfo:  state.Decoder,
	}
}

// WithAnalysis returns a copy of s annotated with an analysis text.
func (s Signal) WithAnalysis(text string) Signal {
	s.AIAnalysis = &text
	return s
}

// RoundDB rounds a dB value to one decimal place.
func RoundDB(v float64) float64 {
	return math.Round(v*10) / 10
}
