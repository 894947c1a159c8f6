package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-scanner/internal/decoder"
	"github.com/roman-kulish/radio-scanner/internal/mqtt"
	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/scanner"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

const (
	// Environment variables overriding secrets of the configuration file
	envAnalysisAPIKey = "SCANNER_ANALYSIS_API_KEY"
	envMQTTPassword   = "SCANNER_MQTT_PASSWORD"

	defaultRecordDuration  = 30 * time.Second
	defaultAnalysisTimeout = 60 * time.Second
	defaultAddress         = "127.0.0.1:7356"
	defaultDataDirectory   = "data"
	maxBatchSize           = 100
)

// Duration is a time.Duration written as "2s" or "40ms" in configuration files
type Duration time.Duration

// Std returns the value as time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Frequency is a frequency in Hz written either as an integer, with grouped
// digits ("100,001,000") or with an SI prefix ("433.92 MHz").
type Frequency int64

func (f Frequency) String() string {
	return spectrum.HzToDisplay(int64(f))
}

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	return f.UnmarshalText([]byte(value.Value))
}

func (f *Frequency) UnmarshalText(text []byte) error {
	hz, err := spectrum.DisplayToHz(string(text))
	if err != nil {
		return err
	}
	*f = Frequency(hz)
	return nil
}

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings" json:"-"`
	Receiver ReceiverConfig `yaml:"receiver" json:"receiver"`
	Scan     ScanConfig     `yaml:"scan" json:"scan"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	Storage  StorageConfig  `yaml:"storage" json:"-"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"-"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"-"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
}

// ReceiverConfig holds the receiver address and protocol timing
type ReceiverConfig struct {
	Address              string   `yaml:"address" json:"address"`
	DialTimeout          Duration `yaml:"dialTimeout" json:"dial_timeout"`
	ReplyTimeout         Duration `yaml:"replyTimeout" json:"reply_timeout"`
	DrainTimeout         Duration `yaml:"drainTimeout" json:"drain_timeout"`
	StrengthDrainTimeout Duration `yaml:"strengthDrainTimeout" json:"strength_drain_timeout"`
	SettleTime           Duration `yaml:"settleTime" json:"settle_time"`
	ModeSettleTime       Duration `yaml:"modeSettleTime" json:"mode_settle_time"`
}

// ScanConfig describes the range to scan and what to do on a lock
type ScanConfig struct {
	Start             Frequency                `yaml:"start" json:"start_hz"`
	Target            Frequency                `yaml:"target" json:"target_hz"`
	Precision         int                      `yaml:"precision" json:"precision"`
	Mode              spectrum.DemodulatorMode `yaml:"mode" json:"mode"`
	Bandwidth         int64                    `yaml:"bandwidth" json:"bandwidth_hz"`
	StrengthLock      float64                  `yaml:"strengthLock" json:"strength_lock"`
	Squelch           float64                  `yaml:"squelch" json:"squelch"`
	OverlapProtection bool                     `yaml:"overlapProtection" json:"overlap_protection"`
	Gains             spectrum.Gains           `yaml:"gains" json:"gains"`
	LogPath           string                   `yaml:"logPath" json:"log_path,omitempty"`
	Decoder           string                   `yaml:"decoder" json:"decoder,omitempty"`
	RecordDir         string                   `yaml:"recordDir" json:"record_dir,omitempty"`
	RecordDuration    Duration                 `yaml:"recordDuration" json:"record_duration"`
}

// AnalysisConfig configures the chat completions endpoint used to describe
// locked signals.
type AnalysisConfig struct {
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Endpoint string         `yaml:"endpoint" json:"endpoint,omitempty"`
	Model    string         `yaml:"model" json:"model,omitempty"`
	APIKey   string         `yaml:"apiKey" json:"-"`
	Timeout  Duration       `yaml:"timeout" json:"timeout"`
	Location LocationConfig `yaml:"location" json:"location"`
}

// LocationConfig is the station location passed to the analysis as a hint
type LocationConfig struct {
	Latitude    *float64 `yaml:"latitude" json:"latitude,omitempty"`
	Longitude   *float64 `yaml:"longitude" json:"longitude,omitempty"`
	Altitude    *float64 `yaml:"altitude" json:"altitude,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize"`
}

// MQTTConfig represents the broker settings of the signal publisher
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the configuration used for every unset field.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: slog.LevelInfo},
		Receiver: ReceiverConfig{
			Address:              defaultAddress,
			DialTimeout:          Duration(receiver.DefaultDialTimeout),
			ReplyTimeout:         Duration(receiver.DefaultReplyTimeout),
			DrainTimeout:         Duration(receiver.DefaultDrainTimeout),
			StrengthDrainTimeout: Duration(receiver.DefaultStrengthDrainTimeout),
			SettleTime:           Duration(receiver.DefaultSettleTime),
			ModeSettleTime:       Duration(receiver.DefaultModeSettleTime),
		},
		Scan: ScanConfig{
			Precision:         scanner.DefaultPrecision,
			Mode:              spectrum.ModeWFM,
			Bandwidth:         scanner.DefaultBandwidthHz,
			StrengthLock:      scanner.DefaultStrengthLock,
			Squelch:           scanner.DefaultSquelch,
			OverlapProtection: true,
			RecordDuration:    Duration(defaultRecordDuration),
		},
		Analysis: AnalysisConfig{
			Timeout: Duration(defaultAnalysisTimeout),
		},
		Storage: StorageConfig{
			DataDirectory: defaultDataDirectory,
			MaxBatchSize:  maxBatchSize,
		},
		MQTT: MQTTConfig{
			Topic: mqtt.DefaultTopic,
		},
	}
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	return errors.Join(
		c.Receiver.Validate(),
		c.Scan.Validate(),
		c.Analysis.Validate(),
		c.Storage.Validate(),
		c.MQTT.Validate(),
	)
}

func (c *ReceiverConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("app.ReceiverConfig: %w: address is required", receiver.ErrInvalidConfiguration)
	}
	for name, d := range map[string]Duration{
		"dialTimeout":          c.DialTimeout,
		"replyTimeout":         c.ReplyTimeout,
		"drainTimeout":         c.DrainTimeout,
		"strengthDrainTimeout": c.StrengthDrainTimeout,
		"settleTime":           c.SettleTime,
		"modeSettleTime":       c.ModeSettleTime,
	} {
		if d < 0 {
			return fmt.Errorf("app.ReceiverConfig: %w: %s must not be negative, %s given", receiver.ErrInvalidConfiguration, name, d)
		}
	}
	return nil
}

func (c *ScanConfig) Validate() error {
	if c.Precision < scanner.MinPrecision || c.Precision > scanner.MaxPrecision {
		return fmt.Errorf("app.ScanConfig: %w: precision must be between %d and %d, %d given",
			receiver.ErrInvalidConfiguration, scanner.MinPrecision, scanner.MaxPrecision, c.Precision)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("app.ScanConfig: %w: invalid demodulator mode %q", receiver.ErrInvalidConfiguration, c.Mode)
	}
	if c.Bandwidth <= 0 {
		return fmt.Errorf("app.ScanConfig: %w: bandwidth must be positive, %d given", receiver.ErrInvalidConfiguration, c.Bandwidth)
	}
	if c.Decoder != "" {
		if _, ok := decoder.DefaultSpecs[c.Decoder]; !ok {
			return fmt.Errorf("app.ScanConfig: %w: %w: %q", receiver.ErrInvalidConfiguration, decoder.ErrUnknownDecoder, c.Decoder)
		}
		if c.RecordDir == "" {
			return fmt.Errorf("app.ScanConfig: %w: decoder %q requires a record directory", receiver.ErrInvalidConfiguration, c.Decoder)
		}
	}
	if c.RecordDuration < 0 {
		return fmt.Errorf("app.ScanConfig: %w: record duration must not be negative", receiver.ErrInvalidConfiguration)
	}
	return nil
}

func (c *AnalysisConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" || c.Model == "" {
		return fmt.Errorf("app.AnalysisConfig: %w: endpoint and model are required", receiver.ErrInvalidConfiguration)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("app.AnalysisConfig: %w: timeout must be positive", receiver.ErrInvalidConfiguration)
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if c.Enabled && c.MaxBatchSize <= 0 {
		return fmt.Errorf("app.StorageConfig: %w: maxBatchSize must be positive, %d given", receiver.ErrInvalidConfiguration, c.MaxBatchSize)
	}
	return nil
}

func (c *MQTTConfig) Validate() error {
	if c.Enabled && c.Broker == "" {
		return fmt.Errorf("app.MQTTConfig: %w: broker is required", receiver.ErrInvalidConfiguration)
	}
	return nil
}

// Session converts the scan section into a scanner session.
func (c *Config) Session(id string) scanner.Session {
	return scanner.Session{
		ID:                id,
		StartHz:           int64(c.Scan.Start),
		TargetHz:          int64(c.Scan.Target),
		Precision:         c.Scan.Precision,
		Mode:              c.Scan.Mode,
		BandwidthHz:       c.Scan.Bandwidth,
		StrengthLock:      c.Scan.StrengthLock,
		Squelch:           c.Scan.Squelch,
		OverlapProtection: c.Scan.OverlapProtection,
		Gains:             c.Scan.Gains,
		LogPath:           c.Scan.LogPath,
		Decoder:           c.Scan.Decoder,
		RecordDir:         c.Scan.RecordDir,
		RecordDuration:    c.Scan.RecordDuration.Std(),
	}
}

// LoadConfig reads the configuration file at path. A .env file next to it is
// loaded first and ${VAR} references are expanded from the process
// environment, then from .env. Files with the .ini extension are read as INI,
// everything else as YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	env, err := godotenv.Read(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env file: %w", err)
	}

	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return env[key]
	}

	expanded := os.Expand(string(data), lookup)

	config := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		err = decodeINI([]byte(expanded), config)
	} else {
		err = yaml.Unmarshal([]byte(expanded), config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	if v := lookup(envAnalysisAPIKey); v != "" {
		config.Analysis.APIKey = v
	}
	if v := lookup(envMQTTPassword); v != "" {
		config.MQTT.Password = v
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
