package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/radio-scanner/internal/analysis"
	"github.com/roman-kulish/radio-scanner/internal/decoder"
	"github.com/roman-kulish/radio-scanner/internal/metrics"
	"github.com/roman-kulish/radio-scanner/internal/mqtt"
	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/scanner"
	"github.com/roman-kulish/radio-scanner/internal/storage"
	"github.com/roman-kulish/radio-scanner/internal/telemetry"
)

const (
	storageFile     = "scanner.sqlite"
	logFileFormat   = "scan_%s.json"
	fileTimeFormat  = "20060102_150405"
	shutdownTimeout = 5 * time.Second
)

// Run scans the configured range. An interrupted scan is not an error: the
// signals found so far are kept in the scan log.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	m := metrics.New()
	if config.Metrics.Listen != "" {
		stop := serveMetrics(config.Metrics.Listen, m, logger)
		defer stop()
	}

	start := time.Now()
	sessionID := uuid.NewString()
	session := config.Session(sessionID)
	if session.LogPath == "" {
		session.LogPath = fmt.Sprintf(logFileFormat, start.UTC().Format(fileTimeFormat))
	}

	var orchestratorOptions []func(*Orchestrator)
	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error(fmt.Sprintf("failed to close storage: %s", err.Error()))
			}
		}()
		orchestratorOptions = append(orchestratorOptions, WithStore(store), WithMaxBatchSize(config.Storage.MaxBatchSize))
	}

	if config.MQTT.Enabled {
		publisher, err := mqtt.Connect(mqtt.Config{
			Broker:   config.MQTT.Broker,
			Topic:    config.MQTT.Topic,
			ClientID: config.MQTT.ClientID,
			Username: config.MQTT.Username,
			Password: config.MQTT.Password,
		}, mqtt.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to connect publisher: %w", err)
		}
		defer publisher.Close()
		orchestratorOptions = append(orchestratorOptions, WithPublisher(publisher))
	}

	orchestrator := NewOrchestrator(sessionID, logger, orchestratorOptions...)
	if err := orchestrator.Begin(ctx, start, config.Receiver.Address, config); err != nil {
		return err
	}
	defer func() {
		if err := orchestrator.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Error(err.Error())
		}
	}()

	ctrl, err := connect(ctx, config, m, logger)
	if err != nil {
		return err
	}

	options := []func(*scanner.Scanner){
		scanner.WithLogger(logger),
		scanner.WithMetrics(m),
		scanner.WithSinks(orchestrator),
	}
	if config.Analysis.Enabled {
		options = append(options,
			scanner.WithAnalyzer(createAnalyzer(&config.Analysis, logger)),
			scanner.WithLocation(&telemetry.Static{
				Latitude:    config.Analysis.Location.Latitude,
				Longitude:   config.Analysis.Location.Longitude,
				Altitude:    config.Analysis.Location.Altitude,
				Description: config.Analysis.Location.Description,
			}),
		)
	}

	logger.Info("scan session",
		slog.String("id", sessionID),
		slog.String("receiver", config.Receiver.Address),
		slog.String("log", session.LogPath),
	)

	log, err := scanner.New(ctrl, session, options...).Run(ctx)
	if log != nil {
		logger.Info("scan finished",
			slog.Int("signals", len(log.Signals)),
			slog.String("duration", log.Duration),
			slog.String("log", session.LogPath),
		)
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("scan interrupted")
		return nil
	}
	return err
}

// Tune tunes the receiver to a single frequency with the scan settings,
// records and decodes when a decoder is configured, and disconnects.
func Tune(ctx context.Context, config *Config, hz int64, logger *slog.Logger) error {
	ctrl, err := connect(ctx, config, nil, logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	state, err := ctrl.InitFrequency(ctx, receiver.TuneRequest{
		FrequencyHz:    hz,
		Mode:           config.Scan.Mode,
		BandwidthHz:    config.Scan.Bandwidth,
		Squelch:        &config.Scan.Squelch,
		Gains:          &config.Scan.Gains,
		Decoder:        config.Scan.Decoder,
		RecordDir:      config.Scan.RecordDir,
		RecordDuration: config.Scan.RecordDuration.Std(),
	})
	if err != nil {
		return fmt.Errorf("failed to tune: %w", err)
	}

	attrs := []any{
		slog.String("frequency", humanize.Comma(state.FrequencyHz)),
		slog.String("mode", state.Mode.String()),
		slog.Int64("bandwidth", state.BandwidthHz),
	}
	if state.StrengthDBFS != nil {
		attrs = append(attrs, slog.Float64("strength", *state.StrengthDBFS))
	}
	if state.Decoder != nil {
		attrs = append(attrs,
			slog.String("recording", state.Decoder.RecordingPath),
			slog.Int("messages", len(state.Decoder.Messages)),
		)
		for _, msg := range state.Decoder.Messages {
			logger.Info(msg, slog.String("decoder", state.Decoder.Decoder))
		}
	}
	logger.Info("receiver state", attrs...)

	return nil
}

// connect dials the receiver and returns a controller over the connection.
func connect(ctx context.Context, config *Config, m *metrics.Metrics, logger *slog.Logger) (*receiver.Controller, error) {
	rc := &config.Receiver

	client, err := receiver.Dial(ctx, rc.Address,
		receiver.WithClientLogger(logger),
		receiver.WithMetrics(m),
		receiver.WithDialTimeout(rc.DialTimeout.Std()),
		receiver.WithTimeouts(rc.ReplyTimeout.Std(), rc.DrainTimeout.Std(), rc.StrengthDrainTimeout.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return receiver.NewController(client,
		receiver.WithLogger(logger),
		receiver.WithSettleTimes(rc.SettleTime.Std(), rc.ModeSettleTime.Std()),
		receiver.WithDecoders(decoder.NewRegistry(decoder.DefaultSpecs, decoder.WithLogger(logger))),
	), nil
}

func createAnalyzer(config *AnalysisConfig, logger *slog.Logger) analysis.Analyzer {
	return analysis.NewClient(config.Endpoint, config.Model,
		analysis.WithAPIKey(config.APIKey),
		analysis.WithTimeout(config.Timeout.Std()),
		analysis.WithLogger(logger),
	)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dir := defaultDataDirectory
	if config.DataDirectory != "" {
		dir = config.DataDirectory
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return storage.NewSqliteStore(filepath.Join(dir, storageFile)), nil
}

// serveMetrics exposes the collectors on addr until the returned function is
// called.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("metrics server failed: %s", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

