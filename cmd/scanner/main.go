package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/radio-scanner/cmd/scanner/app"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, tune string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file (.yaml or .ini)")
	flag.StringVar(&tune, "tune", "", "Tune a single frequency, e.g. 145.5M or 145,500,000, instead of scanning")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	logLevel.Set(config.Settings.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if tune != "" {
		var hz int64
		if hz, err = spectrum.DisplayToHz(tune); err != nil {
			logger.Error(fmt.Sprintf("invalid frequency: %s", err.Error()))
			os.Exit(1)
		}
		err = app.Tune(ctx, config, hz, logger)
	} else {
		err = app.Run(ctx, config, logger)
	}

	if err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
